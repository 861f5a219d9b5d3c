package wschat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeBroker is an in-memory STOMP broker. Every transport it hands out
// answers CONNECT, SUBSCRIBE, SEND and DISCONNECT like a simple broker with a
// single topic would.
type fakeBroker struct {
	mu sync.Mutex

	openErr         error
	connectError    string // when set, CONNECT is answered with an ERROR frame
	silentConnect   bool   // when set, CONNECT is never answered
	silentReceipt   bool
	serverHeartbeat string
	// echo lists the destinations broadcast back to the topic; nil echoes all.
	echo map[string]bool

	opens      int
	transports []*fakeTransport
	written    []Frame
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{serverHeartbeat: "0,0"}
}

func (b *fakeBroker) factory(recv chan<- Message) Transport {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := &fakeTransport{broker: b, recv: recv, closeC: make(CloseChan)}
	b.transports = append(b.transports, t)
	return t
}

func (b *fakeBroker) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func (b *fakeBroker) last() *fakeTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transports[len(b.transports)-1]
}

// sent returns the SEND frames written to destination, decoded.
func (b *fakeBroker) sent(destination string) []ChatEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []ChatEvent
	for _, f := range b.written {
		if dst, _ := f.Header(HeaderDestination); f.Command != CommandSend || dst != destination {
			continue
		}
		e, err := DecodeEvent(f.Body)
		if err == nil {
			events = append(events, e)
		}
	}
	return events
}

func (b *fakeBroker) commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cmds []string
	for _, f := range b.written {
		if !f.IsHeartbeat() {
			cmds = append(cmds, f.Command)
		}
	}
	return cmds
}

type fakeTransport struct {
	broker *fakeBroker
	recv   chan<- Message

	mu             sync.Mutex
	closeC         CloseChan
	closed         bool
	closeErr       error
	subscriptionID string
}

func (t *fakeTransport) Open(ctx context.Context) error {
	t.broker.mu.Lock()
	defer t.broker.mu.Unlock()

	t.broker.opens++
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.broker.openErr
}

func (t *fakeTransport) Write(ctx context.Context, m Message) error {
	if t.isClosed() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := ParseFrame(m.Data())
	if err != nil {
		return err
	}

	b := t.broker
	b.mu.Lock()
	b.written = append(b.written, f)
	connectError, silentConnect, silentReceipt := b.connectError, b.silentConnect, b.silentReceipt
	heartbeat := b.serverHeartbeat
	echo := b.echo
	b.mu.Unlock()

	switch f.Command {
	case CommandConnect:
		if silentConnect {
			return nil
		}
		if connectError != "" {
			errFrame := NewFrame(CommandError, HeaderMessage, connectError)
			errFrame.Body = []byte("details")
			t.deliver(errFrame)
			return nil
		}
		t.deliver(NewFrame(CommandConnected, HeaderVersion, "1.2", HeaderHeartBeat, heartbeat))
	case CommandSubscribe:
		id, _ := f.Header(HeaderID)
		t.mu.Lock()
		t.subscriptionID = id
		t.mu.Unlock()
	case CommandSend:
		dst, _ := f.Header(HeaderDestination)
		if echo == nil || echo[dst] {
			t.publish(f.Body)
		}
	case CommandDisconnect:
		if receipt, ok := f.Header(HeaderReceipt); ok && !silentReceipt {
			t.deliver(NewFrame(CommandReceipt, HeaderReceiptID, receipt))
		}
	}
	return nil
}

// publish delivers body as a MESSAGE on the topic subscription.
func (t *fakeTransport) publish(body []byte) {
	t.mu.Lock()
	id := t.subscriptionID
	t.mu.Unlock()

	msg := NewFrame(CommandMessage,
		HeaderDestination, "/topic/public",
		HeaderSubscription, id,
		HeaderContentType, "application/json",
	)
	msg.Body = body
	t.deliver(msg)
}

func (t *fakeTransport) deliver(f Frame) {
	t.deliverRaw(f.Marshal())
}

func (t *fakeTransport) deliverRaw(data []byte) {
	select {
	case t.recv <- NewTextMessage(data):
	case <-t.closeC:
	}
}

// fail simulates the connection dropping.
func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.closeErr = err
	close(t.closeC)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) CloseChan() CloseChan { return t.closeC }

func (t *fakeTransport) CloseErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeErr
}

func (t *fakeTransport) Close() { t.fail(ErrTerminated) }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.CloseTimeout = 500 * time.Millisecond
	cfg.HeartbeatOutgoing = 0
	cfg.HeartbeatIncoming = 0
	return cfg
}

func waitForState(t *testing.T, state func() SessionState, expected SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return state() == expected }, 2*time.Second, 5*time.Millisecond,
		"state never became %s", expected)
}

func waitForEvents(t *testing.T, sink *EventSink, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return sink.Len() >= n }, 2*time.Second, 5*time.Millisecond,
		"sink never reached %d events", n)
}

var errBoom = errors.New("boom")
