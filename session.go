package wschat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Session owns the logical connection to the broker for one identity. It
// performs the STOMP handshake, joins the public topic, publishes chat events
// and feeds inbound events into its EventSink. It never reconnects by itself:
// a failure leaves it in StateFailed, see Client for supervision.
type Session struct {
	config  Config
	logger  Logger
	factory TransportFactory
	emitter *EventEmitterCallback[EventType, StateChange]

	mu         sync.Mutex
	state      SessionState
	identity   string
	sink       *EventSink
	link       *link
	attempt    uint64
	cancelJoin context.CancelFunc
}

// link is everything bound to one established transport.
type link struct {
	transport      Transport
	recv           chan Message
	subscriptionID string
	heartbeat      *heartbeater
	incoming       time.Duration

	receiptID string
	receiptC  chan struct{}
}

func NewSession(config Config, factory TransportFactory, logger Logger) *Session {
	if logger == nil {
		logger = NopLogger()
	}
	return &Session{
		config:  config,
		factory: factory,
		logger:  logger.WithField("type", "session"),
		emitter: NewEventEmitter[EventType, StateChange](),
		sink:    NewEventSink(),
	}
}

// On registers fn for the given event type.
func (s *Session) On(event EventType, fn func(StateChange)) {
	s.emitter.On(event, fn)
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Events returns the sink of the current session. A new sink is created
// when a session starts from StateDisconnected.
func (s *Session) Events() *EventSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// ValidateIdentity checks a display name can be used to join.
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return errors.Wrap(ErrInvalidIdentity, "display name is blank")
	}
	if err := validate.Var(identity, "required,max=128"); err != nil {
		return errors.Wrap(ErrInvalidIdentity, err.Error())
	}
	return nil
}

// Join connects to the broker and joins the public topic as identity. It
// blocks until the session is Joined or the attempt failed. Joining again
// after a failure keeps the event history; joining after Disconnected
// starts with an empty sink.
func (s *Session) Join(ctx context.Context, identity string) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	switch s.state {
	case StateDisconnected:
		s.sink = NewEventSink()
	case StateFailed:
		if identity != s.identity {
			s.mu.Unlock()
			return errors.Wrapf(ErrIdentityMismatch, "session belongs to %q", s.identity)
		}
	default:
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrAlreadyJoined, "session is %s", state)
	}
	s.identity = identity
	s.attempt++
	attempt := s.attempt
	joinCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	s.cancelJoin = cancel
	change := s.transition(StateConnecting, nil)
	s.mu.Unlock()
	s.emit(change)

	defer cancel()

	l, err := s.connect(joinCtx, identity)

	s.mu.Lock()
	if s.attempt != attempt || s.state != StateConnecting {
		// Leave won the race.
		s.mu.Unlock()
		if l != nil {
			l.close()
		}
		return errors.Wrap(ErrTerminated, "join aborted by leave")
	}
	s.cancelJoin = nil
	if err != nil {
		err = asTransportError(err)
		change = s.transition(StateFailed, err)
		s.mu.Unlock()
		s.logger.Errorf("cannot join as %q: %s", identity, err)
		s.emit(change)
		return err
	}
	s.link = l
	change = s.transition(StateJoined, nil)
	s.mu.Unlock()

	s.logger.Infof("joined %s as %q", s.config.Topic, identity)
	go s.dispatch(l)
	s.emit(change)
	return nil
}

// connect opens a transport and runs CONNECT, SUBSCRIBE and the JOIN publish.
func (s *Session) connect(ctx context.Context, identity string) (*link, error) {
	l := &link{recv: make(chan Message, s.config.RecvBuffer)}
	l.transport = s.factory(l.recv)

	if err := l.transport.Open(ctx); err != nil {
		l.transport.Close()
		return nil, err
	}

	clientBeat := formatHeartbeat(s.config.HeartbeatOutgoing, s.config.HeartbeatIncoming)
	connect := NewFrame(CommandConnect,
		HeaderAcceptVersion, supportedVersions,
		HeaderHost, s.config.Host,
		HeaderHeartBeat, clientBeat,
	)
	if err := s.write(ctx, l, connect); err != nil {
		l.transport.Close()
		return nil, err
	}

	connected, err := s.awaitConnected(ctx, l)
	if err != nil {
		l.transport.Close()
		return nil, err
	}
	version, _ := connected.Header(HeaderVersion)
	s.logger.Debugf("stomp session established, version %q", version)

	serverBeat, _ := connected.Header(HeaderHeartBeat)
	outgoing, incoming := negotiateHeartbeat(clientBeat, serverBeat)
	l.incoming = incoming

	// Subscribe before announcing ourselves so the broadcast JOIN comes back to us.
	l.subscriptionID = "sub-" + uuid.NewString()
	subscribe := NewFrame(CommandSubscribe,
		HeaderID, l.subscriptionID,
		HeaderDestination, s.config.Topic,
	)
	if err := s.write(ctx, l, subscribe); err != nil {
		l.transport.Close()
		return nil, err
	}

	if err := s.publish(ctx, l, s.config.JoinDestination, ChatEvent{Sender: identity, Kind: KindJoin}); err != nil {
		l.transport.Close()
		return nil, err
	}

	l.heartbeat = startHeartbeater(s.logger, l.transport, outgoing, s.config.WriteTimeout)
	return l, nil
}

func (s *Session) awaitConnected(ctx context.Context, l *link) (Frame, error) {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Frame{}, ErrHandshakeTimeout
			}
			return Frame{}, ctx.Err()
		case <-l.transport.CloseChan():
			return Frame{}, errors.Wrap(ErrConnectionClosed, "closed during handshake")
		case m := <-l.recv:
			if !m.Type().IsData() {
				continue
			}
			f, err := ParseFrame(m.Data())
			if err != nil {
				return Frame{}, err
			}
			switch f.Command {
			case "":
				continue
			case CommandConnected:
				return f, nil
			case CommandError:
				return Frame{}, newBrokerError(f)
			default:
				return Frame{}, errors.Wrapf(ErrMalformedFrame, "unexpected %s during handshake", f.Command)
			}
		}
	}
}

// Send publishes a CHAT event with content. It fails with ErrNotJoined
// unless the session is Joined; nothing is queued.
func (s *Session) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.state != StateJoined {
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrNotJoined, "session is %s", state)
	}
	l := s.link
	identity := s.identity
	s.mu.Unlock()

	if err := s.publish(ctx, l, s.config.SendDestination, ChatEvent{Sender: identity, Content: content, Kind: KindChat}); err != nil {
		if errors.Is(err, ErrMalformedFrame) {
			return err
		}
		return asTransportError(err)
	}
	return nil
}

// Leave ends the session. From Joined it publishes a LEAVE event, sends
// DISCONNECT and waits at most CloseTimeout for the receipt before closing
// the transport. It always ends in StateDisconnected.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateDisconnecting:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.cancelJoin()
		s.cancelJoin = nil
		changes := []StateChange{
			s.transition(StateDisconnecting, nil),
			s.transition(StateDisconnected, nil),
		}
		s.mu.Unlock()
		s.emit(changes...)
		return nil
	case StateFailed:
		change := s.transition(StateDisconnected, nil)
		s.mu.Unlock()
		s.emit(change)
		return nil
	}

	l := s.link
	identity := s.identity
	receiptC := make(chan struct{})
	l.receiptID = "disconnect-" + uuid.NewString()
	l.receiptC = receiptC
	change := s.transition(StateDisconnecting, nil)
	s.mu.Unlock()
	s.emit(change)

	ctx, cancel := context.WithTimeout(ctx, s.config.CloseTimeout)
	defer cancel()

	if err := s.publish(ctx, l, s.config.SendDestination, ChatEvent{Sender: identity, Kind: KindLeave}); err != nil {
		s.logger.Warnf("cannot publish leave: %s", err)
	}
	if err := s.write(ctx, l, NewFrame(CommandDisconnect, HeaderReceipt, l.receiptID)); err != nil {
		s.logger.Warnf("cannot send disconnect: %s", err)
	} else {
		select {
		case <-receiptC:
		case <-l.transport.CloseChan():
		case <-ctx.Done():
			s.logger.Warnf("no disconnect receipt: %s", ctx.Err())
		}
	}
	l.close()

	s.mu.Lock()
	s.link = nil
	change = s.transition(StateDisconnected, nil)
	s.mu.Unlock()

	s.logger.Infof("%q left %s", identity, s.config.Topic)
	s.emit(change)
	return nil
}

// dispatch processes inbound messages of l one at a time, in arrival order,
// until the transport closes.
func (s *Session) dispatch(l *link) {
	var (
		watchdog <-chan time.Time
		lastRecv = time.Now()
	)
	if l.incoming > 0 {
		ticker := time.NewTicker(l.incoming)
		defer ticker.Stop()
		watchdog = ticker.C
	}

	for {
		select {
		case m := <-l.recv:
			lastRecv = time.Now()
			s.handle(l, m)
		case <-watchdog:
			if silence := time.Since(lastRecv); silence > heartbeatTolerance*l.incoming {
				s.fail(l, errors.Wrapf(ErrHeartbeatTimeout, "nothing received for %s", silence))
				l.close()
				return
			}
		case <-l.transport.CloseChan():
		drain:
			for {
				select {
				case m := <-l.recv:
					s.handle(l, m)
				default:
					break drain
				}
			}
			err := l.transport.CloseErr()
			if err == nil || errors.Is(err, ErrTerminated) {
				err = ErrConnectionClosed
			}
			s.fail(l, err)
			l.close()
			return
		}
	}
}

func (s *Session) handle(l *link, m Message) {
	if !m.Type().IsData() {
		return
	}

	f, err := ParseFrame(m.Data())
	if err != nil {
		s.logger.Warnf("dropping unparsable frame: %s", err)
		return
	}

	switch f.Command {
	case "":
		// heart-beat
	case CommandMessage:
		if sub, _ := f.Header(HeaderSubscription); sub != "" && sub != l.subscriptionID {
			s.logger.Debugf("ignoring message for subscription %q", sub)
			return
		}
		event, err := DecodeEvent(f.Body)
		if err != nil {
			s.logger.Warnf("dropping message: %s", err)
			return
		}
		s.logger.Debugf("<= [MESSAGE] %s", event)
		s.append(l, event)
	case CommandReceipt:
		id, _ := f.Header(HeaderReceiptID)
		s.mu.Lock()
		if l.receiptC != nil && id == l.receiptID {
			close(l.receiptC)
			l.receiptC = nil
		}
		s.mu.Unlock()
	case CommandError:
		err := newBrokerError(f)
		s.logger.Errorf("broker reported an error: %s", err)
		s.fail(l, err)
		l.transport.Close()
	default:
		s.logger.Debugf("ignoring %s frame", f.Command)
	}
}

// append adds event to the sink if l is still the live link.
func (s *Session) append(l *link, event ChatEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != l || s.state != StateJoined {
		return
	}
	s.sink.Append(event)
}

// fail moves a Joined session to Failed when l is still the live link.
func (s *Session) fail(l *link, err error) {
	err = asTransportError(err)

	s.mu.Lock()
	if s.link != l || s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	s.link = nil
	change := s.transition(StateFailed, err)
	s.mu.Unlock()

	s.logger.Errorf("connection lost: %s", err)
	s.emit(change)
}

func (s *Session) publish(ctx context.Context, l *link, destination string, event ChatEvent) error {
	body, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	f := NewFrame(CommandSend,
		HeaderDestination, destination,
		HeaderContentType, "application/json",
	)
	f.Body = body
	return s.write(ctx, l, f)
}

func (s *Session) write(ctx context.Context, l *link, f Frame) error {
	s.logger.Debugf("=> [%s]", f)
	return l.transport.Write(ctx, NewFrameMessage(f))
}

// transition must be called with mu held.
func (s *Session) transition(to SessionState, err error) StateChange {
	change := StateChange{From: s.state, To: to, Err: err}
	s.state = to
	return change
}

func (s *Session) emit(changes ...StateChange) {
	for _, c := range changes {
		s.logger.Debugf("state %s -> %s", c.From, c.To)
		s.emitter.Emit(EventStateChange, c)
		if t := c.eventType(); t != "" {
			s.emitter.Emit(t, c)
		}
	}
}

func (l *link) close() {
	if l.heartbeat != nil {
		l.heartbeat.Stop()
	}
	l.transport.Close()
}
