package wschat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// heartbeatTolerance is how many incoming periods may pass in silence before
// the broker is considered gone.
const heartbeatTolerance = 2

// formatHeartbeat renders the heart-beat header value "cx,cy" in milliseconds.
func formatHeartbeat(outgoing, incoming time.Duration) string {
	return fmt.Sprintf("%d,%d", outgoing.Milliseconds(), incoming.Milliseconds())
}

func parseHeartbeat(v string) (x, y time.Duration, ok bool) {
	a, b, found := strings.Cut(strings.TrimSpace(v), ",")
	if !found {
		return 0, 0, false
	}
	ax, errA := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	by, errB := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if errA != nil || errB != nil || ax < 0 || by < 0 {
		return 0, 0, false
	}
	return time.Duration(ax) * time.Millisecond, time.Duration(by) * time.Millisecond, true
}

// negotiateHeartbeat applies the STOMP rules to our CONNECT value and the
// broker's CONNECTED value. A zero result disables that direction.
func negotiateHeartbeat(client, server string) (outgoing, incoming time.Duration) {
	cx, cy, ok := parseHeartbeat(client)
	if !ok {
		return 0, 0
	}
	sx, sy, ok := parseHeartbeat(server)
	if !ok {
		return 0, 0
	}
	if cx > 0 && sy > 0 {
		outgoing = lo.Max([]time.Duration{cx, sy})
	}
	if cy > 0 && sx > 0 {
		incoming = lo.Max([]time.Duration{cy, sx})
	}
	return outgoing, incoming
}

// heartbeater writes an EOL to the transport every interval until stopped or
// until the transport closes.
type heartbeater struct {
	transport    Transport
	interval     time.Duration
	writeTimeout time.Duration
	logger       Logger

	stopOnce sync.Once
	stopC    chan struct{}
}

func startHeartbeater(logger Logger, t Transport, interval, writeTimeout time.Duration) *heartbeater {
	h := &heartbeater{
		transport:    t,
		interval:     interval,
		writeTimeout: writeTimeout,
		logger:       logger.WithField("subtype", "heartbeater"),
		stopC:        make(chan struct{}),
	}
	if interval > 0 {
		go h.run()
	}
	return h
}

func (h *heartbeater) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	beat := NewFrameMessage(Frame{})
	for {
		select {
		case <-h.stopC:
			return
		case <-h.transport.CloseChan():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
			if err := h.transport.Write(ctx, beat); err != nil {
				h.logger.Debugf("cannot send heart-beat: %s", err)
			}
			cancel()
		}
	}
}

func (h *heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopC) })
}
