package wschat

import (
	"context"
	"slices"
	"sync"
)

// EventSink is the ordered, append-only log of chat events received while
// joined. Readers either take snapshots or subscribe for pushes.
type EventSink struct {
	mu      sync.RWMutex
	events  []ChatEvent
	changed chan struct{} // closed and replaced on every append
}

func NewEventSink() *EventSink {
	return &EventSink{changed: make(chan struct{})}
}

// Append adds e at the end of the log and wakes up subscribers.
func (s *EventSink) Append(e ChatEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	changed := s.changed
	s.changed = make(chan struct{})
	s.mu.Unlock()

	close(changed)
}

// Snapshot returns a copy of the events received so far, in arrival order.
func (s *EventSink) Snapshot() []ChatEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *EventSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// since returns the events from index next on, plus a channel closed on the next append.
func (s *EventSink) since(next int) ([]ChatEvent, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Elements below len are never rewritten, so sharing the backing array is safe.
	return s.events[next:len(s.events):len(s.events)], s.changed
}

// Subscribe delivers every event of the sink, starting from the first one,
// exactly once and in order. The channel is closed when ctx is done.
func (s *EventSink) Subscribe(ctx context.Context) <-chan ChatEvent {
	out := make(chan ChatEvent)

	go func() {
		defer close(out)

		next := 0
		for {
			events, changed := s.since(next)
			for _, e := range events {
				select {
				case out <- e:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(events) > 0 {
				continue
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
