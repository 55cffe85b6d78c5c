// ABOUTME: A subscriber's bounded event queue
// ABOUTME: Fixed-capacity ring that overwrites the oldest event when full
package events

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the subscriber is closed and drained.
var ErrClosed = errors.New("events: subscriber closed")

// Subscriber receives events in publish order. It is drained by a single
// consumer goroutine.
type Subscriber struct {
	ID   string
	Name string

	b *Broadcaster

	mu      sync.Mutex
	buf     []Event
	head    int
	count   int
	dropped uint64

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(id, name string, capacity int, b *Broadcaster) *Subscriber {
	return &Subscriber{
		ID:    id,
		Name:  name,
		b:     b,
		buf:   make([]Event, capacity),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push appends ev, overwriting the oldest event if full. It reports whether
// an event was dropped.
func (s *Subscriber) push(ev Event) bool {
	s.mu.Lock()
	idx := (s.head + s.count) % len(s.buf)
	s.buf[idx] = ev
	dropped := false
	if s.count == len(s.buf) {
		s.head = (s.head + 1) % len(s.buf)
		s.dropped++
		dropped = true
	} else {
		s.count++
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return Event{}, false
	}
	ev := s.buf[s.head]
	s.buf[s.head] = Event{}
	s.head = (s.head + 1) % len(s.buf)
	s.count--
	return ev, true
}

// Next blocks until an event is queued, ctx is done or the subscriber is
// closed. Queued events are still delivered after Close.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := s.pop(); ok {
			return ev, nil
		}
		select {
		case <-s.done:
			if ev, ok := s.pop(); ok {
				return ev, nil
			}
			return Event{}, ErrClosed
		default:
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.done:
		case <-s.ready:
		}
	}
}

// TryNext returns the oldest queued event without blocking.
func (s *Subscriber) TryNext() (Event, bool) {
	return s.pop()
}

// C is signalled whenever an event is queued.
func (s *Subscriber) C() <-chan struct{} {
	return s.ready
}

// Done is closed when the subscriber is closed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Len returns the number of queued events.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close removes the subscriber from its broadcaster. Other subscribers are
// not notified.
func (s *Subscriber) Close() {
	s.b.remove(s.ID)
	s.shutdown()
}

func (s *Subscriber) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}
