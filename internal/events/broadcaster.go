// ABOUTME: Fan-out of player events to any number of subscribers
// ABOUTME: Publishing never blocks; slow subscribers lose their oldest events
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types
const (
	TypeStatusUpdate = "status_update"
	TypeTrackEnded   = "track_ended"
)

// DefaultQueueSize is used when a broadcaster is built with a non-positive size.
const DefaultQueueSize = 64

// Event is a single notification. Seq and Time are stamped by the broadcaster.
type Event struct {
	Type    string    `json:"type"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// TrackEnded is the payload of a track_ended event.
type TrackEnded struct {
	SongID string `json:"song_id"`
}

// Broadcaster owns the subscriber registry.
type Broadcaster struct {
	mu        sync.Mutex
	subs      map[string]*Subscriber
	seq       uint64
	queueSize int
	closed    bool
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a broadcaster whose subscribers buffer at most queueSize events.
func New(queueSize int, logger zerolog.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
		now:       time.Now,
		logger:    logger.With().Str("component", "events").Logger(),
	}
}

// Publish stamps ev and enqueues it for every live subscriber, returning the
// stamped event. Subscribers see events in Publish order.
func (b *Broadcaster) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	ev.Time = b.now()
	if b.closed {
		return ev
	}

	for _, s := range b.subs {
		if s.push(ev) {
			b.logger.Debug().
				Str("subscriber_id", s.ID).
				Uint64("dropped", s.Dropped()).
				Msg("subscriber queue full, dropped oldest event")
		}
	}
	return ev
}

// Subscribe registers a new subscriber whose queue starts with snapshot.
// The snapshot carries the sequence number of the last published event.
func (b *Broadcaster) Subscribe(name string, snapshot Event) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := newSubscriber(uuid.New().String(), name, b.queueSize, b)
	snapshot.Seq = b.seq
	snapshot.Time = b.now()
	s.push(snapshot)

	if b.closed {
		s.shutdown()
		return s
	}
	b.subs[s.ID] = s

	b.logger.Debug().
		Str("subscriber_id", s.ID).
		Str("name", name).
		Int("subscribers", len(b.subs)).
		Msg("subscriber added")
	return s
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	b.logger.Debug().
		Str("subscriber_id", id).
		Int("subscribers", len(b.subs)).
		Msg("subscriber removed")
}

// Count returns the number of registered subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches every subscriber. Later publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}
