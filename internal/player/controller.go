// ABOUTME: Playback controller state machine
// ABOUTME: Serialises commands, derives position from a reference timestamp and publishes status events
package player

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
	"github.com/Resonate-Protocol/resonate-proxy/internal/events"
	"github.com/rs/zerolog"
)

// MetadataSource resolves song metadata. catalog.Service satisfies it.
type MetadataSource interface {
	Song(ctx context.Context, id string) (catalog.Song, error)
}

// StreamCanceller aborts in-flight stream sessions for a song.
type StreamCanceller interface {
	Cancel(songID string) int
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithCanceller sets the stream canceller invoked on Stop.
func WithCanceller(sc StreamCanceller) Option {
	return func(c *Controller) { c.canceller = sc }
}

// Controller owns the player status. All methods are safe for concurrent use.
type Controller struct {
	mu      sync.Mutex
	state   State
	song    *catalog.Song
	refPos  float64
	refTime time.Time
	volume  float64

	// generation increments on Play and Seek; TrackEnded fires once per generation.
	generation uint64
	endedGen   uint64

	meta      MetadataSource
	events    *events.Broadcaster
	canceller StreamCanceller
	clock     Clock
	logger    zerolog.Logger
}

// New creates a stopped controller.
func New(meta MetadataSource, b *events.Broadcaster, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		state:  Stopped,
		volume: DefaultVolume,
		meta:   meta,
		events: b,
		clock:  systemClock{},
		logger: logger.With().Str("component", "player").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) durationLocked() float64 {
	if c.song == nil {
		return 0
	}
	return c.song.Duration
}

// positionLocked derives the current position. Songs of unknown duration
// are only clamped below.
func (c *Controller) positionLocked() float64 {
	pos := c.refPos
	if c.state == Playing {
		pos += c.clock.Now().Sub(c.refTime).Seconds()
	}
	if d := c.durationLocked(); d > 0 {
		return clamp(pos, 0, d)
	}
	return math.Max(pos, 0)
}

func (c *Controller) statusLocked() Status {
	st := Status{
		State:    c.state,
		Position: c.positionLocked(),
		Duration: c.durationLocked(),
		Volume:   c.volume,
	}
	if c.song != nil {
		song := *c.song
		st.CurrentSong = &song
	}
	return st
}

// publishLocked emits one status_update for the transition just applied.
func (c *Controller) publishLocked() Status {
	st := c.statusLocked()
	if c.events != nil {
		c.events.Publish(events.Event{Type: events.TypeStatusUpdate, Payload: st})
	}
	return st
}

func (c *Controller) conflict(op, command string) error {
	return apperr.E(apperr.StateConflict, op, "cannot %s while %s", command, c.state)
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Play starts song from position 0. It is accepted in every state. Missing
// title or duration is resolved through the metadata source first; if that
// fails the player is left untouched.
func (c *Controller) Play(ctx context.Context, song catalog.Song) (Status, error) {
	const op = "player.Play"
	if song.ID == "" {
		return Status{}, apperr.E(apperr.InvalidArgument, op, "song id is required")
	}

	if (song.Title == "" || song.Duration <= 0) && c.meta != nil {
		full, err := c.meta.Song(ctx, song.ID)
		if err != nil {
			return Status{}, err
		}
		song = full
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Playing
	c.song = &song
	c.refPos = 0
	c.refTime = c.clock.Now()
	c.generation++

	c.logger.Info().
		Str("song_id", song.ID).
		Str("title", song.Title).
		Float64("duration", song.Duration).
		Msg("play")
	return c.publishLocked(), nil
}

// Pause freezes the derived position.
func (c *Controller) Pause() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Playing {
		return Status{}, c.conflict("player.Pause", "pause")
	}
	c.refPos = c.positionLocked()
	c.refTime = c.clock.Now()
	c.state = Paused

	c.logger.Info().Float64("position", c.refPos).Msg("pause")
	return c.publishLocked(), nil
}

// Resume continues from the frozen position.
func (c *Controller) Resume() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Paused {
		return Status{}, c.conflict("player.Resume", "resume")
	}
	c.refTime = c.clock.Now()
	c.state = Playing

	c.logger.Info().Float64("position", c.refPos).Msg("resume")
	return c.publishLocked(), nil
}

// Stop clears the current song and cancels its stream sessions.
func (c *Controller) Stop() (Status, error) {
	c.mu.Lock()
	if c.state == Stopped {
		err := c.conflict("player.Stop", "stop")
		c.mu.Unlock()
		return Status{}, err
	}

	songID := c.song.ID
	c.state = Stopped
	c.song = nil
	c.refPos = 0
	c.refTime = c.clock.Now()
	st := c.publishLocked()
	c.mu.Unlock()

	c.logger.Info().Str("song_id", songID).Msg("stop")
	if c.canceller != nil {
		if n := c.canceller.Cancel(songID); n > 0 {
			c.logger.Debug().Str("song_id", songID).Int("sessions", n).Msg("cancelled stream sessions")
		}
	}
	return st, nil
}

// Seek moves to positionMS, clamped to the song.
func (c *Controller) Seek(positionMS int64) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Stopped {
		return Status{}, c.conflict("player.Seek", "seek")
	}
	pos := math.Max(float64(positionMS)/1000, 0)
	if d := c.durationLocked(); d > 0 {
		pos = math.Min(pos, d)
	}
	c.refPos = pos
	c.refTime = c.clock.Now()
	c.generation++

	c.logger.Info().Float64("position", pos).Msg("seek")
	return c.publishLocked(), nil
}

// SetVolume sets the volume, clamped to [0, 1]. Accepted in every state.
func (c *Controller) SetVolume(level float64) (Status, error) {
	if math.IsNaN(level) {
		return Status{}, apperr.E(apperr.InvalidArgument, "player.SetVolume", "volume must be a number")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.volume = clamp(level, 0, 1)
	c.logger.Debug().Float64("volume", c.volume).Msg("volume")
	return c.publishLocked(), nil
}

// Subscribe registers an event subscriber seeded with the current status.
// No transition can land between the snapshot and the registration.
func (c *Controller) Subscribe(name string) *events.Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.Subscribe(name, events.Event{
		Type:    events.TypeStatusUpdate,
		Payload: c.statusLocked(),
	})
}

// TrackEnded reports that a stream reached the natural end of songID. One
// track_ended event is published per play generation of the current song;
// other calls are ignored. Advancing to another song is up to the caller.
func (c *Controller) TrackEnded(songID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Stopped || c.song == nil || c.song.ID != songID || c.endedGen == c.generation {
		return false
	}
	c.endedGen = c.generation

	c.logger.Info().Str("song_id", songID).Msg("track ended")
	if c.events != nil {
		c.events.Publish(events.Event{
			Type:    events.TypeTrackEnded,
			Payload: events.TrackEnded{SongID: songID},
		})
	}
	return true
}
