// ABOUTME: Playback state, status snapshot and clock types
// ABOUTME: Status is the single observable view of what is playing
package player

import (
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
)

// State is the playback state.
type State string

const (
	Stopped State = "stopped"
	Playing State = "playing"
	Paused  State = "paused"
)

// DefaultVolume is the volume at startup.
const DefaultVolume = 0.8

// Status is a consistent snapshot of the player.
type Status struct {
	State       State         `json:"state"`
	CurrentSong *catalog.Song `json:"current_song"`
	Position    float64       `json:"position"` // seconds
	Duration    float64       `json:"duration"` // seconds
	Volume      float64       `json:"volume"`
}

// Clock supplies monotonic time for derived positions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
