// ABOUTME: Gateway wire message definitions
// ABOUTME: REST envelopes, request bodies and WebSocket message types
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
)

// WebSocket message types
const (
	TypeSnapshot      = "snapshot"
	TypeStatusUpdate  = "status_update"
	TypeTrackEnded    = "track_ended"
	TypeCommand       = "command"
	TypeCommandResult = "command/result"
	TypeError         = "error"
)

// Command actions
const (
	ActionPlay   = "play"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
	ActionSeek   = "seek"
	ActionVolume = "volume"
	ActionStatus = "status"
)

// Message is the top-level wrapper for all WebSocket messages
type Message struct {
	Type    string      `json:"type"`
	Seq     uint64      `json:"seq,omitempty"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is a client message whose payload is decoded by type
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a player command sent over the WebSocket
type Command struct {
	ID         string        `json:"id,omitempty"`
	Action     string        `json:"action"`
	SongID     string        `json:"song_id,omitempty"`
	Song       *catalog.Song `json:"song,omitempty"`
	PositionMS *int64        `json:"position_ms,omitempty"`
	Volume     *float64      `json:"volume,omitempty"`
}

// Validate checks that the fields an action needs are present
func (c Command) Validate() error {
	switch c.Action {
	case ActionPlay:
		if c.SongID == "" && (c.Song == nil || c.Song.ID == "") {
			return fmt.Errorf("play needs song_id")
		}
	case ActionSeek:
		if c.PositionMS == nil {
			return fmt.Errorf("seek needs position_ms")
		}
	case ActionVolume:
		if c.Volume == nil {
			return fmt.Errorf("volume needs volume")
		}
	case ActionPause, ActionResume, ActionStop, ActionStatus:
	case "":
		return fmt.Errorf("missing action")
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
	return nil
}

// CommandResult answers a Command
type CommandResult struct {
	ID      string      `json:"id,omitempty"`
	Action  string      `json:"action"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// Envelope wraps every REST response
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is a structured error: kind plus message
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PlayRequest is the optional body of POST /api/play/{id}
type PlayRequest struct {
	Song *catalog.Song `json:"song,omitempty"`
}

// SeekRequest is the body of POST /api/seek
type SeekRequest struct {
	PositionMS *int64 `json:"position_ms"`
}

// VolumeRequest is the body of POST /api/volume
type VolumeRequest struct {
	Volume *float64 `json:"volume"`
}

// Health is returned by GET /health
type Health struct {
	Status       string `json:"status"`
	Product      string `json:"product"`
	Manufacturer string `json:"manufacturer"`
	Version      string `json:"version"`
	ServerID     string `json:"server_id"`
	Subscribers  int    `json:"subscribers"`
	Streams      int    `json:"streams"`
}
