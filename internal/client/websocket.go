// ABOUTME: WebSocket client for the proxy's event feed
// ABOUTME: Receives the status snapshot and ordered events, and sends player commands
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/events"
	"github.com/Resonate-Protocol/resonate-proxy/internal/player"
	"github.com/Resonate-Protocol/resonate-proxy/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event is one decoded feed message. Exactly one payload field is set.
type Event struct {
	Type   string
	Seq    uint64
	Status *player.Status
	Ended  *events.TrackEnded
}

type wireMessage struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Feed is a live event subscription
type Feed struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	// Snapshot is the status at subscription time
	Snapshot player.Status

	// Message channels
	Events  chan Event
	Results chan protocol.CommandResult

	writeMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Watch subscribes to the proxy's event feed. It returns once the snapshot
// has arrived.
func (c *Client) Watch(ctx context.Context, logger zerolog.Logger) (*Feed, error) {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = ""

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	fctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		conn:    conn,
		logger:  logger.With().Str("component", "feed").Logger(),
		Events:  make(chan Event, 64),
		Results: make(chan protocol.CommandResult, 8),
		ctx:     fctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// Wait for the snapshot (with timeout)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first wireMessage
	if err := conn.ReadJSON(&first); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if first.Type != protocol.TypeSnapshot {
		f.Close()
		return nil, fmt.Errorf("expected snapshot, got %s", first.Type)
	}
	if err := json.Unmarshal(first.Payload, &f.Snapshot); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	go f.readMessages()
	return f, nil
}

// readMessages reads and routes incoming messages
func (f *Feed) readMessages() {
	defer close(f.done)
	defer close(f.Events)
	defer f.Close()

	for {
		var msg wireMessage
		if err := f.conn.ReadJSON(&msg); err != nil {
			if f.ctx.Err() == nil {
				f.logger.Debug().Err(err).Msg("feed read error")
			}
			return
		}

		switch msg.Type {
		case protocol.TypeStatusUpdate:
			var st player.Status
			if err := json.Unmarshal(msg.Payload, &st); err != nil {
				f.logger.Warn().Err(err).Msg("bad status payload")
				continue
			}
			f.emit(Event{Type: msg.Type, Seq: msg.Seq, Status: &st})

		case protocol.TypeTrackEnded:
			var ended events.TrackEnded
			if err := json.Unmarshal(msg.Payload, &ended); err != nil {
				f.logger.Warn().Err(err).Msg("bad track_ended payload")
				continue
			}
			f.emit(Event{Type: msg.Type, Seq: msg.Seq, Ended: &ended})

		case protocol.TypeCommandResult:
			var res protocol.CommandResult
			if err := json.Unmarshal(msg.Payload, &res); err != nil {
				f.logger.Warn().Err(err).Msg("bad command result")
				continue
			}
			select {
			case f.Results <- res:
			case <-f.ctx.Done():
				return
			}

		default:
			f.logger.Debug().Str("type", msg.Type).Msg("ignoring message")
		}
	}
}

func (f *Feed) emit(ev Event) {
	select {
	case f.Events <- ev:
	case <-f.ctx.Done():
	}
}

// Send issues a command. The reply arrives on Results with the returned ID.
func (f *Feed) Send(cmd protocol.Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.ctx.Err() != nil {
		return "", fmt.Errorf("feed closed")
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := f.conn.WriteJSON(protocol.Message{Type: protocol.TypeCommand, Payload: cmd}); err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	return cmd.ID, nil
}

// Done is closed once the feed has stopped reading.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Close closes the connection
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		f.cancel()
		f.writeMu.Lock()
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		f.writeMu.Unlock()
		f.conn.Close()
	})
}
