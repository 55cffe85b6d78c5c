// ABOUTME: WebSocket event feed and command channel
// ABOUTME: Sends a status snapshot then ordered events; accepts player commands
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/events"
	"github.com/Resonate-Protocol/resonate-proxy/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	resultQueue  = 16
)

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(r.Context(), conn, r.RemoteAddr)
}

// handleConnection runs one subscriber until either side disconnects
func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, remote string) {
	defer conn.Close()

	sub := s.player.Subscribe(remote)
	defer sub.Close()

	log := s.logger.With().Str("subscriber", sub.ID).Str("remote", remote).Logger()
	log.Info().Msg("subscriber connected")

	results := make(chan protocol.CommandResult, resultQueue)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		// Unblocks the read loop when the writer gives up first.
		defer conn.Close()
		s.clientWriter(conn, sub, results, done)
	}()

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg protocol.InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			break
		}

		res := s.handleInbound(ctx, msg)
		select {
		case results <- res:
		case <-writerDone:
		}
	}

	close(done)
	<-writerDone
	log.Info().Uint64("dropped", sub.Dropped()).Msg("subscriber disconnected")
}

// handleInbound executes one client message and builds its reply.
func (s *Server) handleInbound(ctx context.Context, msg protocol.InboundMessage) protocol.CommandResult {
	if msg.Type != protocol.TypeCommand {
		return protocol.CommandResult{Error: &protocol.ErrorBody{
			Kind:    string(apperr.InvalidArgument),
			Message: "unsupported message type " + msg.Type,
		}}
	}

	var cmd protocol.Command
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		return protocol.CommandResult{Error: &protocol.ErrorBody{
			Kind:    string(apperr.InvalidArgument),
			Message: "invalid command payload",
		}}
	}

	res := protocol.CommandResult{ID: cmd.ID, Action: cmd.Action}
	st, err := s.execute(ctx, cmd)
	if err != nil {
		res.Error = errorBody(err)
		return res
	}
	res.Success = true
	res.Data = st
	return res
}

// clientWriter is the only goroutine that writes to conn.
func (s *Server) clientWriter(conn *websocket.Conn, sub *events.Subscriber, results <-chan protocol.CommandResult, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	first := true
	for {
		select {
		case <-sub.C():
			for {
				ev, ok := sub.TryNext()
				if !ok {
					break
				}
				typ := ev.Type
				if first {
					typ = protocol.TypeSnapshot
					first = false
				}
				if !s.write(conn, protocol.Message{Type: typ, Seq: ev.Seq, Payload: ev.Payload}) {
					return
				}
			}

		case res := <-results:
			if !s.write(conn, protocol.Message{Type: protocol.TypeCommandResult, Payload: res}) {
				return
			}

		case <-s.stopChan:
			s.goodbye(conn)
			return

		case <-sub.Done():
			// Broadcaster closed: flush what is queued, then say goodbye.
			for {
				ev, ok := sub.TryNext()
				if !ok {
					break
				}
				if !s.write(conn, protocol.Message{Type: ev.Type, Seq: ev.Seq, Payload: ev.Payload}) {
					return
				}
			}
			s.goodbye(conn)
			return

		case <-done:
			return

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) goodbye(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}

func (s *Server) write(conn *websocket.Conn, msg protocol.Message) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("websocket write failed")
		return false
	}
	return true
}
