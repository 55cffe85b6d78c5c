// ABOUTME: HTTP and WebSocket gateway for the proxy
// ABOUTME: Translates REST calls, audio stream requests and WebSocket commands into core operations
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
	"github.com/Resonate-Protocol/resonate-proxy/internal/events"
	"github.com/Resonate-Protocol/resonate-proxy/internal/player"
	"github.com/Resonate-Protocol/resonate-proxy/internal/protocol"
	"github.com/Resonate-Protocol/resonate-proxy/internal/stream"
	"github.com/Resonate-Protocol/resonate-proxy/internal/version"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 64 * 1024

	// retryAfter is sent with errors the upstream may recover from, in seconds.
	retryAfter = "5"
)

// Config holds gateway configuration
type Config struct {
	Addr string
	Name string
}

// Server is the gateway. Handlers only translate; all state lives in the
// controller, the engine and the catalog.
type Server struct {
	config   Config
	serverID string

	catalog catalog.Service
	player  *player.Controller
	engine  *stream.Engine
	events  *events.Broadcaster

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
	logger     zerolog.Logger

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a gateway and registers its routes.
func New(config Config, svc catalog.Service, ctrl *player.Controller, engine *stream.Engine, b *events.Broadcaster, logger zerolog.Logger) *Server {
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		catalog:  svc,
		player:   ctrl,
		engine:   engine,
		events:   b,
		mux:      http.NewServeMux(),
		logger:   logger.With().Str("component", "gateway").Logger(),
		ready:    make(chan struct{}),
		stopChan: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Local network deployments: browsers on any origin may subscribe.
			if origin := r.Header.Get("Origin"); origin != "" {
				s.logger.Debug().Str("origin", origin).Msg("accepting websocket origin")
			}
			return true
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/artists", s.handleArtists)
	s.mux.HandleFunc("GET /api/songs/{id}", s.handleSong)

	s.mux.HandleFunc("POST /api/play/{id}", s.handlePlay)
	s.mux.HandleFunc("POST /api/pause", s.handleCommand(protocol.ActionPause))
	s.mux.HandleFunc("POST /api/resume", s.handleCommand(protocol.ActionResume))
	s.mux.HandleFunc("POST /api/stop", s.handleCommand(protocol.ActionStop))
	s.mux.HandleFunc("POST /api/seek", s.handleSeek)
	s.mux.HandleFunc("POST /api/volume", s.handleVolume)

	// GET also matches HEAD.
	s.mux.HandleFunc("GET /stream/{id}", s.handleStream)

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()
	close(s.ready)

	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("name", s.config.Name).
		Str("server_id", s.serverID).
		Msg("gateway listening")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.logger.Info().Msg("gateway shutting down")
	case err := <-errChan:
		s.logger.Error().Err(err).Msg("http server error")
		serverErr = err
	}

	// Reject new websocket connections
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	// Stream bodies would keep Shutdown waiting until the listener leaves.
	s.engine.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("http server shutdown error")
	}

	s.wg.Wait()
	s.logger.Info().Msg("gateway stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShutdown
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.UpstreamUnavailable, apperr.UpstreamReadFailure:
		return http.StatusBadGateway
	case apperr.RangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case apperr.UnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apperr.StateConflict:
		return http.StatusConflict
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorBody(err error) *protocol.ErrorBody {
	kind := apperr.KindOf(err)
	if kind == apperr.Unknown {
		kind = apperr.InternalPipelineFailure
	}
	return &protocol.ErrorBody{Kind: string(kind), Message: apperr.Message(err)}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeOK(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, protocol.Envelope{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody(err)
	status := statusFor(apperr.Kind(body.Kind))

	ev := s.logger.Debug()
	if status >= 500 {
		ev = s.logger.Warn()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")

	if apperr.Kind(body.Kind).Transient() {
		w.Header().Set("Retry-After", retryAfter)
	}
	s.writeJSON(w, status, protocol.Envelope{Success: false, Error: body})
}

// decodeBody reads an optional JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.E(apperr.InvalidArgument, "gateway.decode", "invalid JSON body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, protocol.Health{
		Status:       "ok",
		Product:      version.Product,
		Manufacturer: version.Manufacturer,
		Version:      version.Version,
		ServerID:     s.serverID,
		Subscribers:  s.events.Count(),
		Streams:      s.engine.Sessions(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, s.player.Status())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	songs, err := s.catalog.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, songs)
}

func (s *Server) handleArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := s.catalog.ListArtists(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, artists)
}

func (s *Server) handleSong(w http.ResponseWriter, r *http.Request) {
	song, err := s.catalog.Song(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, song)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req protocol.PlayRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, protocol.Command{Action: protocol.ActionPlay, SongID: r.PathValue("id"), Song: req.Song})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req protocol.SeekRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, protocol.Command{Action: protocol.ActionSeek, PositionMS: req.PositionMS})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req protocol.VolumeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, protocol.Command{Action: protocol.ActionVolume, Volume: req.Volume})
}

func (s *Server) handleCommand(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, r, protocol.Command{Action: action})
	}
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, cmd protocol.Command) {
	st, err := s.execute(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, st)
}

// execute runs a player command and returns the resulting status.
func (s *Server) execute(ctx context.Context, cmd protocol.Command) (player.Status, error) {
	if err := cmd.Validate(); err != nil {
		return player.Status{}, apperr.Wrap(apperr.InvalidArgument, "gateway.command", err)
	}

	switch cmd.Action {
	case protocol.ActionPlay:
		song := catalog.Song{ID: cmd.SongID}
		if cmd.Song != nil {
			song = *cmd.Song
			if cmd.SongID != "" {
				song.ID = cmd.SongID
			}
		}
		return s.player.Play(ctx, song)
	case protocol.ActionPause:
		return s.player.Pause()
	case protocol.ActionResume:
		return s.player.Resume()
	case protocol.ActionStop:
		return s.player.Stop()
	case protocol.ActionSeek:
		return s.player.Seek(*cmd.PositionMS)
	case protocol.ActionVolume:
		return s.player.SetVolume(*cmd.Volume)
	}
	return s.player.Status(), nil
}
