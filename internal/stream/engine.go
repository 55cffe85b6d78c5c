// ABOUTME: Streaming engine: opens passthrough or transcoded stream sessions
// ABOUTME: Tracks live sessions so they can be cancelled per song
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
	"github.com/Resonate-Protocol/resonate-proxy/internal/config"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CodecAuto in a Profile selects the configured target codec.
const CodecAuto = "auto"

// Profile is a requested transcode target. Bitrate 0 uses the configured bitrate.
type Profile struct {
	Codec   string
	Bitrate int // bits per second
}

// Request describes one stream to open.
type Request struct {
	SongID  string
	Range   *Range
	Profile *Profile
}

// SettingsSource provides the current transcode settings. It is read on
// every Open.
type SettingsSource interface {
	Transcode() config.Transcode
}

// EndNotifier is told when a stream reaches the natural end of a song.
type EndNotifier interface {
	TrackEnded(songID string) bool
}

// Stream is an open session. Body must be closed.
type Stream struct {
	ID            string
	SongID        string
	Mime          string
	ContentLength int64 // bytes Body yields, -1 when unknown
	Total         int64 // length of the whole resource, -1 when unknown
	Range         *catalog.ByteRange
	Offset        int64 // output offset of the first byte of Body
	Transcoded    bool
	Body          io.ReadCloser
}

// Partial reports whether the stream is a byte range of a known resource.
func (s *Stream) Partial() bool {
	return s.Range != nil
}

// ContentRange renders the Content-Range header for partial streams.
func (s *Stream) ContentRange() string {
	if s.Range == nil {
		return ""
	}
	total := "*"
	if s.Total >= 0 {
		total = fmt.Sprint(s.Total)
	}
	return fmt.Sprintf("bytes %d-%d/%s", s.Range.Start, s.Range.End, total)
}

// Engine opens stream sessions against a catalog service.
type Engine struct {
	svc      catalog.Service
	settings SettingsSource

	mu       sync.Mutex
	sessions map[string]*session
	notifier EndNotifier

	logger zerolog.Logger
}

// NewEngine creates an engine. A nil settings source disables transcoding.
func NewEngine(svc catalog.Service, settings SettingsSource, logger zerolog.Logger) *Engine {
	if settings == nil {
		settings = config.Static{}
	}
	return &Engine{
		svc:      svc,
		settings: settings,
		sessions: make(map[string]*session),
		logger:   logger.With().Str("component", "stream").Logger(),
	}
}

// SetEndNotifier registers the receiver of natural end-of-song notifications.
func (e *Engine) SetEndNotifier(n EndNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// Sessions returns the number of open sessions.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Cancel aborts every open session of songID and returns how many there were.
// Their bodies fail on the next Read.
func (e *Engine) Cancel(songID string) int {
	e.mu.Lock()
	var victims []*session
	for _, s := range e.sessions {
		if s.songID == songID {
			victims = append(victims, s)
		}
	}
	e.mu.Unlock()

	for _, s := range victims {
		s.abort()
	}
	if len(victims) > 0 {
		e.logger.Info().Str("song_id", songID).Int("sessions", len(victims)).Msg("cancelled stream sessions")
	}
	return len(victims)
}

// CancelAll aborts every open session.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	victims := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		victims = append(victims, s)
	}
	e.mu.Unlock()

	for _, s := range victims {
		s.abort()
	}
}

// sourceCodec guesses the codec of a song from its metadata.
func sourceCodec(song catalog.Song) string {
	if c := audio.CodecFromMime(song.Suffix); c != "" {
		return c
	}
	return audio.CodecFromMime(song.ContentType)
}

// target decides the output codec and bitrate, or "" for passthrough.
func (e *Engine) target(req Request, source string) (string, int) {
	settings := e.settings.Transcode()
	if req.Profile == nil || !settings.Enabled {
		return "", 0
	}

	codec := strings.ToLower(strings.TrimSpace(req.Profile.Codec))
	if codec == "" || codec == CodecAuto {
		codec = settings.Codec
	}
	if codec == "" || codec == source || codec == "raw" {
		return "", 0
	}

	bitrate := req.Profile.Bitrate
	if bitrate <= 0 {
		bitrate = settings.Bitrate
	}
	return codec, bitrate
}

// Open starts a stream session. Errors that can be known before any byte is
// delivered are returned here; the first output frame of a transcode is
// produced before Open returns.
func (e *Engine) Open(ctx context.Context, req Request) (*Stream, error) {
	song, err := e.svc.Song(ctx, req.SongID)
	if err != nil {
		return nil, err
	}

	source := sourceCodec(song)
	codec, bitrate := e.target(req, source)

	s := e.newSession(ctx, song.ID)
	var stream *Stream
	if codec == "" {
		stream, err = e.openPassthrough(s, song, req.Range)
	} else {
		stream, err = e.openTranscode(s, song, source, codec, bitrate, req.Range)
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	stream.ID = s.id
	stream.SongID = song.ID

	e.logger.Info().
		Str("session_id", s.id).
		Str("song_id", song.ID).
		Str("source", source).
		Str("codec", codec).
		Bool("partial", stream.Partial()).
		Int64("offset", stream.Offset).
		Msg("stream opened")
	return stream, nil
}

func (e *Engine) openPassthrough(s *session, song catalog.Song, req *Range) (*Stream, error) {
	var rng *catalog.ByteRange
	if req != nil {
		switch {
		case song.Size > 0:
			resolved, err := req.resolve(song.Size)
			if err != nil {
				return nil, err
			}
			rng = &resolved
		case req.Suffix > 0:
			return nil, apperr.E(apperr.RangeNotSatisfiable, "stream.Open", "suffix range needs a known content length")
		default:
			r := req.ByteRange
			rng = &r
		}
	}

	raw, err := e.svc.FetchRawStream(s.ctx, song.ID, rng)
	if err != nil {
		return nil, err
	}
	s.setUpstream(raw.Body)

	mime := raw.Mime
	if mime == "" || strings.Contains(mime, "octet-stream") {
		if c := sourceCodec(song); c != "" {
			mime = audio.MimeType(c)
		}
	}

	stream := &Stream{
		Mime:          mime,
		ContentLength: raw.Range.Length(),
		Total:         raw.ContentLength,
		Offset:        raw.Range.Start,
		Body:          &passthroughBody{s: s, r: raw.Body, remaining: raw.Range.Length(), toEnd: playsToEnd(req, raw)},
	}
	if rng != nil {
		resolved := raw.Range
		stream.Range = &resolved
	}
	return stream, nil
}

// playsToEnd reports whether delivering raw completely counts as the track
// ending. Suffix and bounded ranges are tag reads or chunked fetches, so only
// whole-file and open-ended requests that reach the last byte qualify.
func playsToEnd(req *Range, raw *catalog.RawStream) bool {
	if req != nil && (req.Suffix > 0 || req.End >= 0) {
		return false
	}
	return raw.ContentLength < 0 || raw.Range.End == raw.ContentLength-1
}

// passthroughBody delivers source bytes unchanged and checks that the
// upstream delivered every promised byte.
type passthroughBody struct {
	s         *session
	r         io.Reader
	remaining int64 // -1 when unknown
	toEnd     bool
}

func (b *passthroughBody) Read(p []byte) (int, error) {
	if b.remaining == 0 {
		b.finish()
		return 0, io.EOF
	}
	if b.remaining > 0 && int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}

	n, err := b.r.Read(p)
	if b.remaining > 0 {
		b.remaining -= int64(n)
	}
	b.s.addBytes(n)

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if b.remaining > 0 {
			return n, apperr.E(apperr.UpstreamReadFailure, "stream.Read", "upstream ended %d bytes early", b.remaining)
		}
		b.remaining = 0
		if n > 0 {
			return n, nil
		}
		b.finish()
		return 0, io.EOF
	}
	return n, b.s.readError(err)
}

func (b *passthroughBody) finish() {
	if b.toEnd {
		b.s.ended()
	}
}

func (b *passthroughBody) Close() error {
	return b.s.Close()
}

// session is the per-stream state shared by the body and the registry.
type session struct {
	id      string
	songID  string
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	engine  *Engine

	mu       sync.Mutex
	upstream io.Closer
	closers  []io.Closer
	bytes    int64

	endOnce   sync.Once
	closeOnce sync.Once
}

func (e *Engine) newSession(ctx context.Context, songID string) *session {
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:      uuid.New().String(),
		songID:  songID,
		ctx:     sctx,
		cancel:  cancel,
		started: time.Now(),
		engine:  e,
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()
	return s
}

func (s *session) setUpstream(c io.Closer) {
	s.mu.Lock()
	s.upstream = c
	s.mu.Unlock()
}

// onClose registers resources released when the session closes.
func (s *session) onClose(c io.Closer) {
	s.mu.Lock()
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

func (s *session) addBytes(n int) {
	s.mu.Lock()
	s.bytes += int64(n)
	s.mu.Unlock()
}

// abort cancels the session and closes the upstream body so blocked reads
// return promptly.
func (s *session) abort() {
	s.cancel()
	s.mu.Lock()
	up := s.upstream
	s.mu.Unlock()
	if up != nil {
		up.Close()
	}
}

// readError classifies a failed upstream read.
func (s *session) readError(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if apperr.KindOf(err) != apperr.Unknown {
		return err
	}
	return apperr.Wrap(apperr.UpstreamReadFailure, "stream.Read", err)
}

// ended reports natural end of content once.
func (s *session) ended() {
	s.endOnce.Do(func() {
		s.engine.mu.Lock()
		n := s.engine.notifier
		s.engine.mu.Unlock()

		s.engine.logger.Debug().Str("session_id", s.id).Str("song_id", s.songID).Msg("stream reached end of song")
		if n != nil {
			n.TrackEnded(s.songID)
		}
	})
}

// Close releases the session. It is safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.abort()

		s.mu.Lock()
		closers := s.closers
		bytes := s.bytes
		s.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}

		s.engine.mu.Lock()
		delete(s.engine.sessions, s.id)
		s.engine.mu.Unlock()

		s.engine.logger.Debug().
			Str("session_id", s.id).
			Str("song_id", s.songID).
			Int64("bytes", bytes).
			Dur("elapsed", time.Since(s.started)).
			Msg("stream closed")
	})
	return nil
}
