// ABOUTME: Tests for the HTTP gateway
// ABOUTME: Exercises REST commands, stream responses and error mapping over httptest
package gateway

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
	"github.com/Resonate-Protocol/resonate-proxy/internal/config"
	"github.com/Resonate-Protocol/resonate-proxy/internal/events"
	"github.com/Resonate-Protocol/resonate-proxy/internal/player"
	"github.com/Resonate-Protocol/resonate-proxy/internal/protocol"
	"github.com/Resonate-Protocol/resonate-proxy/internal/stream"
	"github.com/Resonate-Protocol/resonate-proxy/internal/version"
	"github.com/rs/zerolog"
)

type fixture struct {
	srv    *Server
	http   *httptest.Server
	mem    *catalog.Memory
	player *player.Controller
	engine *stream.Engine
	pcm    []byte
	mp3    []byte
}

// monoWAV returns a 16-bit mono WAV file and its PCM payload.
func monoWAV(sampleRate, samples int) ([]byte, []byte) {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16((i*53)%16000-8000)))
	}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), pcm
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := catalog.NewMemory()
	mp3 := make([]byte, 1000)
	for i := range mp3 {
		mp3[i] = byte(i % 251)
	}
	mem.Add(catalog.Song{ID: "s1", Title: "One", Artist: "A", Duration: 180, Suffix: "mp3"}, mp3)
	wav, pcm := monoWAV(8000, 20000)
	mem.Add(catalog.Song{ID: "w", Title: "Tone", Artist: "B", Duration: 2.5, Suffix: "wav"}, wav)

	b := events.New(16, zerolog.Nop())
	engine := stream.NewEngine(mem, config.Static{Enabled: true, Codec: "pcm"}, zerolog.Nop())
	ctrl := player.New(mem, b, zerolog.Nop(), player.WithCanceller(engine))
	engine.SetEndNotifier(ctrl)

	srv := New(Config{Addr: "127.0.0.1:0", Name: "test"}, mem, ctrl, engine, b, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		b.Close()
	})

	return &fixture{srv: srv, http: ts, mem: mem, player: ctrl, engine: engine, pcm: pcm, mp3: mp3}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *protocol.ErrorBody `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	return env
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/health", "", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var h protocol.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if h.Status != "ok" || h.ServerID == "" || h.Product == "" {
		t.Errorf("unexpected health %+v", h)
	}
	if h.Manufacturer != version.Manufacturer {
		t.Errorf("expected manufacturer %q, got %q", version.Manufacturer, h.Manufacturer)
	}
}

func TestRetryAfterOnTransientErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		kind  apperr.Kind
		retry bool
	}{
		{apperr.UpstreamUnavailable, true},
		{apperr.UpstreamReadFailure, true},
		{apperr.NotFound, false},
		{apperr.InvalidArgument, false},
		{apperr.InternalPipelineFailure, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil)
			f.srv.writeError(w, r, apperr.E(tt.kind, "test", "failed"))

			got := w.Header().Get("Retry-After")
			if tt.retry && got != retryAfter {
				t.Errorf("expected Retry-After %q, got %q", retryAfter, got)
			}
			if !tt.retry && got != "" {
				t.Errorf("expected no Retry-After, got %q", got)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.NotFound, http.StatusNotFound},
		{apperr.UpstreamUnavailable, http.StatusBadGateway},
		{apperr.UpstreamReadFailure, http.StatusBadGateway},
		{apperr.RangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable},
		{apperr.UnsupportedFormat, http.StatusUnsupportedMediaType},
		{apperr.StateConflict, http.StatusConflict},
		{apperr.InvalidArgument, http.StatusBadRequest},
		{apperr.InternalPipelineFailure, http.StatusInternalServerError},
		{apperr.Unknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.kind); got != tt.want {
			t.Errorf("statusFor(%s): expected %d, got %d", tt.kind, tt.want, got)
		}
	}
}

func TestCatalogRoutes(t *testing.T) {
	f := newFixture(t)

	env := decodeEnvelope(t, f.do(t, http.MethodGet, "/api/search?q=tone", "", nil))
	var songs []catalog.Song
	if err := json.Unmarshal(env.Data, &songs); err != nil {
		t.Fatalf("decode songs: %v", err)
	}
	if !env.Success || len(songs) != 1 || songs[0].ID != "w" {
		t.Errorf("expected one search hit for w, got %+v", songs)
	}

	env = decodeEnvelope(t, f.do(t, http.MethodGet, "/api/artists", "", nil))
	var artists []catalog.Artist
	if err := json.Unmarshal(env.Data, &artists); err != nil {
		t.Fatalf("decode artists: %v", err)
	}
	if len(artists) != 2 {
		t.Errorf("expected 2 artists, got %d", len(artists))
	}

	resp := f.do(t, http.MethodGet, "/api/songs/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	env = decodeEnvelope(t, resp)
	if env.Success || env.Error == nil || env.Error.Kind != string(apperr.NotFound) {
		t.Errorf("expected not_found error body, got %+v", env.Error)
	}
}

func TestPlaybackCommands(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantState  player.State
		wantKind   apperr.Kind
	}{
		{"pause while stopped", "/api/pause", "", http.StatusConflict, "", apperr.StateConflict},
		{"play", "/api/play/s1", "", http.StatusOK, player.Playing, ""},
		{"resume while playing", "/api/resume", "", http.StatusConflict, "", apperr.StateConflict},
		{"pause", "/api/pause", "", http.StatusOK, player.Paused, ""},
		{"seek", "/api/seek", `{"position_ms": 30000}`, http.StatusOK, player.Paused, ""},
		{"seek without position", "/api/seek", `{}`, http.StatusBadRequest, "", apperr.InvalidArgument},
		{"volume", "/api/volume", `{"volume": 0.25}`, http.StatusOK, player.Paused, ""},
		{"volume bad json", "/api/volume", `{"volume":`, http.StatusBadRequest, "", apperr.InvalidArgument},
		{"resume", "/api/resume", "", http.StatusOK, player.Playing, ""},
		{"play unknown", "/api/play/nope", "", http.StatusNotFound, "", apperr.NotFound},
		{"stop", "/api/stop", "", http.StatusOK, player.Stopped, ""},
		{"stop again", "/api/stop", "", http.StatusConflict, "", apperr.StateConflict},
	}

	for _, tt := range tests {
		resp := f.do(t, http.MethodPost, tt.path, tt.body, nil)
		if resp.StatusCode != tt.wantStatus {
			t.Errorf("%s: expected status %d, got %d", tt.name, tt.wantStatus, resp.StatusCode)
		}
		env := decodeEnvelope(t, resp)
		if tt.wantKind != "" {
			if env.Success || env.Error == nil || env.Error.Kind != string(tt.wantKind) {
				t.Errorf("%s: expected error kind %s, got %+v", tt.name, tt.wantKind, env.Error)
			}
			continue
		}
		var st player.Status
		if err := json.Unmarshal(env.Data, &st); err != nil {
			t.Fatalf("%s: decode status: %v", tt.name, err)
		}
		if st.State != tt.wantState {
			t.Errorf("%s: expected state %s, got %s", tt.name, tt.wantState, st.State)
		}
	}

	st := f.player.Status()
	if st.Volume != 0.25 {
		t.Errorf("expected volume 0.25, got %v", st.Volume)
	}
}

func TestPlayWithSongBody(t *testing.T) {
	f := newFixture(t)
	body := `{"song": {"id": "ignored", "title": "Given", "artist": "Client", "duration": 42}}`
	env := decodeEnvelope(t, f.do(t, http.MethodPost, "/api/play/s1", body, nil))
	if !env.Success {
		t.Fatalf("expected success, got %+v", env.Error)
	}
	st := f.player.Status()
	if st.CurrentSong == nil || st.CurrentSong.ID != "s1" || st.CurrentSong.Title != "Given" {
		t.Errorf("expected client metadata under path id, got %+v", st.CurrentSong)
	}
	if st.Duration != 42 {
		t.Errorf("expected duration 42, got %v", st.Duration)
	}
}

func TestStreamPassthrough(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name        string
		method      string
		rangeHeader string
		wantStatus  int
		wantRange   string
		wantBody    []byte
		wantLength  string
	}{
		{"full", http.MethodGet, "", http.StatusOK, "", f.mp3, "1000"},
		{"slice", http.MethodGet, "bytes=10-19", http.StatusPartialContent, "bytes 10-19/1000", f.mp3[10:20], "10"},
		{"open ended", http.MethodGet, "bytes=990-", http.StatusPartialContent, "bytes 990-999/1000", f.mp3[990:], "10"},
		{"suffix", http.MethodGet, "bytes=-5", http.StatusPartialContent, "bytes 995-999/1000", f.mp3[995:], "5"},
		{"past end", http.MethodGet, "bytes=1000-", http.StatusRequestedRangeNotSatisfiable, "bytes */1000", nil, ""},
		{"head", http.MethodHead, "bytes=0-99", http.StatusPartialContent, "bytes 0-99/1000", nil, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.rangeHeader != "" {
				header["Range"] = tt.rangeHeader
			}
			resp := f.do(t, tt.method, "/stream/s1", "", header)
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if got := resp.Header.Get("Content-Range"); got != tt.wantRange {
				t.Errorf("expected Content-Range %q, got %q", tt.wantRange, got)
			}
			if tt.wantStatus == http.StatusRequestedRangeNotSatisfiable {
				return
			}
			if got := resp.Header.Get("Content-Length"); got != tt.wantLength {
				t.Errorf("expected Content-Length %q, got %q", tt.wantLength, got)
			}
			if resp.Header.Get("Accept-Ranges") != "bytes" {
				t.Errorf("expected Accept-Ranges bytes")
			}
			body, _ := io.ReadAll(resp.Body)
			if tt.method == http.MethodGet && !bytes.Equal(body, tt.wantBody) {
				t.Errorf("expected %d body bytes, got %d", len(tt.wantBody), len(body))
			}
		})
	}
}

func TestStreamTranscoded(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/stream/w?format=pcm", "", map[string]string{"Range": "bytes=8192-"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.ContentLength != -1 {
		t.Errorf("expected chunked response, got length %d", resp.ContentLength)
	}
	if got := resp.Header.Get(HeaderStreamOffset); got != "8192" {
		t.Errorf("expected offset 8192, got %q", got)
	}
	if resp.Header.Get("Content-Range") != "" {
		t.Errorf("expected no Content-Range on transcoded output")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(body, f.pcm[8192:]) {
		t.Errorf("expected %d pcm bytes, got %d", len(f.pcm)-8192, len(body))
	}
}

func TestStreamErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		path       string
		rangeHdr   string
		wantStatus int
		wantKind   apperr.Kind
	}{
		{"unknown song", "/stream/nope", "", http.StatusNotFound, apperr.NotFound},
		{"bad bitrate", "/stream/s1?bitrate=fast", "", http.StatusBadRequest, apperr.InvalidArgument},
		{"bitrate in bits per second", "/stream/w?format=pcm&bitrate=96000", "", http.StatusBadRequest, apperr.InvalidArgument},
		{"multi range", "/stream/s1", "bytes=0-1,5-6", http.StatusBadRequest, apperr.InvalidArgument},
		{"unsupported target", "/stream/w?format=aac", "", http.StatusUnsupportedMediaType, apperr.UnsupportedFormat},
		{"suffix on transcode", "/stream/w?format=pcm", "bytes=-100", http.StatusRequestedRangeNotSatisfiable, apperr.RangeNotSatisfiable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.rangeHdr != "" {
				header["Range"] = tt.rangeHdr
			}
			resp := f.do(t, http.MethodGet, tt.path, "", header)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			env := decodeEnvelope(t, resp)
			if env.Error == nil || env.Error.Kind != string(tt.wantKind) {
				t.Errorf("expected kind %s, got %+v", tt.wantKind, env.Error)
			}
		})
	}
}

func TestStreamRequestBitrate(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    *stream.Profile
		wantErr bool
	}{
		{"no profile", "", nil, false},
		{"format only", "?format=opus", &stream.Profile{Codec: "opus"}, false},
		{"kbps to bits per second", "?format=opus&bitrate=64", &stream.Profile{Codec: "opus", Bitrate: 64000}, false},
		{"bitrate only", "?bitrate=128", &stream.Profile{Codec: stream.CodecAuto, Bitrate: 128000}, false},
		{"lowest", "?bitrate=6", &stream.Profile{Codec: stream.CodecAuto, Bitrate: 6000}, false},
		{"highest", "?bitrate=510", &stream.Profile{Codec: stream.CodecAuto, Bitrate: 510000}, false},
		{"too low", "?bitrate=5", nil, true},
		{"too high", "?bitrate=511", nil, true},
		{"negative", "?bitrate=-64", nil, true},
		{"not a number", "?bitrate=fast", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/stream/s1"+tt.query, nil)
			r.SetPathValue("id", "s1")

			req, err := streamRequest(r)
			if tt.wantErr {
				if !apperr.Is(err, apperr.InvalidArgument) {
					t.Fatalf("expected InvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.SongID != "s1" {
				t.Errorf("expected song s1, got %q", req.SongID)
			}
			if tt.want == nil {
				if req.Profile != nil {
					t.Errorf("expected no profile, got %+v", req.Profile)
				}
				return
			}
			if req.Profile == nil || *req.Profile != *tt.want {
				t.Errorf("expected profile %+v, got %+v", tt.want, req.Profile)
			}
		})
	}
}
