// ABOUTME: Tests for the streaming engine
// ABOUTME: Passthrough slicing, frame-aligned transcoded seeks, cancellation and end notification
package stream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
	"github.com/Resonate-Protocol/resonate-proxy/internal/config"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio/encode"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/rs/zerolog"
)

var transcodeOn = config.Static{Enabled: true, Codec: "opus", Bitrate: 96000}

type recordingNotifier struct {
	mu    sync.Mutex
	ended []string
}

func (n *recordingNotifier) TrackEnded(songID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, songID)
	return true
}

func (n *recordingNotifier) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ended...)
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

// wavSource builds a mono 16-bit WAV and returns it with its PCM payload.
func wavSource(sampleRate, samples int) ([]byte, []byte) {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16((i*37)%20000-10000)))
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

// flacSource encodes the same signal as wavSource as mono 16-bit FLAC.
func flacSource(t *testing.T, sampleRate, samples int) ([]byte, []byte) {
	t.Helper()
	_, pcm := wavSource(sampleRate, samples)
	values := make([]int32, samples)
	for i := range values {
		values[i] = int32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	const blockSize = 4096
	var buf bytes.Buffer
	enc, err := flac.NewEncoder(&buf, &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  blockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     1,
		BitsPerSample: 16,
		NSamples:      uint64(samples),
	})
	if err != nil {
		t.Fatalf("NewEncoder() failed: %v", err)
	}
	for start := 0; start < samples; start += blockSize {
		block := append([]int32(nil), values[start:min(start+blockSize, samples)]...)
		err := enc.WriteFrame(&frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(len(block)),
				SampleRate:        uint32(sampleRate),
				Channels:          frame.ChannelsMono,
				BitsPerSample:     16,
			},
			Subframes: []*frame.Subframe{{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   block,
				NSamples:  len(block),
			}},
		})
		if err != nil {
			t.Fatalf("WriteFrame() failed: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	return buf.Bytes(), pcm
}

func newTestEngine(t *testing.T, settings SettingsSource) (*Engine, *catalog.Memory, *recordingNotifier) {
	t.Helper()
	mem := catalog.NewMemory()
	e := NewEngine(mem, settings, zerolog.Nop())
	n := &recordingNotifier{}
	e.SetEndNotifier(n)
	return e, mem, n
}

func readAll(t *testing.T, s *Stream) []byte {
	t.Helper()
	defer s.Body.Close()
	data, err := io.ReadAll(s.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return data
}

func TestPassthroughSlices(t *testing.T) {
	e, mem, _ := newTestEngine(t, transcodeOn)
	data := pattern(10000)
	mem.Add(catalog.Song{ID: "s1", Title: "One", Suffix: "mp3"}, data)

	tests := []struct {
		header     string
		start, end int64
	}{
		{"bytes=0-0", 0, 0},
		{"bytes=0-9999", 0, 9999},
		{"bytes=1234-5678", 1234, 5678},
		{"bytes=9999-", 9999, 9999},
		{"bytes=5000-20000", 5000, 9999},
		{"bytes=-100", 9900, 9999},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			rng, err := ParseRange(tt.header)
			if err != nil {
				t.Fatal(err)
			}
			s, err := e.Open(context.Background(), Request{SongID: "s1", Range: rng})
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			got := readAll(t, s)
			if !bytes.Equal(got, data[tt.start:tt.end+1]) {
				t.Errorf("expected %d bytes from %d, got %d", tt.end-tt.start+1, tt.start, len(got))
			}
			if s.ContentLength != tt.end-tt.start+1 {
				t.Errorf("expected content length %d, got %d", tt.end-tt.start+1, s.ContentLength)
			}
			if !s.Partial() || s.Transcoded {
				t.Errorf("expected partial passthrough, got %+v", s)
			}
		})
	}
}

func TestPassthroughLargeOpenRange(t *testing.T) {
	e, mem, _ := newTestEngine(t, nil)
	data := pattern(5242880)
	mem.Add(catalog.Song{ID: "big", Title: "Big", Suffix: "mp3"}, data)

	rng, _ := ParseRange("bytes=1000000-")
	s, err := e.Open(context.Background(), Request{SongID: "big", Range: rng})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if !s.Partial() {
		t.Fatal("expected a partial result")
	}
	if cr := s.ContentRange(); cr != "bytes 1000000-5242879/5242880" {
		t.Errorf("expected bytes 1000000-5242879/5242880, got %s", cr)
	}
	got := readAll(t, s)
	if len(got) != 4242880 {
		t.Errorf("expected 4242880 bytes, got %d", len(got))
	}
	if !bytes.Equal(got, data[1000000:]) {
		t.Error("body differs from the source slice")
	}
}

func TestPassthroughRangeNotSatisfiable(t *testing.T) {
	e, mem, _ := newTestEngine(t, nil)
	mem.Add(catalog.Song{ID: "s1", Title: "One", Suffix: "mp3"}, pattern(100))

	for _, h := range []string{"bytes=100-", "bytes=500-600"} {
		rng, _ := ParseRange(h)
		if _, err := e.Open(context.Background(), Request{SongID: "s1", Range: rng}); !apperr.Is(err, apperr.RangeNotSatisfiable) {
			t.Errorf("%s: expected RangeNotSatisfiable, got %v", h, err)
		}
	}
	if e.Sessions() != 0 {
		t.Errorf("expected failed opens to release their sessions, got %d", e.Sessions())
	}
}

func TestOpenUnknownSong(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	if _, err := e.Open(context.Background(), Request{SongID: "nope"}); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestPassthroughDecisions(t *testing.T) {
	src, _ := wavSource(8000, 1000)

	tests := []struct {
		name     string
		settings SettingsSource
		profile  *Profile
	}{
		{"no profile", transcodeOn, nil},
		{"same codec", transcodeOn, &Profile{Codec: "wav"}},
		{"raw", transcodeOn, &Profile{Codec: "raw"}},
		{"transcoding disabled", config.Static{Enabled: false, Codec: "opus"}, &Profile{Codec: "pcm"}},
		{"auto with disabled transcoding", config.Static{Enabled: false, Codec: "pcm"}, &Profile{Codec: CodecAuto}},
		{"auto resolving to source codec", config.Static{Enabled: true, Codec: "wav"}, &Profile{Codec: CodecAuto}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mem, _ := newTestEngine(t, tt.settings)
			mem.Add(catalog.Song{ID: "w", Title: "W", Suffix: "wav"}, src)

			s, err := e.Open(context.Background(), Request{SongID: "w", Profile: tt.profile})
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if s.Transcoded {
				t.Error("expected passthrough")
			}
			if got := readAll(t, s); !bytes.Equal(got, src) {
				t.Errorf("expected the source bytes, got %d bytes", len(got))
			}
			if s.ContentLength != int64(len(src)) || s.Partial() {
				t.Errorf("expected full content of %d bytes, got %+v", len(src), s)
			}
		})
	}
}

func TestUnsupportedFormat(t *testing.T) {
	src, _ := wavSource(8000, 1000)
	e, mem, _ := newTestEngine(t, transcodeOn)
	mem.Add(catalog.Song{ID: "w", Title: "W", Suffix: "wav"}, src)
	mem.Add(catalog.Song{ID: "junk", Title: "J", Suffix: "xyz"}, []byte("definitely not audio at all"))
	mem.Add(catalog.Song{ID: "ogg", Title: "O", Suffix: "ogg"}, append([]byte("OggS"), make([]byte, 100)...))

	tests := []struct {
		id    string
		codec string
	}{
		{"w", "aac"},
		{"w", "mp3"},
		{"junk", "pcm"},
		{"ogg", "pcm"},
	}
	for _, tt := range tests {
		_, err := e.Open(context.Background(), Request{SongID: tt.id, Profile: &Profile{Codec: tt.codec}})
		if !apperr.Is(err, apperr.UnsupportedFormat) {
			t.Errorf("%s -> %s: expected UnsupportedFormat, got %v", tt.id, tt.codec, err)
		}
	}
	if e.Sessions() != 0 {
		t.Errorf("expected no leaked sessions, got %d", e.Sessions())
	}
}

func TestTranscodePCMFrameAlignedSeek(t *testing.T) {
	src, pcm := wavSource(8000, 20000) // 40000 bytes of output
	frameBytes := int64(encode.PCMFrameSize * 2)

	tests := []struct {
		name       string
		header     string
		wantOffset int64
		wantEnd    int64 // exclusive
	}{
		{"whole", "", 0, int64(len(pcm))},
		{"frame boundary", "bytes=8192-", frameBytes, int64(len(pcm))},
		{"mid frame", "bytes=10000-", 2 * frameBytes, int64(len(pcm))},
		{"first byte", "bytes=1-", frameBytes, int64(len(pcm))},
		{"bounded", "bytes=10000-20000", 2 * frameBytes, 3 * frameBytes},
		{"end on boundary", "bytes=0-8191", 0, frameBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mem, _ := newTestEngine(t, transcodeOn)
			mem.Add(catalog.Song{ID: "w", Title: "W", Suffix: "wav"}, src)

			rng, _ := ParseRange(tt.header)
			s, err := e.Open(context.Background(), Request{SongID: "w", Range: rng, Profile: &Profile{Codec: "pcm"}})
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if !s.Transcoded || s.ContentLength != -1 || s.Partial() {
				t.Errorf("expected chunked transcoded stream, got %+v", s)
			}
			if s.Offset != tt.wantOffset {
				t.Errorf("expected offset %d, got %d", tt.wantOffset, s.Offset)
			}
			got := readAll(t, s)
			want := pcm[tt.wantOffset:tt.wantEnd]
			if !bytes.Equal(got, want) {
				t.Errorf("expected %d bytes of pcm from %d, got %d", len(want), tt.wantOffset, len(got))
			}
		})
	}
}

func TestTranscodeFLACSeek(t *testing.T) {
	src, pcm := flacSource(t, 8000, 20000)
	frameBytes := int64(encode.PCMFrameSize * 2)

	tests := []struct {
		name       string
		header     string
		wantOffset int64
	}{
		{"whole", "", 0},
		{"mid frame", "bytes=10000-", 2 * frameBytes},
		{"last frame", "bytes=30000-", 4 * frameBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mem, _ := newTestEngine(t, transcodeOn)
			mem.Add(catalog.Song{ID: "f", Title: "F", Suffix: "flac"}, src)

			rng, _ := ParseRange(tt.header)
			s, err := e.Open(context.Background(), Request{SongID: "f", Range: rng, Profile: &Profile{Codec: "pcm"}})
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if s.Offset != tt.wantOffset {
				t.Errorf("expected offset %d, got %d", tt.wantOffset, s.Offset)
			}
			got := readAll(t, s)
			if !bytes.Equal(got, pcm[tt.wantOffset:]) {
				t.Errorf("expected %d bytes of pcm from %d, got %d", len(pcm)-int(tt.wantOffset), tt.wantOffset, len(got))
			}
		})
	}
}

func TestTranscodeSeekPastEnd(t *testing.T) {
	src, pcm := wavSource(8000, 1000)
	e, mem, _ := newTestEngine(t, transcodeOn)
	mem.Add(catalog.Song{ID: "w", Title: "W", Suffix: "wav"}, src)

	for _, h := range []string{"bytes=1-", "bytes=100000-", "bytes=-10"} {
		rng, _ := ParseRange(h)
		_, err := e.Open(context.Background(), Request{SongID: "w", Range: rng, Profile: &Profile{Codec: "pcm"}})
		if !apperr.Is(err, apperr.RangeNotSatisfiable) {
			t.Errorf("%s on %d bytes: expected RangeNotSatisfiable, got %v", h, len(pcm), err)
		}
	}
}

// oggPages splits data into Ogg pages and fails if it does not tile exactly.
func oggPages(t *testing.T, data []byte) int {
	t.Helper()
	pages := 0
	for off := 0; off < len(data); {
		if len(data)-off < 27 || string(data[off:off+4]) != "OggS" {
			t.Fatalf("no page boundary at offset %d", off)
		}
		nsegs := int(data[off+26])
		if len(data)-off < 27+nsegs {
			t.Fatalf("truncated segment table at offset %d", off)
		}
		size := 27 + nsegs
		for _, seg := range data[off+27 : off+27+nsegs] {
			size += int(seg)
		}
		if off+size > len(data) {
			t.Fatalf("truncated page at offset %d", off)
		}
		off += size
		pages++
	}
	return pages
}

func TestTranscodeOpusStartsOnPageBoundary(t *testing.T) {
	src, _ := wavSource(24000, 24000) // one second, resampled to 48 kHz
	e, mem, _ := newTestEngine(t, transcodeOn)
	mem.Add(catalog.Song{ID: "w", Title: "W", Suffix: "wav"}, src)

	full, err := e.Open(context.Background(), Request{SongID: "w", Profile: &Profile{Codec: CodecAuto}})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if full.Mime != "audio/ogg; codecs=opus" {
		t.Errorf("unexpected mime %s", full.Mime)
	}
	whole := readAll(t, full)
	total := oggPages(t, whole)
	if total < 50 {
		t.Errorf("expected at least 50 pages for one second of audio, got %d", total)
	}

	for _, start := range []int64{1, int64(len(whole) / 3), int64(len(whole) / 2)} {
		rng := &Range{ByteRange: catalog.ByteRange{Start: start, End: -1}}
		s, err := e.Open(context.Background(), Request{SongID: "w", Range: rng, Profile: &Profile{Codec: "opus"}})
		if err != nil {
			t.Fatalf("Open(start=%d) failed: %v", start, err)
		}
		got := readAll(t, s)
		if s.Offset < start {
			t.Errorf("start %d: offset %d is before the requested start", start, s.Offset)
		}
		oggPages(t, got)
		if int64(len(got))+s.Offset != int64(len(whole)) {
			t.Errorf("start %d: expected output to run to %d, got %d", start, len(whole), int64(len(got))+s.Offset)
		}
	}
}

func TestTrackEndedOnNaturalEnd(t *testing.T) {
	src, _ := wavSource(8000, 5000)
	e, mem, n := newTestEngine(t, transcodeOn)
	mem.Add(catalog.Song{ID: "w", Title: "W", Suffix: "wav"}, src)

	// partial passthrough that stops short of the end
	s, _ := e.Open(context.Background(), Request{SongID: "w", Range: &Range{ByteRange: catalog.ByteRange{Start: 0, End: 99}}})
	readAll(t, s)
	if len(n.calls()) != 0 {
		t.Fatalf("expected no TrackEnded for a partial read, got %v", n.calls())
	}

	s, _ = e.Open(context.Background(), Request{SongID: "w"})
	readAll(t, s)
	if calls := n.calls(); len(calls) != 1 || calls[0] != "w" {
		t.Fatalf("expected one TrackEnded for w, got %v", calls)
	}

	s, _ = e.Open(context.Background(), Request{SongID: "w", Profile: &Profile{Codec: "pcm"}})
	readAll(t, s)
	if len(n.calls()) != 2 {
		t.Errorf("expected TrackEnded after transcoding to the end, got %v", n.calls())
	}

	// closing early is not a natural end
	s, _ = e.Open(context.Background(), Request{SongID: "w", Profile: &Profile{Codec: "pcm"}})
	s.Body.Read(make([]byte, 10))
	s.Body.Close()
	if len(n.calls()) != 2 {
		t.Errorf("expected no TrackEnded for an abandoned stream, got %v", n.calls())
	}
}

func TestTrackEndedRanges(t *testing.T) {
	data := pattern(1000)

	tests := []struct {
		header string
		ended  bool
	}{
		{"", true},
		{"bytes=0-", true},
		{"bytes=500-", true},
		{"bytes=-128", false},
		{"bytes=872-999", false},
		{"bytes=0-999", false},
		{"bytes=0-99", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			e, mem, n := newTestEngine(t, transcodeOn)
			mem.Add(catalog.Song{ID: "s1", Title: "One", Suffix: "mp3"}, data)

			rng, _ := ParseRange(tt.header)
			s, err := e.Open(context.Background(), Request{SongID: "s1", Range: rng})
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			readAll(t, s)
			if ended := len(n.calls()) == 1; ended != tt.ended {
				t.Errorf("expected ended %v, got calls %v", tt.ended, n.calls())
			}
		})
	}
}

func encodeFormat() audio.Format {
	return audio.Format{Codec: audio.CodecWAV, SampleRate: 8000, Channels: 1, BitDepth: 16}
}

// endlessService serves one endless WAV song and counts upstream reads.
type endlessService struct {
	reads atomic.Int64
	bytes atomic.Int64
}

func (s *endlessService) Search(ctx context.Context, query string) ([]catalog.Song, error) {
	return nil, nil
}

func (s *endlessService) ListArtists(ctx context.Context) ([]catalog.Artist, error) {
	return nil, nil
}

func (s *endlessService) Song(ctx context.Context, id string) (catalog.Song, error) {
	return catalog.Song{ID: id, Title: "Endless", Suffix: "wav"}, nil
}

func (s *endlessService) FetchRawStream(ctx context.Context, id string, rng *catalog.ByteRange) (*catalog.RawStream, error) {
	enc, _ := encode.NewWAV(encodeFormat())
	body := &endlessBody{ctx: ctx, svc: s, header: enc.Header()}
	return &catalog.RawStream{ContentLength: -1, Mime: "audio/wav", Range: catalog.ByteRange{Start: 0, End: -1}, Body: body}, nil
}

type endlessBody struct {
	ctx    context.Context
	svc    *endlessService
	header []byte
	closed atomic.Bool
}

func (b *endlessBody) Read(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, errors.New("read on closed body")
	}
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	b.svc.reads.Add(1)
	n := copy(p, b.header)
	b.header = b.header[n:]
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	b.svc.bytes.Add(int64(len(p)))
	return len(p), nil
}

func (b *endlessBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestTranscodeIsLazy(t *testing.T) {
	svc := &endlessService{}
	e := NewEngine(svc, transcodeOn, zerolog.Nop())

	s, err := e.Open(context.Background(), Request{SongID: "inf", Profile: &Profile{Codec: "pcm"}})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Body.Close()

	buf := make([]byte, 1024)
	for i := 0; i < 100; i++ {
		if _, err := s.Body.Read(buf); err != nil {
			t.Fatalf("Read() failed: %v", err)
		}
	}
	if pulled := svc.bytes.Load(); pulled > 1<<20 {
		t.Errorf("expected upstream reads bounded by consumption, pulled %d bytes", pulled)
	}
}

func TestDisconnectStopsUpstreamReads(t *testing.T) {
	for _, profile := range []*Profile{nil, {Codec: "pcm"}} {
		svc := &endlessService{}
		e := NewEngine(svc, transcodeOn, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		s, err := e.Open(ctx, Request{SongID: "inf", Profile: profile})
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}

		buf := make([]byte, 4096)
		for i := 0; i < 10; i++ {
			if _, err := s.Body.Read(buf); err != nil {
				t.Fatalf("Read() failed: %v", err)
			}
		}

		cancel()
		var readErr error
		for i := 0; i < 1000 && readErr == nil; i++ {
			_, readErr = s.Body.Read(buf)
		}
		if !errors.Is(readErr, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", readErr)
		}

		before := svc.reads.Load()
		time.Sleep(20 * time.Millisecond)
		s.Body.Read(buf)
		if after := svc.reads.Load(); after != before {
			t.Errorf("expected upstream reads to stop, went from %d to %d", before, after)
		}

		s.Body.Close()
		if e.Sessions() != 0 {
			t.Errorf("expected session to be released, got %d", e.Sessions())
		}
	}
}

func TestCancelBySong(t *testing.T) {
	svc := &endlessService{}
	e := NewEngine(svc, transcodeOn, zerolog.Nop())

	a, _ := e.Open(context.Background(), Request{SongID: "a"})
	b, _ := e.Open(context.Background(), Request{SongID: "a", Profile: &Profile{Codec: "pcm"}})
	c, _ := e.Open(context.Background(), Request{SongID: "c"})
	defer a.Body.Close()
	defer b.Body.Close()
	defer c.Body.Close()

	if e.Sessions() != 3 {
		t.Fatalf("expected 3 sessions, got %d", e.Sessions())
	}
	if n := e.Cancel("a"); n != 2 {
		t.Errorf("expected 2 cancelled sessions, got %d", n)
	}

	buf := make([]byte, 64*1024)
	for _, s := range []*Stream{a, b} {
		var err error
		for i := 0; i < 100 && err == nil; i++ {
			_, err = s.Body.Read(buf)
		}
		if err == nil {
			t.Errorf("expected cancelled session %s to fail", s.ID)
		}
	}
	if _, err := c.Body.Read(buf); err != nil {
		t.Errorf("expected other song to keep streaming, got %v", err)
	}
}
