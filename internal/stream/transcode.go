// ABOUTME: Transcode pipeline: decode, resample, frame and encode on demand
// ABOUTME: Seeks by counting output bytes and discarding whole frames before the start
package stream

import (
	"bufio"
	"errors"
	"io"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio/resample"
)

// readChunk is the number of frames requested from the decoder per read.
const readChunk = 4096

// maxEmptyReads bounds consecutive decoder reads that yield nothing.
const maxEmptyReads = 100

func (e *Engine) openTranscode(s *session, song catalog.Song, source, codec string, bitrate int, req *Range) (*Stream, error) {
	const op = "stream.Open"

	start, end := int64(0), int64(-1)
	if req != nil {
		if req.Suffix > 0 {
			return nil, apperr.E(apperr.RangeNotSatisfiable, op, "suffix ranges are not supported for transcoded output")
		}
		start, end = req.Start, req.End
	}

	// Transcoding always starts from the first source byte.
	raw, err := e.svc.FetchRawStream(s.ctx, song.ID, nil)
	if err != nil {
		return nil, err
	}
	s.setUpstream(raw.Body)

	up := &trackingReader{r: raw.Body}
	br := bufio.NewReaderSize(up, 64*1024)
	head, _ := br.Peek(decode.SniffLen)
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if sniffed := decode.Sniff(head); sniffed != "" && sniffed != source {
		e.logger.Debug().Str("song_id", song.ID).Str("declared", source).Str("sniffed", sniffed).Msg("source codec differs from metadata")
		source = sniffed
	}
	if source == "" {
		return nil, apperr.E(apperr.UnsupportedFormat, op, "cannot determine source format of song %q", song.ID)
	}

	src, err := decode.Open(source, br)
	if err != nil {
		if errors.Is(err, decode.ErrUnsupported) {
			return nil, apperr.Wrap(apperr.UnsupportedFormat, op, err)
		}
		return nil, up.classify(s, op, err)
	}
	s.onClose(src)

	srcFormat := src.Format()
	enc, err := encode.New(codec, srcFormat.SampleRate, srcFormat.Channels, bitrate)
	if err != nil {
		if errors.Is(err, encode.ErrUnsupported) {
			return nil, apperr.Wrap(apperr.UnsupportedFormat, op, err)
		}
		return nil, apperr.Wrap(apperr.InternalPipelineFailure, op, err)
	}
	s.onClose(enc)

	body := &transcodeBody{
		s:     s,
		p:     newPipeline(src, enc),
		up:    up,
		start: start,
		end:   end,
	}
	if err := body.prime(); err != nil {
		return nil, err
	}

	return &Stream{
		Mime:          audio.MimeType(codec),
		ContentLength: -1,
		Total:         -1,
		Offset:        body.offset,
		Transcoded:    true,
		Body:          body,
	}, nil
}

// trackingReader remembers the last upstream read error so pipeline failures
// can be told apart from network failures.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

func (t *trackingReader) classify(s *session, op string, err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if t.err != nil {
		return apperr.Wrap(apperr.UpstreamReadFailure, op, t.err)
	}
	return apperr.Wrap(apperr.InternalPipelineFailure, op, err)
}

// pipeline turns decoded PCM into encoder frames. The container header is
// the first frame.
type pipeline struct {
	src decode.Source
	enc encode.Encoder
	rs  *resample.Resampler

	srcChannels int
	outChannels int
	frameLen    int // interleaved samples per encoder frame

	readBuf    []int32
	mixBuf     []int32
	pending    []int32
	headerSent bool
	eof        bool
}

func newPipeline(src decode.Source, enc encode.Encoder) *pipeline {
	in := src.Format()
	out := enc.Format()
	return &pipeline{
		src:         src,
		enc:         enc,
		rs:          resample.New(in.SampleRate, out.SampleRate, out.Channels),
		srcChannels: in.Channels,
		outChannels: out.Channels,
		frameLen:    enc.FrameSize() * out.Channels,
		readBuf:     make([]int32, readChunk*in.Channels),
	}
}

// downmix keeps the first outChannels of every source frame.
func (p *pipeline) downmix(in []int32) []int32 {
	if p.srcChannels == p.outChannels {
		return in
	}
	frames := len(in) / p.srcChannels
	p.mixBuf = p.mixBuf[:0]
	for f := 0; f < frames; f++ {
		base := f * p.srcChannels
		for ch := 0; ch < p.outChannels; ch++ {
			p.mixBuf = append(p.mixBuf, in[base+ch])
		}
	}
	return p.mixBuf
}

// next returns the next output frame, or io.EOF when the source is exhausted.
func (p *pipeline) next() ([]byte, error) {
	if !p.headerSent {
		p.headerSent = true
		if h := p.enc.Header(); len(h) > 0 {
			return h, nil
		}
	}

	empty := 0
	for len(p.pending) < p.frameLen && !p.eof {
		n, err := p.src.Read(p.readBuf)
		if n > 0 {
			empty = 0
			p.pending = p.rs.Process(p.downmix(p.readBuf[:n]), p.pending)
		}
		if errors.Is(err, io.EOF) {
			p.eof = true
			p.pending = p.rs.Flush(p.pending)
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if empty++; empty > maxEmptyReads {
				return nil, io.ErrNoProgress
			}
		}
	}

	if len(p.pending) == 0 {
		return nil, io.EOF
	}
	n := min(p.frameLen, len(p.pending))
	frame, err := p.enc.Encode(p.pending[:n])
	if err != nil {
		return nil, err
	}
	p.pending = append(p.pending[:0], p.pending[n:]...)
	return frame, nil
}

// transcodeBody pulls one frame per refill on the reader's goroutine.
type transcodeBody struct {
	s  *session
	p  *pipeline
	up *trackingReader

	start int64 // requested output offset
	end   int64 // inclusive requested end, -1 for open

	pos     int64 // output bytes produced, emitted or not
	offset  int64 // output offset of the first emitted frame
	started bool
	cur     []byte
	err     error
}

// advance loads the next frame to emit into cur.
func (b *transcodeBody) advance() error {
	for {
		if b.started && b.end >= 0 && b.pos > b.end {
			return io.EOF
		}
		if err := b.s.ctx.Err(); err != nil {
			return err
		}

		frame, err := b.p.next()
		if errors.Is(err, io.EOF) {
			if b.started {
				b.s.ended()
			}
			return io.EOF
		}
		if err != nil {
			return b.up.classify(b.s, "stream.Read", err)
		}

		frameStart := b.pos
		b.pos += int64(len(frame))
		if frameStart < b.start {
			continue
		}
		if b.end >= 0 && frameStart > b.end {
			return io.EOF
		}
		if !b.started {
			b.started = true
			b.offset = frameStart
		}
		b.s.addBytes(len(frame))
		b.cur = frame
		return nil
	}
}

// prime produces the first emitted frame so seek and decode failures are
// known before the response is committed.
func (b *transcodeBody) prime() error {
	err := b.advance()
	if errors.Is(err, io.EOF) && !b.started {
		return apperr.E(apperr.RangeNotSatisfiable, "stream.Open",
			"no frame starts at or after offset %d (transcoded length %d)", b.start, b.pos)
	}
	if err != nil {
		b.err = err
		return err
	}
	return nil
}

func (b *transcodeBody) Read(p []byte) (int, error) {
	for len(b.cur) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		if err := b.advance(); err != nil {
			b.err = err
			return 0, err
		}
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

func (b *transcodeBody) Close() error {
	return b.s.Close()
}
