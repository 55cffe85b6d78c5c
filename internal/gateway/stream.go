// ABOUTME: HTTP audio stream handler
// ABOUTME: Serves passthrough byte ranges and chunked transcoded output from the engine
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/config"
	"github.com/Resonate-Protocol/resonate-proxy/internal/stream"
)

const copyBufferSize = 32 * 1024

// HeaderStreamOffset carries the output byte offset a transcoded response starts at.
const HeaderStreamOffset = "X-Stream-Offset"

// streamRequest builds an engine request from the URL and Range header. The
// bitrate query parameter is in kbps; the engine works in bits per second.
func streamRequest(r *http.Request) (stream.Request, error) {
	req := stream.Request{SongID: r.PathValue("id")}

	rng, err := stream.ParseRange(r.Header.Get("Range"))
	if err != nil {
		return req, err
	}
	req.Range = rng

	q := r.URL.Query()
	format := q.Get("format")
	bitrate := q.Get("bitrate")
	if format == "" && bitrate == "" {
		return req, nil
	}
	profile := &stream.Profile{Codec: format}
	if profile.Codec == "" {
		profile.Codec = stream.CodecAuto
	}
	if bitrate != "" {
		kbps, err := strconv.Atoi(bitrate)
		if err != nil || kbps < config.MinBitrate/1000 || kbps > config.MaxBitrate/1000 {
			return req, apperr.E(apperr.InvalidArgument, "gateway.stream",
				"invalid bitrate %q: want %d to %d kbps", bitrate, config.MinBitrate/1000, config.MaxBitrate/1000)
		}
		profile.Bitrate = kbps * 1000
	}
	req.Profile = profile
	return req, nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := streamRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	st, err := s.engine.Open(r.Context(), req)
	if err != nil {
		if apperr.Is(err, apperr.RangeNotSatisfiable) && req.Profile == nil {
			s.unsatisfiable(r.Context(), w, req.SongID)
		}
		s.writeError(w, r, err)
		return
	}
	defer st.Body.Close()

	h := w.Header()
	h.Set("Content-Type", st.Mime)
	h.Set("Cache-Control", "no-store")
	if st.Transcoded {
		h.Set(HeaderStreamOffset, strconv.FormatInt(st.Offset, 10))
	} else {
		h.Set("Accept-Ranges", "bytes")
	}
	if st.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(st.ContentLength, 10))
	}

	status := http.StatusOK
	if st.Partial() {
		h.Set("Content-Range", st.ContentRange())
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	n, err := copyFlush(w, st.Body)
	log := s.logger.Debug().
		Str("stream_id", st.ID).
		Str("song_id", st.SongID).
		Bool("transcoded", st.Transcoded).
		Int64("bytes", n)
	if err == nil {
		log.Msg("stream complete")
		return
	}
	if r.Context().Err() != nil {
		log.Msg("client disconnected")
		return
	}
	s.logger.Warn().Err(err).Str("stream_id", st.ID).Int64("bytes", n).Msg("stream failed mid-response")
	// The status line is already sent; abort so the client sees a truncated body.
	panic(http.ErrAbortHandler)
}

// unsatisfiable sets Content-Range for a 416 when the resource size is known.
func (s *Server) unsatisfiable(ctx context.Context, w http.ResponseWriter, songID string) {
	song, err := s.catalog.Song(ctx, songID)
	if err != nil || song.Size <= 0 {
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", song.Size))
}

// copyFlush copies src to w, flushing after every write so audio reaches the
// client as soon as it is produced.
func copyFlush(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}
