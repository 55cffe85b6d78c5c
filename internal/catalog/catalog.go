// ABOUTME: Service abstraction over upstream music backends
// ABOUTME: Defines Song, Artist, byte ranges and the Service interface
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/config"
	"github.com/rs/zerolog"
)

// Song is immutable once fetched.
type Song struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album"`
	Duration    float64 `json:"duration"` // seconds
	Size        int64   `json:"size,omitempty"`
	ContentType string  `json:"content_type,omitempty"`
	Suffix      string  `json:"suffix,omitempty"`
	BitRate     int     `json:"bit_rate,omitempty"` // kbps
}

type Artist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AlbumCount int    `json:"album_count"`
}

// ByteRange is an inclusive byte range. End < 0 means "to the end".
type ByteRange struct {
	Start int64
	End   int64
}

// Open reports whether the range runs to the end of the content.
func (r ByteRange) Open() bool {
	return r.End < 0
}

// Length returns the number of bytes covered, or -1 for an open range.
func (r ByteRange) Length() int64 {
	if r.Open() {
		return -1
	}
	return r.End - r.Start + 1
}

func (r ByteRange) String() string {
	if r.Open() {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Resolve validates r against total and clamps End to the last byte.
func (r ByteRange) Resolve(total int64) (ByteRange, error) {
	if r.Start < 0 || (!r.Open() && r.End < r.Start) {
		return ByteRange{}, apperr.E(apperr.InvalidArgument, "catalog.Resolve", "malformed range %s", r)
	}
	if r.Start >= total {
		return ByteRange{}, apperr.E(apperr.RangeNotSatisfiable, "catalog.Resolve",
			"start %d is beyond content length %d", r.Start, total)
	}
	if r.Open() || r.End >= total {
		r.End = total - 1
	}
	return r, nil
}

// RawStream is source audio as served by a backend.
type RawStream struct {
	ContentLength int64 // total length of the source, -1 when unknown
	Mime          string
	Range         ByteRange // bytes of the source that Body yields
	Body          io.ReadCloser
}

// Service is the capability set every backend provides.
type Service interface {
	Search(ctx context.Context, query string) ([]Song, error)
	ListArtists(ctx context.Context) ([]Artist, error)
	Song(ctx context.Context, id string) (Song, error)

	// FetchRawStream returns the source bytes of a song, restricted to rng
	// when it is non-nil. Body must be read incrementally, never buffered whole.
	FetchRawStream(ctx context.Context, id string, rng *ByteRange) (*RawStream, error)
}

// New builds the backend selected by cfg, wrapped in a metadata cache when
// cfg.CacheSize is positive.
func New(cfg config.Backend, httpClient *http.Client, logger zerolog.Logger) (Service, error) {
	var (
		svc Service
		err error
	)

	switch cfg.Type {
	case "subsonic":
		svc, err = NewSubsonic(cfg.Subsonic, httpClient, logger)
	case "directory":
		svc, err = NewDirectory(cfg.Directory.Root, logger)
	default:
		err = fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		return NewCached(svc, cfg.CacheSize)
	}
	return svc, nil
}

// limitedBody yields at most n bytes of rc and closes rc on Close.
type limitedBody struct {
	io.Reader
	io.Closer
}

func limitBody(rc io.ReadCloser, n int64) io.ReadCloser {
	if n < 0 {
		return rc
	}
	return limitedBody{Reader: io.LimitReader(rc, n), Closer: rc}
}
