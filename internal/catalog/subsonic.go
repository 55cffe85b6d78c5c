// ABOUTME: Subsonic-compatible backend adapter
// ABOUTME: Metadata via go-subsonic, ranged audio via direct /rest/stream requests
package catalog

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/config"
	"github.com/Resonate-Protocol/resonate-proxy/internal/version"
	"github.com/rs/zerolog"
	"github.com/supersonic-app/go-subsonic/subsonic"
)

const subsonicAPIVersion = "1.15.0"

// Subsonic talks to a Subsonic-compatible server (Navidrome, Gonic, Airsonic...).
type Subsonic struct {
	client   *subsonic.Client
	http     *http.Client
	baseURL  *url.URL
	user     string
	password string
	name     string
	pwAuth   bool
	logger   zerolog.Logger
}

// NewSubsonic authenticates against the server. httpClient may be nil, in
// which case one is built from cfg (custom CA, timeout).
func NewSubsonic(cfg config.Subsonic, httpClient *http.Client, logger zerolog.Logger) (*Subsonic, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid subsonic url %q: %w", cfg.URL, err)
	}

	if httpClient == nil {
		httpClient, err = NewHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	}

	name := cfg.ClientName
	if name == "" {
		name = version.Product
	}

	sc := &subsonic.Client{
		Client:       httpClient,
		BaseUrl:      base.String(),
		User:         cfg.Username,
		ClientName:   name,
		PasswordAuth: cfg.PasswordAuth,
	}
	if err := sc.Authenticate(cfg.Password); err != nil {
		return nil, classify("catalog.Authenticate", err)
	}

	s := &Subsonic{
		client:   sc,
		http:     httpClient,
		baseURL:  base,
		user:     cfg.Username,
		password: cfg.Password,
		name:     name,
		pwAuth:   cfg.PasswordAuth,
		logger:   logger.With().Str("component", "subsonic").Logger(),
	}
	s.logger.Info().Str("url", base.Redacted()).Str("user", cfg.Username).Msg("authenticated")
	return s, nil
}

// NewHTTPClient builds the pooled client shared by metadata calls and every
// stream session.
func NewHTTPClient(cfg config.Subsonic) (*http.Client, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, err
	}

	if cfg.CustomCA != "" {
		caPEM, err := os.ReadFile(cfg.CustomCA)
		if err != nil {
			return nil, err
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("error decoding pem certificate from custom CA file '%s'", cfg.CustomCA)
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		RootCAs:            pool,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	transport.MaxIdleConnsPerHost = 16

	// Timeout only bounds response headers: stream bodies may take as long as
	// the listener does.
	transport.ResponseHeaderTimeout = cfg.Timeout
	return &http.Client{Transport: transport}, nil
}

func (s *Subsonic) Search(ctx context.Context, query string) ([]Song, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.client.Search3(query, map[string]string{
		"songCount":   "100",
		"artistCount": "0",
		"albumCount":  "0",
	})
	if err != nil {
		return nil, classify("catalog.Search", err)
	}
	if res == nil {
		return []Song{}, nil
	}

	songs := make([]Song, 0, len(res.Song))
	for _, c := range res.Song {
		if c != nil {
			songs = append(songs, songFromChild(c))
		}
	}
	return songs, nil
}

func (s *Subsonic) ListArtists(ctx context.Context) ([]Artist, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.client.GetArtists(map[string]string{})
	if err != nil {
		return nil, classify("catalog.ListArtists", err)
	}

	artists := []Artist{}
	if res == nil {
		return artists, nil
	}
	for _, idx := range res.Index {
		if idx == nil {
			continue
		}
		for _, a := range idx.Artist {
			if a == nil {
				continue
			}
			artists = append(artists, Artist{ID: a.ID, Name: a.Name, AlbumCount: int(a.AlbumCount)})
		}
	}
	return artists, nil
}

func (s *Subsonic) Song(ctx context.Context, id string) (Song, error) {
	if err := ctx.Err(); err != nil {
		return Song{}, err
	}
	c, err := s.client.GetSong(id)
	if err != nil {
		return Song{}, classify("catalog.Song", err)
	}
	if c == nil {
		return Song{}, apperr.E(apperr.NotFound, "catalog.Song", "song %q not found", id)
	}
	return songFromChild(c), nil
}

func songFromChild(c *subsonic.Child) Song {
	return Song{
		ID:          c.ID,
		Title:       c.Title,
		Artist:      c.Artist,
		Album:       c.Album,
		Duration:    float64(c.Duration),
		Size:        int64(c.Size),
		ContentType: c.ContentType,
		Suffix:      c.Suffix,
		BitRate:     int(c.BitRate),
	}
}

// streamURL builds /rest/stream with auth parameters. format=raw asks the
// server not to transcode: this process owns transcoding.
func (s *Subsonic) streamURL(id string) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/rest/stream"

	q := url.Values{}
	q.Set("u", s.user)
	if s.pwAuth {
		q.Set("p", "enc:"+hex.EncodeToString([]byte(s.password)))
	} else {
		salt := strconv.FormatUint(rand.Uint64(), 36)
		sum := md5.Sum([]byte(s.password + salt))
		q.Set("t", hex.EncodeToString(sum[:]))
		q.Set("s", salt)
	}
	q.Set("v", subsonicAPIVersion)
	q.Set("c", s.name)
	q.Set("id", id)
	q.Set("format", "raw")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subsonic) FetchRawStream(ctx context.Context, id string, rng *ByteRange) (*RawStream, error) {
	const op = "catalog.FetchRawStream"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURL(id), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalPipelineFailure, op, err)
	}
	if rng != nil {
		req.Header.Set("Range", rng.String())
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, op, err)
	}

	stream, err := rawStreamFromResponse(op, id, resp, rng)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	s.logger.Debug().
		Str("song_id", id).
		Int64("start", stream.Range.Start).
		Int64("end", stream.Range.End).
		Int64("total", stream.ContentLength).
		Int("status", resp.StatusCode).
		Msg("upstream stream opened")
	return stream, nil
}

// rawStreamFromResponse interprets an upstream /stream response. Servers that
// ignore Range answer 200 with the whole file; the prefix is then skipped
// while reading so the caller still gets exactly the requested bytes.
func rawStreamFromResponse(op, id string, resp *http.Response, rng *ByteRange) (*RawStream, error) {
	mime := resp.Header.Get("Content-Type")

	switch resp.StatusCode {
	case http.StatusOK:
		if isAPIResponse(mime) {
			return nil, apiError(op, id, resp.Body)
		}

		total := resp.ContentLength
		full := ByteRange{Start: 0, End: total - 1}
		if total < 0 {
			full.End = -1
		}
		if rng == nil {
			return &RawStream{ContentLength: total, Mime: mime, Range: full, Body: resp.Body}, nil
		}

		want := *rng
		if total >= 0 {
			resolved, err := want.Resolve(total)
			if err != nil {
				return nil, err
			}
			want = resolved
		}
		body := &skipBody{rc: resp.Body, skip: want.Start}
		return &RawStream{
			ContentLength: total,
			Mime:          mime,
			Range:         want,
			Body:          limitBody(body, want.Length()),
		}, nil

	case http.StatusPartialContent:
		got, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamReadFailure, op, err)
		}
		return &RawStream{ContentLength: total, Mime: mime, Range: got, Body: resp.Body}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		return nil, apperr.E(apperr.RangeNotSatisfiable, op, "upstream rejected %s (%s)",
			rangeString(rng), resp.Header.Get("Content-Range"))

	case http.StatusNotFound:
		return nil, apperr.E(apperr.NotFound, op, "song %q not found", id)
	}

	return nil, apperr.E(apperr.UpstreamUnavailable, op, "upstream returned %s", resp.Status)
}

func rangeString(rng *ByteRange) string {
	if rng == nil {
		return "full content"
	}
	return rng.String()
}

func isAPIResponse(mime string) bool {
	return strings.Contains(mime, "xml") || strings.Contains(mime, "json")
}

// apiError turns a Subsonic error document served in place of audio into a
// classified error.
func apiError(op, id string, body io.Reader) error {
	doc, _ := io.ReadAll(io.LimitReader(body, 4096))
	text := string(doc)
	if strings.Contains(text, `code="70"`) || strings.Contains(text, `"code":70`) {
		return apperr.E(apperr.NotFound, op, "song %q not found", id)
	}
	return apperr.E(apperr.UpstreamUnavailable, op, "upstream error: %s", strings.TrimSpace(text))
}

// parseContentRange parses "bytes start-end/total" (total may be "*").
func parseContentRange(v string) (ByteRange, int64, error) {
	rangeSet, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	rangePart, totalPart, ok := strings.Cut(rangeSet, "/")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	startStr, endStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	start, err1 := strconv.ParseInt(startStr, 10, 64)
	end, err2 := strconv.ParseInt(endStr, 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return ByteRange{}, 0, fmt.Errorf("malformed Content-Range %q", v)
	}

	total := int64(-1)
	if totalPart != "*" {
		t, err := strconv.ParseInt(totalPart, 10, 64)
		if err != nil {
			return ByteRange{}, 0, fmt.Errorf("malformed Content-Range %q", v)
		}
		total = t
	}
	return ByteRange{Start: start, End: end}, total, nil
}

// skipBody discards the first skip bytes on first read.
type skipBody struct {
	rc   io.ReadCloser
	skip int64
}

func (b *skipBody) Read(p []byte) (int, error) {
	if b.skip > 0 {
		n, err := io.CopyN(io.Discard, b.rc, b.skip)
		b.skip -= n
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
	}
	return b.rc.Read(p)
}

func (b *skipBody) Close() error {
	return b.rc.Close()
}

// classify maps go-subsonic errors onto the error taxonomy.
func classify(op string, err error) error {
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		return apperr.Wrap(apperr.UpstreamUnavailable, op, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "#70") || strings.Contains(msg, "code 70") || strings.Contains(msg, "not found") {
		return apperr.Wrap(apperr.NotFound, op, err)
	}
	return apperr.Wrap(apperr.UpstreamUnavailable, op, err)
}
