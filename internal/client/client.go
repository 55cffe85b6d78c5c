// ABOUTME: Go client for the proxy's REST API
// ABOUTME: Decodes response envelopes and maps error bodies back to apperr kinds
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
	"github.com/Resonate-Protocol/resonate-proxy/internal/player"
	"github.com/Resonate-Protocol/resonate-proxy/internal/protocol"
)

// Client talks to one proxy over HTTP
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for addr, either host:port or a full http URL.
// A nil httpClient uses a client with a 30s timeout.
func New(addr string, httpClient *http.Client) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", addr, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: base, http: httpClient}, nil
}

// url joins an escaped path onto the base URL.
func (c *Client) url(escaped string, query url.Values) string {
	u := *c.base
	raw := strings.TrimSuffix(c.base.EscapedPath(), "/") + escaped
	u.Path, _ = url.PathUnescape(raw)
	u.RawPath = raw
	u.RawQuery = query.Encode()
	return u.String()
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *protocol.ErrorBody `json:"error"`
}

// do sends a request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	op := "client." + strings.ToLower(method) + " " + path

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.InvalidArgument, op, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), rd)
	if err != nil {
		return apperr.Wrap(apperr.InvalidArgument, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, op, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apperr.E(apperr.UpstreamReadFailure, op, "HTTP %d with undecodable body: %v", resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error == nil {
			return apperr.E(apperr.Unknown, op, "HTTP %d", resp.StatusCode)
		}
		return &apperr.Error{Kind: apperr.Kind(env.Error.Kind), Op: op, Msg: env.Error.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return apperr.Wrap(apperr.UpstreamReadFailure, op, err)
		}
	}
	return nil
}

// Health returns the proxy's health report.
func (c *Client) Health(ctx context.Context) (protocol.Health, error) {
	var h protocol.Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/health", nil), nil)
	if err != nil {
		return h, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return h, apperr.Wrap(apperr.UpstreamUnavailable, "client.health", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, apperr.Wrap(apperr.UpstreamReadFailure, "client.health", err)
	}
	return h, nil
}

func (c *Client) Status(ctx context.Context) (player.Status, error) {
	var st player.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &st)
	return st, err
}

func (c *Client) Search(ctx context.Context, query string) ([]catalog.Song, error) {
	var songs []catalog.Song
	err := c.do(ctx, http.MethodGet, "/api/search", url.Values{"q": {query}}, nil, &songs)
	return songs, err
}

func (c *Client) Artists(ctx context.Context) ([]catalog.Artist, error) {
	var artists []catalog.Artist
	err := c.do(ctx, http.MethodGet, "/api/artists", nil, nil, &artists)
	return artists, err
}

func (c *Client) Song(ctx context.Context, id string) (catalog.Song, error) {
	var song catalog.Song
	err := c.do(ctx, http.MethodGet, "/api/songs/"+url.PathEscape(id), nil, nil, &song)
	return song, err
}

// Play starts songID. song may carry metadata the proxy should use as is.
func (c *Client) Play(ctx context.Context, songID string, song *catalog.Song) (player.Status, error) {
	var st player.Status
	var body interface{}
	if song != nil {
		body = protocol.PlayRequest{Song: song}
	}
	err := c.do(ctx, http.MethodPost, "/api/play/"+url.PathEscape(songID), nil, body, &st)
	return st, err
}

func (c *Client) Pause(ctx context.Context) (player.Status, error) {
	return c.command(ctx, "/api/pause", nil)
}

func (c *Client) Resume(ctx context.Context) (player.Status, error) {
	return c.command(ctx, "/api/resume", nil)
}

func (c *Client) Stop(ctx context.Context) (player.Status, error) {
	return c.command(ctx, "/api/stop", nil)
}

func (c *Client) Seek(ctx context.Context, positionMS int64) (player.Status, error) {
	return c.command(ctx, "/api/seek", protocol.SeekRequest{PositionMS: &positionMS})
}

func (c *Client) SetVolume(ctx context.Context, level float64) (player.Status, error) {
	return c.command(ctx, "/api/volume", protocol.VolumeRequest{Volume: &level})
}

func (c *Client) command(ctx context.Context, path string, body interface{}) (player.Status, error) {
	var st player.Status
	err := c.do(ctx, http.MethodPost, path, nil, body, &st)
	return st, err
}

// StreamURL returns the audio URL for songID. format and bitrate (kbps) are
// optional; an empty format with zero bitrate requests the source bytes.
func (c *Client) StreamURL(songID, format string, bitrate int) string {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	if bitrate > 0 {
		q.Set("bitrate", fmt.Sprint(bitrate))
	}
	return c.url("/stream/"+url.PathEscape(songID), q)
}
