// ABOUTME: Local directory backend serving audio files from disk
// ABOUTME: Metadata comes from paths, durations from frame or header probes
package catalog

import (
	"context"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio/mpeg"
	"github.com/rs/zerolog"
)

// Directory serves .mp3, .flac and .wav files under a root directory. Song
// IDs are hex-encoded slash-separated paths relative to the root.
type Directory struct {
	root   string
	logger zerolog.Logger
}

// NewDirectory checks that root exists and is a directory.
func NewDirectory(root string, logger zerolog.Logger) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "catalog.NewDirectory", err)
	}
	if !info.IsDir() {
		return nil, apperr.E(apperr.UpstreamUnavailable, "catalog.NewDirectory", "%s is not a directory", abs)
	}
	return &Directory{
		root:   abs,
		logger: logger.With().Str("component", "directory").Logger(),
	}, nil
}

func supportedSuffix(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case audio.CodecMP3, audio.CodecFLAC, audio.CodecWAV:
		return ext
	}
	return ""
}

// walk calls fn with the relative path of every supported file.
func (d *Directory) walk(ctx context.Context, fn func(rel string) error) error {
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || supportedSuffix(entry.Name()) == "" {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel))
	})
	if err != nil && ctx.Err() == nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "catalog.walk", err)
	}
	return err
}

// pathMeta derives artist, album and title from "Artist/Album/Artist - Title.ext".
func pathMeta(rel string) (artist, album, title string) {
	parts := strings.Split(rel, "/")
	base := parts[len(parts)-1]
	title = strings.TrimSuffix(base, filepath.Ext(base))

	if len(parts) >= 2 {
		album = parts[len(parts)-2]
	}
	if len(parts) >= 3 {
		artist = parts[len(parts)-3]
	}
	if a, t, ok := strings.Cut(title, " - "); ok {
		artist = strings.TrimSpace(a)
		title = strings.TrimSpace(t)
	}
	if artist == "" {
		artist = "Unknown Artist"
	}
	if album == "" {
		album = "Unknown Album"
	}
	return artist, album, title
}

func (d *Directory) Search(ctx context.Context, query string) ([]Song, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	songs := []Song{}

	err := d.walk(ctx, func(rel string) error {
		artist, album, title := pathMeta(rel)
		hay := strings.ToLower(artist + " " + album + " " + title)
		if q != "" && !strings.Contains(hay, q) {
			return nil
		}
		song, err := d.songAt(rel)
		if err != nil {
			d.logger.Warn().Err(err).Str("path", rel).Msg("skipping unreadable file")
			return nil
		}
		songs = append(songs, song)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return songs, nil
}

func (d *Directory) ListArtists(ctx context.Context) ([]Artist, error) {
	albums := map[string]map[string]bool{}

	err := d.walk(ctx, func(rel string) error {
		artist, album, _ := pathMeta(rel)
		if albums[artist] == nil {
			albums[artist] = map[string]bool{}
		}
		albums[artist][album] = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	artists := make([]Artist, 0, len(albums))
	for name, set := range albums {
		artists = append(artists, Artist{
			ID:         hex.EncodeToString([]byte("artist:" + name)),
			Name:       name,
			AlbumCount: len(set),
		})
	}
	sort.Slice(artists, func(i, j int) bool { return artists[i].Name < artists[j].Name })
	return artists, nil
}

// resolve maps an ID back to a relative path inside the root.
func (d *Directory) resolve(op, id string) (string, error) {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return "", apperr.E(apperr.NotFound, op, "song %q not found", id)
	}
	rel := filepath.ToSlash(filepath.Clean(string(raw)))
	if rel == "." || strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) || supportedSuffix(rel) == "" {
		return "", apperr.E(apperr.NotFound, op, "song %q not found", id)
	}
	return rel, nil
}

func (d *Directory) Song(ctx context.Context, id string) (Song, error) {
	rel, err := d.resolve("catalog.Song", id)
	if err != nil {
		return Song{}, err
	}
	return d.songAt(rel)
}

func (d *Directory) songAt(rel string) (Song, error) {
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return Song{}, apperr.E(apperr.NotFound, "catalog.Song", "song %q not found", rel)
		}
		return Song{}, apperr.Wrap(apperr.UpstreamUnavailable, "catalog.Song", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Song{}, apperr.Wrap(apperr.UpstreamUnavailable, "catalog.Song", err)
	}

	suffix := supportedSuffix(rel)
	artist, album, title := pathMeta(rel)
	song := Song{
		ID:          hex.EncodeToString([]byte(rel)),
		Title:       title,
		Artist:      artist,
		Album:       album,
		Size:        info.Size(),
		Suffix:      suffix,
		ContentType: audio.MimeType(suffix),
	}

	duration, bitrate, err := probeDuration(suffix, f, info.Size())
	if err != nil {
		d.logger.Debug().Err(err).Str("path", rel).Msg("duration probe failed")
	}
	song.Duration = duration
	song.BitRate = bitrate
	return song, nil
}

// probeDuration returns seconds and kbps for a local file.
func probeDuration(suffix string, r io.Reader, size int64) (float64, int, error) {
	switch suffix {
	case audio.CodecMP3:
		info, err := mpeg.Probe(r, size)
		if err != nil {
			return 0, 0, err
		}
		return info.Duration, info.Bitrate / 1000, nil
	case audio.CodecFLAC:
		dec, err := decode.NewFLAC(r)
		if err != nil {
			return 0, 0, err
		}
		f := dec.Format()
		if f.SampleRate == 0 {
			return 0, 0, nil
		}
		seconds := float64(dec.TotalSamples()) / float64(f.SampleRate)
		kbps := 0
		if seconds > 0 {
			kbps = int(float64(size*8) / seconds / 1000)
		}
		return seconds, kbps, nil
	case audio.CodecWAV:
		dec, err := decode.NewWAV(r)
		if err != nil {
			return 0, 0, err
		}
		f := dec.Format()
		bytesPerSecond := f.SampleRate * f.Channels * f.BitDepth / 8
		if bytesPerSecond == 0 {
			return 0, 0, nil
		}
		return float64(size-44) / float64(bytesPerSecond), bytesPerSecond * 8 / 1000, nil
	}
	return 0, 0, nil
}

func (d *Directory) FetchRawStream(ctx context.Context, id string, rng *ByteRange) (*RawStream, error) {
	const op = "catalog.FetchRawStream"
	rel, err := d.resolve(op, id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.E(apperr.NotFound, op, "song %q not found", id)
		}
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, op, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, op, err)
	}

	total := info.Size()
	want := ByteRange{Start: 0, End: -1}
	if rng != nil {
		want = *rng
	}
	resolved, err := want.Resolve(total)
	if err != nil {
		f.Close()
		return nil, err
	}

	section := io.NewSectionReader(f, resolved.Start, resolved.Length())
	return &RawStream{
		ContentLength: total,
		Mime:          audio.MimeType(supportedSuffix(rel)),
		Range:         resolved,
		Body:          &ctxBody{ctx: ctx, Reader: section, Closer: f},
	}, nil
}

// ctxBody stops reading once ctx is cancelled, like an HTTP response body.
type ctxBody struct {
	ctx context.Context
	io.Reader
	io.Closer
}

func (b *ctxBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	return b.Reader.Read(p)
}
