// ABOUTME: In-memory backend for tests and demos
// ABOUTME: Serves songs and their bytes from maps guarded by a mutex
package catalog

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
)

// Memory is a Service backed by in-process data.
type Memory struct {
	mu      sync.RWMutex
	songs   map[string]Song
	data    map[string][]byte
	fetches int
}

func NewMemory() *Memory {
	return &Memory{
		songs: make(map[string]Song),
		data:  make(map[string][]byte),
	}
}

// Add registers song with its raw bytes. Size is filled from data.
func (m *Memory) Add(song Song, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	song.Size = int64(len(data))
	if song.ContentType == "" && song.Suffix != "" {
		song.ContentType = audio.MimeType(song.Suffix)
	}
	m.songs[song.ID] = song
	m.data[song.ID] = data
}

// Fetches returns how many times FetchRawStream succeeded.
func (m *Memory) Fetches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches
}

func (m *Memory) Search(ctx context.Context, query string) ([]Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(query)
	songs := []Song{}
	for _, s := range m.songs {
		hay := strings.ToLower(s.Artist + " " + s.Album + " " + s.Title)
		if strings.Contains(hay, q) {
			songs = append(songs, s)
		}
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].ID < songs[j].ID })
	return songs, nil
}

func (m *Memory) ListArtists(ctx context.Context) ([]Artist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	albums := map[string]map[string]bool{}
	for _, s := range m.songs {
		if albums[s.Artist] == nil {
			albums[s.Artist] = map[string]bool{}
		}
		albums[s.Artist][s.Album] = true
	}
	artists := make([]Artist, 0, len(albums))
	for name, set := range albums {
		artists = append(artists, Artist{ID: name, Name: name, AlbumCount: len(set)})
	}
	sort.Slice(artists, func(i, j int) bool { return artists[i].Name < artists[j].Name })
	return artists, nil
}

func (m *Memory) Song(ctx context.Context, id string) (Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.songs[id]
	if !ok {
		return Song{}, apperr.E(apperr.NotFound, "catalog.Song", "song %q not found", id)
	}
	return s, nil
}

func (m *Memory) FetchRawStream(ctx context.Context, id string, rng *ByteRange) (*RawStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "catalog.FetchRawStream", "song %q not found", id)
	}

	want := ByteRange{Start: 0, End: -1}
	if rng != nil {
		want = *rng
	}
	resolved, err := want.Resolve(int64(len(data)))
	if err != nil {
		return nil, err
	}

	m.fetches++
	body := bytes.NewReader(data[resolved.Start : resolved.End+1])
	return &RawStream{
		ContentLength: int64(len(data)),
		Mime:          m.songs[id].ContentType,
		Range:         resolved,
		Body:          &ctxBody{ctx: ctx, Reader: body, Closer: io.NopCloser(nil)},
	}, nil
}
