// ABOUTME: LRU cache of song metadata in front of any backend
// ABOUTME: Songs are immutable once fetched so cached entries never go stale
package catalog

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached decorates a Service with an LRU over Song lookups. Search results
// also warm the cache. Streams are never cached.
type Cached struct {
	Service
	songs *lru.Cache[string, Song]
}

func NewCached(svc Service, size int) (*Cached, error) {
	cache, err := lru.New[string, Song](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create song cache: %w", err)
	}
	return &Cached{Service: svc, songs: cache}, nil
}

func (c *Cached) Song(ctx context.Context, id string) (Song, error) {
	if s, ok := c.songs.Get(id); ok {
		return s, nil
	}
	s, err := c.Service.Song(ctx, id)
	if err != nil {
		return Song{}, err
	}
	c.songs.Add(id, s)
	return s, nil
}

func (c *Cached) Search(ctx context.Context, query string) ([]Song, error) {
	songs, err := c.Service.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, s := range songs {
		c.songs.Add(s.ID, s)
	}
	return songs, nil
}

// Len returns the number of cached songs.
func (c *Cached) Len() int {
	return c.songs.Len()
}
