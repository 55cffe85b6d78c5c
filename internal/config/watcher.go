// ABOUTME: Hot reload of transcode settings when the config file changes
// ABOUTME: Uses fsnotify on the file's directory so editor rename-saves are seen
package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Static serves fixed transcode settings.
type Static Transcode

func (s Static) Transcode() Transcode {
	return Transcode(s)
}

// Watcher keeps the latest valid transcode settings from a config file.
type Watcher struct {
	path     string
	current  atomic.Pointer[Transcode]
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	closed   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	onReload func(Transcode)
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// OnReload registers fn to run after each successful reload.
func OnReload(fn func(Transcode)) WatchOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher starts watching path. initial is served until the first reload.
func NewWatcher(path string, initial Transcode, logger zerolog.Logger, opts ...WatchOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:    abs,
		watcher: fw,
		logger:  logger.With().Str("component", "config").Logger(),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current.Store(&initial)

	go w.watchLoop()
	return w, nil
}

// Transcode returns the current settings.
func (w *Watcher) Transcode() Transcode {
	return *w.current.Load()
}

// Close stops watching and waits for the loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.closed)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous transcode settings")
		return
	}

	t := cfg.Backend.Transcode
	prev := w.current.Swap(&t)
	if *prev != t {
		w.logger.Info().
			Bool("enabled", t.Enabled).
			Str("codec", t.Codec).
			Int("bitrate", t.Bitrate).
			Msg("transcode settings reloaded")
	}
	if w.onReload != nil {
		w.onReload(t)
	}
}
