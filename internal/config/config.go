// ABOUTME: Process configuration loaded with koanf from defaults and a YAML file
// ABOUTME: Holds backend, transcode, event queue, discovery and dashboard settings
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Listen    string    `koanf:"listen"`
	Name      string    `koanf:"name"`
	Log       Log       `koanf:"log"`
	Backend   Backend   `koanf:"backend"`
	Events    Events    `koanf:"events"`
	Discovery Discovery `koanf:"discovery"`
	Dashboard Dashboard `koanf:"dashboard"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	File   string `koanf:"file"`
}

type Backend struct {
	Type      string    `koanf:"type"` // subsonic or directory
	CacheSize int       `koanf:"cache_size"`
	Subsonic  Subsonic  `koanf:"subsonic"`
	Directory Directory `koanf:"directory"`
	Transcode Transcode `koanf:"transcode"`
}

type Subsonic struct {
	URL                string        `koanf:"url"`
	Username           string        `koanf:"username"`
	Password           string        `koanf:"password"`
	ClientName         string        `koanf:"client_name"`
	PasswordAuth       bool          `koanf:"password_auth"` // send the password instead of a salted token
	CustomCA           string        `koanf:"custom_ca"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
	Timeout            time.Duration `koanf:"timeout"`
}

type Directory struct {
	Root string `koanf:"root"`
}

// Transcode is the per-backend target profile. It is re-read on every stream
// request so edits to the config file apply without a restart.
type Transcode struct {
	Enabled bool   `koanf:"enabled"`
	Codec   string `koanf:"codec"`
	Bitrate int    `koanf:"bitrate"` // bits per second
}

// Bitrate bounds accepted for a transcode profile, in bits per second.
const (
	MinBitrate = 6000
	MaxBitrate = 510000
)

type Events struct {
	QueueSize int `koanf:"queue_size"`
}

type Discovery struct {
	Enabled bool `koanf:"enabled"`
}

type Dashboard struct {
	Enabled bool `koanf:"enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: ":8927",
		Log:    Log{Level: "info", Format: "json"},
		Backend: Backend{
			Type:      "subsonic",
			CacheSize: 512,
			Subsonic:  Subsonic{Timeout: 30 * time.Second},
			Transcode: Transcode{Enabled: true, Codec: "opus", Bitrate: 96000},
		},
		Events:    Events{QueueSize: 64},
		Discovery: Discovery{Enabled: true},
	}
}

// Load reads defaults, then overlays the YAML file at path when path is set.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Codecs that the streaming engine can produce, or pass through untouched.
var knownCodecs = map[string]bool{
	"opus": true,
	"wav":  true,
	"pcm":  true,
	"mp3":  true,
	"flac": true,
}

// KnownCodec reports whether codec is a recognised transcode target.
func KnownCodec(codec string) bool {
	return knownCodecs[codec]
}

// Validate checks the configuration for values the rest of the process cannot handle.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case "subsonic":
		if c.Backend.Subsonic.URL == "" {
			return fmt.Errorf("backend.subsonic.url is required")
		}
	case "directory":
		if c.Backend.Directory.Root == "" {
			return fmt.Errorf("backend.directory.root is required")
		}
	default:
		return fmt.Errorf("unknown backend type: %q", c.Backend.Type)
	}

	if c.Backend.CacheSize < 0 {
		return fmt.Errorf("backend.cache_size must not be negative")
	}
	if err := c.Backend.Transcode.Validate(); err != nil {
		return err
	}
	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("events.queue_size must be positive, got %d", c.Events.QueueSize)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format: %q", c.Log.Format)
	}
	return nil
}

// Validate checks codec and bitrate.
func (t Transcode) Validate() error {
	if !KnownCodec(t.Codec) {
		return fmt.Errorf("unknown transcode codec: %q", t.Codec)
	}
	if t.Bitrate != 0 && (t.Bitrate < MinBitrate || t.Bitrate > MaxBitrate) {
		return fmt.Errorf("transcode bitrate out of range: %d", t.Bitrate)
	}
	return nil
}
