// ABOUTME: Entry point for the Resonate streaming proxy
// ABOUTME: Parses CLI flags, loads configuration and runs the gateway
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
	"github.com/Resonate-Protocol/resonate-proxy/internal/config"
	"github.com/Resonate-Protocol/resonate-proxy/internal/dashboard"
	"github.com/Resonate-Protocol/resonate-proxy/internal/discovery"
	"github.com/Resonate-Protocol/resonate-proxy/internal/events"
	"github.com/Resonate-Protocol/resonate-proxy/internal/gateway"
	"github.com/Resonate-Protocol/resonate-proxy/internal/player"
	"github.com/Resonate-Protocol/resonate-proxy/internal/stream"
	"github.com/Resonate-Protocol/resonate-proxy/internal/version"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	name       = flag.String("name", "", "Friendly name (default: hostname-resonate-proxy)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	tui        = flag.Bool("tui", false, "Show the terminal dashboard")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *tui {
		cfg.Dashboard.Enabled = true
	}
	if *noMDNS {
		cfg.Discovery.Enabled = false
	}
	if *name != "" {
		cfg.Name = *name
	}
	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Name = fmt.Sprintf("%s-%s", hostname, version.Product)
	}

	logger, closeLog, err := newLogger(cfg.Log, cfg.Dashboard.Enabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(2)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("proxy stopped with error")
		closeLog()
		os.Exit(1)
	}
	logger.Info().Msg("proxy stopped")
}

// newLogger builds the process logger. With the dashboard on, the terminal
// belongs to the UI so logs only go to the log file.
func newLogger(cfg config.Log, dashboardOn bool) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var console io.Writer = os.Stderr
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	writers := []io.Writer{}
	if !dashboardOn {
		writers = append(writers, console)
	}

	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("error opening log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = func() { _ = f.Close() }
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closeFn, nil
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("name", cfg.Name).
		Str("version", version.Version).
		Str("backend", cfg.Backend.Type).
		Msg("starting resonate proxy")

	var httpClient *http.Client
	if cfg.Backend.Type == "subsonic" {
		c, err := catalog.NewHTTPClient(cfg.Backend.Subsonic)
		if err != nil {
			return err
		}
		httpClient = c
	}
	svc, err := catalog.New(cfg.Backend, httpClient, logger)
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}

	var settings stream.SettingsSource = config.Static(cfg.Backend.Transcode)
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, cfg.Backend.Transcode, logger,
			config.OnReload(func(t config.Transcode) {
				logger.Info().Bool("enabled", t.Enabled).Str("codec", t.Codec).Int("bitrate", t.Bitrate).Msg("transcode settings reloaded")
			}))
		if err != nil {
			return err
		}
		defer w.Close()
		settings = w
	}

	broadcaster := events.New(cfg.Events.QueueSize, logger)
	engine := stream.NewEngine(svc, settings, logger)
	ctrl := player.New(svc, broadcaster, logger, player.WithCanceller(engine))
	engine.SetEndNotifier(ctrl)

	srv := gateway.New(gateway.Config{Addr: cfg.Listen, Name: cfg.Name}, svc, ctrl, engine, broadcaster, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		srv.Stop()
		broadcaster.Close()
		return nil
	})

	if cfg.Discovery.Enabled {
		g.Go(func() error {
			addr, ok := srv.Addr().(*net.TCPAddr)
			if !ok {
				return nil
			}
			adv := discovery.NewAdvertiser(discovery.Config{ServiceName: cfg.Name, Port: addr.Port}, logger)
			if err := adv.Run(ctx); err != nil {
				// Advertisement is optional; the gateway keeps serving.
				logger.Warn().Err(err).Msg("mDNS advertisement failed")
			}
			return nil
		})
	}

	if cfg.Dashboard.Enabled {
		g.Go(func() error {
			dash := dashboard.New(dashboard.Config{Name: cfg.Name, Addr: cfg.Listen}, ctrl,
				func() (int, int) { return broadcaster.Count(), engine.Sessions() }, logger)
			err := dash.Run(ctx)
			// Quitting the dashboard stops the proxy.
			stop()
			return err
		})
	}

	return g.Wait()
}
