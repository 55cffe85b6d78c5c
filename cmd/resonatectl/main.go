// ABOUTME: Command-line client for the Resonate streaming proxy
// ABOUTME: Sends player commands, searches the catalog and tails the event feed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/client"
	"github.com/Resonate-Protocol/resonate-proxy/internal/discovery"
	"github.com/Resonate-Protocol/resonate-proxy/internal/player"
	"github.com/rs/zerolog"
)

var (
	server   = flag.String("server", "localhost:8927", "Proxy address")
	discover = flag.Bool("discover", false, "Find the proxy over mDNS instead of using -server")
	timeout  = flag.Duration("timeout", 10*time.Second, "Request timeout")
	debug    = flag.Bool("debug", false, "Enable debug logging")
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: resonatectl [flags] <command> [args]

commands:
  status               show the player status
  search <query>       search the catalog
  artists              list artists
  play <song-id>       play a song
  pause | resume | stop
  seek <seconds>       seek within the current song
  volume <0..1>        set the volume
  url <song-id> [format] [kbps]
                       print the stream URL
  watch                print events until interrupted
  discover             list proxies on the local network

flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flag.Arg(0) == "discover" {
		if err := listProxies(ctx, logger); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	addr := *server
	if *discover {
		svc, err := firstProxy(ctx, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("discovery failed")
		}
		logger.Debug().Str("name", svc.Name).Str("addr", svc.Addr()).Msg("using discovered proxy")
		addr = svc.Addr()
	}

	c, err := client.New(addr, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("bad server address")
	}

	if err := run(ctx, c, flag.Args(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, args []string, logger zerolog.Logger) error {
	cmd, rest := args[0], args[1:]

	if cmd == "watch" {
		return watch(ctx, c, logger)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("%s needs %d argument(s)", cmd, n)
		}
		return nil
	}

	var (
		out interface{}
		err error
	)
	switch cmd {
	case "status":
		out, err = c.Status(ctx)
	case "search":
		if err := need(1); err != nil {
			return err
		}
		out, err = c.Search(ctx, rest[0])
	case "artists":
		out, err = c.Artists(ctx)
	case "play":
		if err := need(1); err != nil {
			return err
		}
		out, err = c.Play(ctx, rest[0], nil)
	case "pause":
		out, err = c.Pause(ctx)
	case "resume":
		out, err = c.Resume(ctx)
	case "stop":
		out, err = c.Stop(ctx)
	case "seek":
		if err := need(1); err != nil {
			return err
		}
		secs, perr := strconv.ParseFloat(rest[0], 64)
		if perr != nil {
			return fmt.Errorf("invalid position %q", rest[0])
		}
		out, err = c.Seek(ctx, int64(secs*1000))
	case "volume":
		if err := need(1); err != nil {
			return err
		}
		level, perr := strconv.ParseFloat(rest[0], 64)
		if perr != nil {
			return fmt.Errorf("invalid volume %q", rest[0])
		}
		out, err = c.SetVolume(ctx, level)
	case "url":
		if err := need(1); err != nil {
			return err
		}
		format, kbps, err := streamArgs(rest[1:])
		if err != nil {
			return err
		}
		fmt.Println(c.StreamURL(rest[0], format, kbps))
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	return printJSON(out)
}

// streamArgs parses the optional [format] [kbps] arguments of url.
func streamArgs(args []string) (string, int, error) {
	format, kbps := "", 0
	if len(args) > 0 {
		format = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return "", 0, fmt.Errorf("invalid bitrate %q: want kbps", args[1])
		}
		kbps = n
	}
	return format, kbps, nil
}

// browseWindow is how long discovery listens for answers.
const browseWindow = 3 * time.Second

func firstProxy(ctx context.Context, logger zerolog.Logger) (discovery.Service, error) {
	found, err := discovery.Browse(ctx, browseWindow, logger)
	if err != nil {
		return discovery.Service{}, err
	}
	if len(found) == 0 {
		return discovery.Service{}, fmt.Errorf("no proxy answered on %s", discovery.ServiceType)
	}
	return found[0], nil
}

func listProxies(ctx context.Context, logger zerolog.Logger) error {
	found, err := discovery.Browse(ctx, browseWindow, logger)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("no proxies found")
		return nil
	}
	for _, svc := range found {
		fmt.Printf("%s\t%s\tversion=%s\n", svc.Name, svc.Addr(), svc.Version)
	}
	return nil
}

func watch(ctx context.Context, c *client.Client, logger zerolog.Logger) error {
	feed, err := c.Watch(ctx, logger)
	if err != nil {
		return err
	}
	defer feed.Close()

	printStatus("snapshot", 0, feed.Snapshot)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-feed.Events:
			if !ok {
				return fmt.Errorf("event feed closed")
			}
			switch {
			case ev.Status != nil:
				printStatus(ev.Type, ev.Seq, *ev.Status)
			case ev.Ended != nil:
				fmt.Printf("#%d %s %s\n", ev.Seq, ev.Type, ev.Ended.SongID)
			}
		}
	}
}

func printStatus(label string, seq uint64, st player.Status) {
	song := "-"
	if st.CurrentSong != nil {
		song = st.CurrentSong.ID
		if st.CurrentSong.Title != "" {
			song = fmt.Sprintf("%s (%s)", st.CurrentSong.Title, st.CurrentSong.ID)
		}
	}
	fmt.Printf("#%d %s %s %s %.1f/%.1fs vol=%.2f\n", seq, label, st.State, song, st.Position, st.Duration, st.Volume)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
