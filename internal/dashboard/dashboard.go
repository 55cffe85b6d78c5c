// ABOUTME: Terminal dashboard for the proxy
// ABOUTME: Shows player state, subscribers and live stream sessions using bubbletea
package dashboard

import (
	"context"
	"errors"

	"github.com/Resonate-Protocol/resonate-proxy/internal/events"
	"github.com/Resonate-Protocol/resonate-proxy/internal/player"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

// Player is the part of the controller the dashboard watches.
type Player interface {
	Status() player.Status
	Subscribe(name string) *events.Subscriber
}

// Counts reports how many subscribers and stream sessions are live.
type Counts func() (subscribers, streams int)

// Config holds dashboard configuration
type Config struct {
	Name string
	Addr string
}

// Dashboard runs the terminal UI
type Dashboard struct {
	config Config
	player Player
	counts Counts
	opts   []tea.ProgramOption
	logger zerolog.Logger
}

// New creates a dashboard. Extra program options are passed to bubbletea.
func New(config Config, p Player, counts Counts, logger zerolog.Logger, opts ...tea.ProgramOption) *Dashboard {
	return &Dashboard{
		config: config,
		player: p,
		counts: counts,
		opts:   opts,
		logger: logger.With().Str("component", "dashboard").Logger(),
	}
}

// Run shows the dashboard until the user quits or ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	sub := d.player.Subscribe("dashboard")
	defer sub.Close()

	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, d.opts...)
	program := tea.NewProgram(newModel(d.config, d.player.Status(), d.counts), opts...)

	go func() {
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				return
			}
			program.Send(eventMsg(ev))
		}
	}()

	d.logger.Debug().Msg("dashboard started")
	_, err := program.Run()
	if err != nil && (ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled)) {
		return nil
	}
	return err
}
