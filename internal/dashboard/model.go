// ABOUTME: Bubbletea model for the proxy dashboard
// ABOUTME: Folds player events and periodic counts into a rendered view
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-proxy/internal/events"
	"github.com/Resonate-Protocol/resonate-proxy/internal/player"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type tickMsg time.Time
type eventMsg events.Event

type model struct {
	config Config
	counts Counts

	status   player.Status
	statusAt time.Time
	lastSeq  uint64
	lastEnd  string

	subscribers int
	streams     int

	now       func() time.Time
	startTime time.Time
	quitting  bool
}

func newModel(config Config, status player.Status, counts Counts) model {
	m := model{
		config:    config,
		counts:    counts,
		status:    status,
		now:       time.Now,
		startTime: time.Now(),
	}
	m.statusAt = m.now()
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *model) refresh() {
	if m.counts != nil {
		m.subscribers, m.streams = m.counts()
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.refresh()
		return m, tickEvery()

	case eventMsg:
		m.lastSeq = msg.Seq
		switch p := msg.Payload.(type) {
		case player.Status:
			m.status = p
			m.statusAt = m.now()
		case events.TrackEnded:
			m.lastEnd = p.SongID
		}
	}

	return m, nil
}

// position extrapolates the last reported position while playing.
func (m model) position() float64 {
	pos := m.status.Position
	if m.status.State == player.Playing {
		pos += m.now().Sub(m.statusAt).Seconds()
	}
	if m.status.Duration > 0 && pos > m.status.Duration {
		pos = m.status.Duration
	}
	return pos
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down proxy...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Resonate Proxy"))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(headerStyle.Render(label))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	row("Name: ", m.config.Name)
	row("Listen: ", m.config.Addr)
	row("Uptime: ", m.now().Sub(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	row("State: ", string(m.status.State))
	song := "-"
	if s := m.status.CurrentSong; s != nil {
		song = s.Title
		if s.Artist != "" {
			song = s.Artist + " - " + s.Title
		}
	}
	row("Song: ", song)
	row("Position: ", fmt.Sprintf("%s / %s", clock(m.position()), clock(m.status.Duration)))
	row("Volume: ", fmt.Sprintf("%d%%", int(m.status.Volume*100+0.5)))
	if m.lastEnd != "" {
		row("Last ended: ", m.lastEnd)
	}
	b.WriteString("\n")

	row("Subscribers: ", fmt.Sprintf("%d", m.subscribers))
	row("Streams: ", fmt.Sprintf("%d", m.streams))
	row("Events: ", fmt.Sprintf("%d", m.lastSeq))

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func clock(seconds float64) string {
	if seconds <= 0 {
		return "0:00"
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
