// Package ptytop is the interactive PTY dashboard behind "honk pty top".
// It reads the daemon cache and never signals anything.
package ptytop

import (
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/honkhq/honk/internal/report"
)

const (
	// refreshInterval is how often the cache is re-read.
	refreshInterval = 5 * time.Second
	// topN is how many holders the table shows.
	topN = 20
)

// Loader returns the latest report.
type Loader func() (report.Aggregate, error)

// Model is the bubbletea model for the dashboard.
type Model struct {
	width  int
	height int

	load     Loader
	data     *report.Aggregate
	err      error
	loadedAt time.Time
	now      func() time.Time

	table    table.Model
	keys     KeyMap
	help     help.Model
	showHelp bool
}

// New creates a dashboard reading from load.
func New(load Loader) *Model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(topN),
	)
	t.SetStyles(tableStyles())
	return &Model{
		load:  load,
		now:   time.Now,
		table: t,
		keys:  DefaultKeyMap(),
		help:  help.New(),
	}
}

// Run starts the dashboard in the alternate screen and blocks until quit.
func Run(load Loader) error {
	_, err := tea.NewProgram(New(load), tea.WithAltScreen()).Run()
	return err
}

// loadedMsg carries the result of a load.
type loadedMsg struct {
	data report.Aggregate
	err  error
	at   time.Time
}

// tickMsg is sent on each refresh interval.
type tickMsg time.Time

// Init loads once and starts the refresh ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetch(),
		tick(),
		tea.SetWindowTitle("honk pty top"),
	)
}

func (m *Model) fetch() tea.Cmd {
	load, now := m.load, m.now
	return func() tea.Msg {
		data, err := load()
		return loadedMsg{data: data, err: err, at: now()}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(min(topN, max(3, msg.Height-12)))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
			return m, nil
		}

	case loadedMsg:
		m.loadedAt = msg.at
		if msg.err != nil {
			// Keep the last good data on screen.
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		data := msg.data
		m.data = &data
		m.table.SetRows(rows(data))
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the dashboard.
func (m *Model) View() string {
	return m.renderView()
}

// columns sizes the table to width, giving the identity column the slack.
func columns(width int) []table.Column {
	const fixed = 8 + 6 + 16 + 8
	ident := max(16, width-fixed)
	return []table.Column{
		{Title: "PID", Width: 8},
		{Title: "PTYs", Width: 6},
		{Title: "Category", Width: 16},
		{Title: "Process", Width: ident},
	}
}

func rows(agg report.Aggregate) []table.Row {
	n := min(topN, len(agg.Rows))
	out := make([]table.Row, 0, n)
	for _, r := range agg.Rows[:n] {
		out = append(out, table.Row{
			strconv.Itoa(r.PID),
			strconv.Itoa(r.PTYCount),
			r.Category.String(),
			r.Identity,
		})
	}
	return out
}
