package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// refreshInterval is the diagnostics polling period.
const refreshInterval = 2 * time.Second

// FetchFunc retrieves one diagnostics payload.
type FetchFunc func() (map[string]any, error)

// keyMap defines the key bindings.
type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

type tickMsg time.Time

type dataMsg struct {
	data map[string]any
	err  error
}

// StatsModel is the Bubble Tea model for the diagnostics view.
type StatsModel struct {
	fetch    FetchFunc
	data     map[string]any
	err      error
	width    int
	quitting bool
}

// NewStatsModel creates a stats model polling fetch.
func NewStatsModel(fetch FetchFunc) StatsModel {
	return StatsModel{fetch: fetch}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return tea.Batch(m.load(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m StatsModel) load() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		data, err := fetch()
		return dataMsg{data: data, err: err}
	}
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.load(), tick())

	case dataMsg:
		m.data = msg.data
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.load()
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Bridge Diagnostics"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render("fetch failed: " + m.err.Error()))
	} else if m.data == nil {
		b.WriteString(HelpStyle.Render("loading..."))
	} else {
		b.WriteString(m.renderSummary())
		b.WriteString("\n\n")
		b.WriteString(m.renderCircuits())
	}

	help := HelpStyle.Render("Press r to refresh, q to quit")
	return b.String() + "\n" + help
}

func (m StatsModel) renderSummary() string {
	boxes := []string{
		m.renderStatBox("Version", fmt.Sprint(m.data["version"])),
		m.renderStatBox("Active Ops", fmt.Sprint(m.data["active_operations"])),
	}
	if cacheData, ok := m.data["cache"].(map[string]any); ok {
		boxes = append(boxes,
			m.renderStatBox("Cached Files", fmt.Sprint(cacheData["files"])),
			m.renderStatBox("Cache Bytes", fmt.Sprint(cacheData["total_bytes"])),
		)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func (m StatsModel) renderStatBox(label, value string) string {
	content := StatValueStyle.Render(value) + "\n" + StatLabelStyle.Render(label)
	return StatBoxStyle.Render(content)
}

func (m StatsModel) renderCircuits() string {
	circuits, ok := m.data["circuits"].([]any)
	if !ok || len(circuits) == 0 {
		return HelpStyle.Render("no circuits registered")
	}

	type row struct {
		name, state string
		failures    any
	}
	rows := make([]row, 0, len(circuits))
	for _, c := range circuits {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, row{
			name:     fmt.Sprint(cm["name"]),
			state:    fmt.Sprint(cm["state"]),
			failures: cm["consecutive_failures"],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Circuits"))
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  %-20s %s  failures=%v\n",
			r.name, circuitStyle(r.state).Render(r.state), r.failures))
	}
	return b.String()
}

// RunStats runs the diagnostics TUI until the user quits.
func RunStats(fetch FetchFunc) error {
	p := tea.NewProgram(NewStatsModel(fetch))
	_, err := p.Run()
	return err
}
