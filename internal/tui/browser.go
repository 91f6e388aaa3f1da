// Package tui is the terminal server browser behind coopctl browse.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/coop-adventure/sessions/internal/session"
)

// ListingMsg replaces the listed sessions. A non-nil Err keeps the previous
// listing and is shown in the status bar.
type ListingMsg struct {
	Results []session.SearchResult
	Err     error
}

// Model is the root Bubble Tea model for the browser.
type Model struct {
	keys    KeyMap
	spinner spinner.Model
	width   int
	height  int

	provider string
	refresh  tea.Cmd

	results  []session.SearchResult
	selected int
	loading  bool
	err      error
	chosen   string
}

// New creates a browser. refresh is run at start-up and on the refresh key;
// it must eventually yield a ListingMsg. Listings may also be pushed with
// tea.Program.Send.
func New(provider string, refresh tea.Cmd) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorAccent)
	return Model{
		keys:     DefaultKeyMap(),
		spinner:  sp,
		provider: provider,
		refresh:  refresh,
		loading:  refresh != nil,
	}
}

// Chosen returns the server name picked with the join key, if any.
func (m Model) Chosen() (string, bool) {
	return m.chosen, m.chosen != ""
}

func (m Model) Init() tea.Cmd {
	if m.refresh == nil {
		return nil
	}
	return tea.Batch(m.spinner.Tick, m.refresh)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ListingMsg:
		m.loading = false
		m.err = msg.Err
		if msg.Err == nil {
			m.results = msg.Results
			if m.selected >= len(m.results) {
				m.selected = 0
			}
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.results) > 0 {
			m.selected = (m.selected + 1) % len(m.results)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.results) > 0 {
			m.selected = (m.selected - 1 + len(m.results)) % len(m.results)
		}
		return m, nil

	case key.Matches(msg, m.keys.Join):
		if len(m.results) == 0 {
			return m, nil
		}
		r := m.results[m.selected]
		if r.OpenSlots <= 0 {
			m.err = fmt.Errorf("%s is full", r.ServerName())
			return m, nil
		}
		m.chosen = r.ServerName()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Refresh):
		if m.refresh == nil || m.loading {
			return m, nil
		}
		m.loading = true
		return m, tea.Batch(m.spinner.Tick, m.refresh)
	}
	return m, nil
}

func (m Model) View() string {
	width := m.width
	if width < 50 {
		width = 50
	}

	title := StyleHeader.Render(" CO-OP SERVERS ")
	var lines []string
	if len(m.results) == 0 {
		lines = append(lines, StyleDimmed.Render("  No sessions found."))
	}
	for i, r := range m.results {
		lines = append(lines, m.renderRow(i, r, width-4))
	}

	help := StyleDimmed.Render("j/k:select  enter:join  r:refresh  q:quit")
	content := lipgloss.JoinVertical(lipgloss.Left,
		title, "", strings.Join(lines, "\n"), "", m.statusLine(), help)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder).
		Render(content)
}

func (m Model) renderRow(i int, r session.SearchResult, width int) string {
	cursor := "  "
	name := r.ServerName()
	if i == m.selected {
		cursor = "> "
		name = StyleSelected.Render(name)
	}

	slots := lipgloss.NewStyle().
		Foreground(SlotColor(r.OpenSlots, r.MaxSlots)).
		Render(fmt.Sprintf("%d/%d open", r.OpenSlots, r.MaxSlots))

	var tags []string
	if r.LAN {
		tags = append(tags, "lan")
	}
	if r.PingMS > 0 {
		tags = append(tags, fmt.Sprintf("%dms", r.PingMS))
	}
	if r.OwnerName != "" {
		tags = append(tags, "host "+r.OwnerName)
	}

	row := fmt.Sprintf("%s%s  %s  %s", cursor, name, slots, StyleDimmed.Render(strings.Join(tags, " · ")))
	return lipgloss.NewStyle().MaxWidth(width).Render(row)
}

func (m Model) statusLine() string {
	sep := lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")
	parts := []string{
		fmt.Sprintf("provider %s", m.provider),
		fmt.Sprintf("%d sessions", len(m.results)),
	}
	if m.loading {
		parts = append(parts, m.spinner.View()+" searching")
	}
	line := strings.Join(parts, sep)
	if m.err != nil {
		line += sep + StyleError.Render(m.err.Error())
	}
	return line
}
