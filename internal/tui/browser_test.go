package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/coop-adventure/sessions/internal/session"
)

func result(name string, open, max int) session.SearchResult {
	return session.SearchResult{
		SessionID:  name,
		OpenSlots:  open,
		MaxSlots:   max,
		Attributes: map[string]string{session.AttrServerName: name},
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestListingAndNavigation(t *testing.T) {
	m := New("LOBBY", nil)
	m, _ = update(t, m, ListingMsg{Results: []session.SearchResult{
		result("Alpha", 1, 2),
		result("Beta", 3, 4),
	}})

	if !strings.Contains(m.View(), "Alpha") || !strings.Contains(m.View(), "Beta") {
		t.Fatal("view should list both servers")
	}

	m, _ = update(t, m, runes("j"))
	if m.selected != 1 {
		t.Fatalf("selected = %d after down, want 1", m.selected)
	}
	m, _ = update(t, m, runes("j"))
	if m.selected != 0 {
		t.Fatalf("selected = %d after wrap, want 0", m.selected)
	}
	m, _ = update(t, m, runes("k"))
	if m.selected != 1 {
		t.Fatalf("selected = %d after up, want 1", m.selected)
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if name, ok := m.Chosen(); !ok || name != "Beta" {
		t.Fatalf("Chosen() = %q, %v", name, ok)
	}
	if cmd == nil {
		t.Fatal("join should quit the program")
	}
}

func TestJoinFullSessionRefused(t *testing.T) {
	m := New("NULL", nil)
	m, _ = update(t, m, ListingMsg{Results: []session.SearchResult{result("Packed", 0, 2)}})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if _, ok := m.Chosen(); ok {
		t.Fatal("a full session should not be chosen")
	}
	if !strings.Contains(m.View(), "is full") {
		t.Error("view should explain the session is full")
	}
}

func TestEmptyListing(t *testing.T) {
	m := New("NULL", nil)
	if !strings.Contains(m.View(), "No sessions found") {
		t.Error("empty browser should say no sessions were found")
	}
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("join with no sessions should do nothing")
	}
	if _, ok := m.Chosen(); ok {
		t.Error("nothing should be chosen")
	}
}

func TestListingErrorKeepsResults(t *testing.T) {
	m := New("LOBBY", nil)
	m, _ = update(t, m, ListingMsg{Results: []session.SearchResult{result("Alpha", 1, 2)}})
	m, _ = update(t, m, ListingMsg{Err: errors.New("lobby unreachable")})

	if len(m.results) != 1 {
		t.Fatalf("results = %d, want previous listing kept", len(m.results))
	}
	if !strings.Contains(m.View(), "lobby unreachable") {
		t.Error("view should show the error")
	}
}

func TestRefresh(t *testing.T) {
	calls := 0
	refresh := func() tea.Msg {
		calls++
		return ListingMsg{}
	}
	m := New("NULL", refresh)
	if !m.loading {
		t.Fatal("browser with a refresh command starts loading")
	}
	if m.Init() == nil {
		t.Fatal("Init should run the refresh command")
	}

	m, _ = update(t, m, ListingMsg{})
	m, cmd := update(t, m, runes("r"))
	if cmd == nil || !m.loading {
		t.Fatal("refresh key should start a new search")
	}

	// A second refresh while one is in flight is ignored.
	_, cmd = update(t, m, runes("r"))
	if cmd != nil {
		t.Error("refresh while loading should be ignored")
	}
}

func TestSlotColor(t *testing.T) {
	tests := []struct {
		open, max int
		want      string
	}{
		{0, 4, string(ColorDanger)},
		{1, 4, string(ColorWarning)},
		{3, 4, string(ColorHealthy)},
	}
	for _, tt := range tests {
		if got := string(SlotColor(tt.open, tt.max)); got != tt.want {
			t.Errorf("SlotColor(%d, %d) = %s, want %s", tt.open, tt.max, got, tt.want)
		}
	}
}
