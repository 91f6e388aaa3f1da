package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the browser's keyboard bindings.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Join    key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev server"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next server"),
		),
		Join: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "join"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}
