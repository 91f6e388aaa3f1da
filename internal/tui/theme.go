package tui

import "github.com/charmbracelet/lipgloss"

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#06b6d4")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright).
			Background(ColorAccent)
	StyleDimmed   = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleSelected = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	StyleError    = lipgloss.NewStyle().Foreground(ColorDanger)
)

// SlotColor shades a session by how many slots remain.
func SlotColor(open, max int) lipgloss.Color {
	switch {
	case open <= 0:
		return ColorDanger
	case max > 0 && open*2 < max:
		return ColorWarning
	default:
		return ColorHealthy
	}
}
