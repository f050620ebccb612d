package ui

import "github.com/charmbracelet/lipgloss"

// Palette. Lime is the single accent color.
const (
	ColorLime     = "154"
	ColorLimeDim  = "106"
	ColorWhite    = "255"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds all UI styles for TUI rendering.
type Styles struct {
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style // task name
	Active   lipgloss.Style
	Progress lipgloss.Style

	Border    lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
	Speed     lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns styled components for TUI mode.
func DefaultStyles() Styles {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Styles{
		Header:   fg(ColorLime).Bold(true),
		Success:  fg(ColorLime),
		Warning:  fg(ColorYellow),
		Error:    fg(ColorRed),
		Dim:      fg(ColorDarkGray),
		Stage:    fg(ColorLimeDim),
		Active:   fg(ColorLime).Bold(true),
		Progress: fg(ColorLime),

		Border: fg(ColorDarkGray),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Sparkline: fg(ColorLime),
		Speed:     fg(ColorGray),
		Label:     fg(ColorGray),
	}
}

// NoColorStyles returns unstyled components for plain mode. The panel
// keeps its border.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:    plain,
		Success:   plain,
		Warning:   plain,
		Error:     plain,
		Dim:       plain,
		Stage:     plain,
		Active:    plain,
		Progress:  plain,
		Border:    plain,
		Panel:     plain.Border(lipgloss.RoundedBorder()).Padding(0, 1),
		Sparkline: plain,
		Speed:     plain,
		Label:     plain,
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
