package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. One accent color plus status colors.
const (
	ColorLime     = "154" // accent
	ColorLimeDim  = "106"
	ColorWhite    = "255"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds the styles used to render results.
type Styles struct {
	Header   lipgloss.Style
	Question lipgloss.Style
	Score    lipgloss.Style
	Template lipgloss.Style
	Unusable lipgloss.Style
	Note     lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Label    lipgloss.Style
	Dim      lipgloss.Style
	Panel    lipgloss.Style
}

// DefaultStyles returns the styled palette for terminals.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Question: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Score:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Template: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Unusable: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Note:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorRed)),
		Label:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:   plain,
		Question: plain,
		Score:    plain,
		Template: plain,
		Unusable: plain,
		Note:     plain,
		Warning:  plain,
		Error:    plain,
		Label:    plain,
		Dim:      plain,
		Panel:    plain,
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
