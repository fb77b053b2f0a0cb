package cmd

import "github.com/charmbracelet/lipgloss"

// Terminal palette for the interactive commands.
var (
	primaryColor = lipgloss.Color("#D2A679")
	mutedColor   = lipgloss.Color("#888888")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	toolStyle    = lipgloss.NewStyle().
			Foreground(primaryColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(mutedColor).
			PaddingLeft(1)
)

// stateStyle colors a connection state label.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "ready":
		return successStyle
	case "failed":
		return errorStyle
	case "disabled", "closed":
		return mutedStyle
	default:
		return warningStyle
	}
}
