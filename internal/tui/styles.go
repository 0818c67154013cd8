package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#3C3C5A"))

	markerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D7AFF"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	machineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#43BF6D"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
)

const (
	markerCollapsed = "▸"
	markerExpanded  = "▾"
	markerLeaf      = "•"
	markerLoading   = "…"
)
