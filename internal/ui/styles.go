// Package ui holds the terminal palette shared by the summariser surfaces.
package ui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the TUI.
var (
	ColorRed     = lipgloss.Color("#FF5F5F")
	ColorGreen   = lipgloss.Color("#5FD75F")
	ColorYellow  = lipgloss.Color("#FFD75F")
	ColorCyan    = lipgloss.Color("#5FD7FF")
	ColorBlue    = lipgloss.Color("#5F87FF")
	ColorGray    = lipgloss.Color("#808080")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	RecordingDotStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)

	IdleDotStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	BusyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	StatusStyle = lipgloss.NewStyle().
			Foreground(ColorWhite)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	PanelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	PanelTitleActiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorCyan)

	PanelBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorDimGray).
				Padding(0, 1)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	// Chat log bubbles.
	ChatQueryStyle = lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true)

	ChatAnswerStyle = lipgloss.NewStyle().
			Foreground(ColorWhite)

	ChatNoticeStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Italic(true)

	ChatErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	ChunkBadgeStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)
)
