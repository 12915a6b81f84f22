package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Border styles
var (
	StyleBorder = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("241"))
)

// StatusStyle returns the style for a node status.
func StatusStyle(s scheduler.TaskStatus) lipgloss.Style {
	switch s {
	case scheduler.StatusRunning:
		return StyleStatusRunning
	case scheduler.StatusCompleted:
		return StyleStatusComplete
	case scheduler.StatusError:
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}
