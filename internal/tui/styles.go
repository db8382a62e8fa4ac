package tui

import (
	"loop/internal/exitcode"
	"loop/internal/loop"

	"github.com/charmbracelet/lipgloss"
)

// Color constants
const (
	ColorAccent    = "86"  // Cyan/green
	ColorSuccess   = "42"  // Green
	ColorWarning   = "214" // Orange
	ColorError     = "196" // Red
	ColorMuted     = "245" // Gray
	ColorHighlight = "212" // Pink
)

// Styles contains all styles for the watch view.
type Styles struct {
	Title    lipgloss.Style
	Command  lipgloss.Style
	Status   lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
	Spinner  lipgloss.Style
	Viewport lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorAccent)),
		Command: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorHighlight)),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSuccess)),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)),
		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorWarning)),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		Spinner: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorHighlight)),
		Viewport: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorMuted)).
			Padding(0, 1),
	}
}

// Status icons
const (
	IconRunning   = "●"
	IconSuccess   = "✓"
	IconFailed    = "✗"
	IconTimeout   = "⏱"
	IconCancelled = "⊘"
	IconWaiting   = "○"
)

// CodeStyle picks the style for an exit code.
func (s Styles) CodeStyle(code exitcode.Code) lipgloss.Style {
	switch {
	case code.Success():
		return s.Success
	case code == exitcode.Timeout || code == exitcode.Unknown:
		return s.Warning
	default:
		return s.Error
	}
}

// ReasonIcon returns the icon shown once the loop has stopped.
func ReasonIcon(out loop.Outcome) string {
	switch {
	case out.ExitCode == exitcode.Timeout:
		return IconTimeout
	case out.Reason == loop.StopCancelled:
		return IconCancelled
	case out.Reason == loop.StopLaunchFailure:
		return IconFailed
	default:
		return IconSuccess
	}
}

// ReasonStyle returns the style matching ReasonIcon.
func (s Styles) ReasonStyle(out loop.Outcome) lipgloss.Style {
	switch {
	case out.ExitCode == exitcode.Timeout, out.Reason == loop.StopCancelled:
		return s.Warning
	case out.Reason == loop.StopLaunchFailure:
		return s.Error
	default:
		return s.Success
	}
}
