package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/vdt/cv-notify/internal/model"
	"github.com/vdt/cv-notify/internal/stream"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// PanelStyle wraps overlay content areas such as help and setup.
var PanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// DimmedStyle de-emphasizes read notifications.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// UnreadBadgeStyle renders the unread counter in the header.
var UnreadBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorRed).
	Padding(0, 1)

// KindStyle returns a color-coded style for a notification kind badge.
func KindStyle(kind model.Kind) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch kind {
	case model.KindSuccess:
		return base.Foreground(ColorGreen)
	case model.KindWarning:
		return base.Foreground(ColorYellow)
	case model.KindError:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorBlue)
	}
}

// RequestStatusStyle returns a color-coded style for the CV update
// request lifecycle tag.
func RequestStatusStyle(status model.RequestStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case model.StatusRequested:
		return base.Foreground(ColorOrange)
	case model.StatusProcessed:
		return base.Foreground(ColorGreen)
	case model.StatusCancelled:
		return base.Foreground(ColorGray)
	default:
		return base.Foreground(ColorGray)
	}
}

// ConnStateStyle returns a color-coded style for the stream connection
// state shown in the header.
func ConnStateStyle(state stream.State) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch state {
	case stream.StateOpen:
		return base.Foreground(ColorGreen)
	case stream.StateConnecting, stream.StateReconnecting:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorRed)
	}
}
