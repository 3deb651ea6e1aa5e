package notiflist

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vdt/cv-notify/internal/model"
	"github.com/vdt/cv-notify/internal/theme"
)

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title }

// Title returns the notification title for the list.
func (i Item) Title() string { return i.Notification.Title }

// Description returns the notification body for the list.
func (i Item) Description() string { return i.Notification.Message }

// Delegate implements list.ItemDelegate for rendering notifications.
type Delegate struct{}

// Height returns the number of lines each item takes.
func (d Delegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d Delegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d Delegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification as a two-line entry: a headline
// with read marker, kind badge, and lifecycle tag, then the message.
func (d Delegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}

	n := it.Notification
	isSelected := index == m.Index()

	marker := "○"
	if !n.Read {
		marker = "●"
	}

	kindBadge := theme.KindStyle(n.Kind).Render(kindLabel(n.Kind))

	statusBadge := ""
	if n.Status != "" {
		statusBadge = theme.RequestStatusStyle(n.Status).Render(string(n.Status))
	}

	timeStr := theme.DimmedStyle.Render(relativeTime(n.CreatedAt))

	headline := fmt.Sprintf("%s %s %s%s  %s", marker, kindBadge, n.Title, statusBadge, timeStr)
	body := "  " + n.Message

	if n.Read {
		headline = theme.DimmedStyle.Render(headline)
		body = theme.DimmedStyle.Render(body)
	}

	if isSelected {
		headline = theme.SelectedItemStyle.Render(headline)
		body = theme.SelectedItemStyle.Render(body)
	} else {
		headline = theme.ListItemStyle.Render(headline)
		body = theme.ListItemStyle.Render(body)
	}

	fmt.Fprintf(w, "%s\n%s", headline, body)
}

// kindLabel returns a short badge label for the given kind.
func kindLabel(kind model.Kind) string {
	switch kind {
	case model.KindSuccess:
		return "OK"
	case model.KindWarning:
		return "WARN"
	case model.KindError:
		return "ERR"
	default:
		return "INFO"
	}
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hrs)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		weeks := int(d.Hours() / 24 / 7)
		if weeks == 1 {
			return "1w ago"
		}
		return fmt.Sprintf("%dw ago", weeks)
	}
}
