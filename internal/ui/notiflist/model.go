package notiflist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vdt/cv-notify/internal/keys"
	"github.com/vdt/cv-notify/internal/notify"
	"github.com/vdt/cv-notify/internal/theme"
)

// Model is the notification list view.
type Model struct {
	list       list.Model
	store      *notify.Store
	keys       *keys.KeyMap
	unreadOnly bool
	width      int
	height     int
}

// New creates a new notification list model backed by the given store.
func New(s *notify.Store, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, Delegate{}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		store:  s,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetStore swaps the backing store, e.g. after a fresh sign-in.
func (m *Model) SetStore(s *notify.Store) {
	m.store = s
	m.Reload()
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Reload rebuilds the visible items from the store snapshot, applying
// the unread-only filter when active.
func (m *Model) Reload() {
	if m.store == nil {
		m.list.SetItems(nil)
		return
	}

	notifications := m.store.Notifications()
	items := make([]list.Item, 0, len(notifications))
	for _, n := range notifications {
		if m.unreadOnly && n.Read {
			continue
		}
		items = append(items, Item{Notification: n})
	}
	m.list.SetItems(items)
}

// selectedID returns the id of the highlighted notification, or "".
func (m Model) selectedID() string {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return ""
	}
	return it.Notification.ID
}

// Update handles messages for the notification list.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.store == nil {
			break
		}

		switch {
		case key.Matches(msg, m.keys.MarkRead):
			if id := m.selectedID(); id != "" {
				m.store.MarkRead(id)
				m.Reload()
			}
			return m, nil

		case key.Matches(msg, m.keys.MarkAllRead):
			m.store.MarkAllRead()
			m.Reload()
			return m, nil

		case key.Matches(msg, m.keys.Remove):
			if id := m.selectedID(); id != "" {
				m.store.Remove(id)
				m.Reload()
			}
			return m, nil

		case key.Matches(msg, m.keys.ClearAll):
			m.store.Clear()
			m.Reload()
			return m, nil

		case key.Matches(msg, m.keys.ToggleUnread):
			m.unreadOnly = !m.unreadOnly
			m.Reload()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the notification list.
func (m Model) View() string {
	return m.list.View()
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
