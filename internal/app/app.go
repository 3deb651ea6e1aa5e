package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/vdt/cv-notify/internal/api"
	"github.com/vdt/cv-notify/internal/credential"
	"github.com/vdt/cv-notify/internal/keys"
	"github.com/vdt/cv-notify/internal/model"
	"github.com/vdt/cv-notify/internal/notify"
	"github.com/vdt/cv-notify/internal/session"
	"github.com/vdt/cv-notify/internal/stream"
	"github.com/vdt/cv-notify/internal/ui"
	helpview "github.com/vdt/cv-notify/internal/ui/help"
	"github.com/vdt/cv-notify/internal/ui/notiflist"
	setupview "github.com/vdt/cv-notify/internal/ui/setup"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewNotifications ViewState = iota
	ViewSetup
	ViewHelp
)

// identityChangedMsg is delivered when the session supplier acquires or
// clears an identity.
type identityChangedMsg struct {
	identity *session.Identity
}

// pushMsg is delivered for each live-pushed notification after the
// store ingested it.
type pushMsg struct {
	notification model.Notification
}

// connStateMsg carries a stream connection state transition.
type connStateMsg struct {
	state stream.State
}

// bootstrappedMsg signals that the store finished its bulk fetch.
type bootstrappedMsg struct{}

// signInFailedMsg signals that signing in with the supplied token failed.
type signInFailedMsg struct {
	err error
}

// Model is the root Bubble Tea model. It is the composition root of the
// notification pipeline: it owns the stream client instance and ties
// its lifecycle to identity acquisition and clearing.
type Model struct {
	cfg        *model.AppConfig
	configPath string
	log        zerolog.Logger
	layout     ui.Layout
	keys       *keys.KeyMap

	supplier *session.Supplier
	journal  *notify.Journal

	// Pipeline instances, rebuilt on each sign-in.
	streamClient *stream.Client
	store        *notify.Store
	unsubStream  func()

	notifList notiflist.Model
	helpView  helpview.Model
	setupView setupview.Model

	currentView  ViewState
	previousView ViewState
	connState    stream.State

	// events carries pipeline callbacks into the Bubble Tea runtime.
	events chan tea.Msg

	initialToken string
	ready        bool
	statusMsg    string
}

// New creates the root application model. initialToken, when non-empty,
// triggers an immediate sign-in; otherwise the setup view is shown.
func New(
	cfg *model.AppConfig,
	configPath string,
	logger zerolog.Logger,
	journal *notify.Journal,
	supplier *session.Supplier,
	initialToken string,
) Model {
	k := keys.DefaultKeyMap()

	m := Model{
		cfg:          cfg,
		configPath:   configPath,
		log:          logger.With().Str("component", "app").Logger(),
		keys:         k,
		supplier:     supplier,
		journal:      journal,
		notifList:    notiflist.New(nil, k, 80, 24),
		helpView:     helpview.New(k, 80, 24),
		setupView:    setupview.New(cfg.Server.BaseURL, 80, 24),
		currentView:  ViewNotifications,
		connState:    stream.StateDisconnected,
		events:       make(chan tea.Msg, 32),
		initialToken: initialToken,
	}

	if initialToken == "" {
		m.currentView = ViewSetup
	}

	// Session changes reach the runtime through the event channel, so
	// pipeline lifecycle handling happens inside Update like any other
	// message.
	supplier.Watch(func(id *session.Identity) {
		m.push(identityChangedMsg{identity: id})
	})

	return m
}

// push forwards a message into the Bubble Tea runtime without blocking
// the caller; when the channel is full the message is dropped.
func (m Model) push(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

// waitForEvent returns a command that delivers the next pipeline event.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// Init starts event delivery and either signs in with the stored token
// or enters setup.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitForEvent()}

	if m.initialToken != "" {
		cmds = append(cmds, m.signInCmd(m.initialToken))
	} else {
		cmds = append(cmds, m.setupView.Init())
	}

	return tea.Batch(cmds...)
}

// signInCmd hands the token to the session supplier; the resulting
// identity change arrives via the event channel.
func (m Model) signInCmd(token string) tea.Cmd {
	return func() tea.Msg {
		if err := m.supplier.SignIn(token); err != nil {
			return signInFailedMsg{err: err}
		}
		return nil
	}
}

// buildPipeline constructs the store and stream client for a fresh
// identity and wires subscriptions into the event channel.
func (m *Model) buildPipeline() tea.Cmd {
	m.teardownPipeline()

	apiClient := api.NewClient(m.cfg.Server.BaseURL, m.supplier.Token())

	opts := notify.Options{
		Journal: m.journal,
		Logger:  m.log,
	}
	if m.cfg.Notify.Desktop {
		opts.Notifier = notify.NewDesktop()
	}
	store := notify.NewStore(apiClient, opts)

	client := stream.New(stream.Options{
		BaseURL:              m.cfg.Server.BaseURL,
		Token:                m.supplier.Token(),
		ReconnectFloor:       secondsOrDefault(m.cfg.Stream.ReconnectFloorSec, 1),
		ReconnectCeiling:     secondsOrDefault(m.cfg.Stream.ReconnectCeilingSec, 30),
		MaxReconnectAttempts: m.cfg.Stream.MaxReconnectAttempts,
		Logger:               m.log,
	})

	push := m.push
	m.unsubStream = client.Subscribe(func(ev stream.Event) {
		n := store.Ingest(ev)
		push(pushMsg{notification: n})
	})
	client.SetStateListener(func(st stream.State) {
		push(connStateMsg{state: st})
	})

	m.store = store
	m.streamClient = client
	m.notifList.SetStore(store)
	m.currentView = ViewNotifications

	return tea.Batch(m.bootstrapCmd(store), m.connectCmd(client))
}

// teardownPipeline disconnects the stream and clears the store, e.g.
// on sign-out or before a rebuild.
func (m *Model) teardownPipeline() {
	if m.unsubStream != nil {
		m.unsubStream()
		m.unsubStream = nil
	}
	if m.streamClient != nil {
		m.streamClient.Disconnect()
		m.streamClient = nil
	}
	if m.store != nil {
		m.store.Clear()
		m.store = nil
	}
	m.notifList.SetStore(nil)
	m.connState = stream.StateDisconnected
}

// bootstrapCmd runs the store's bulk fetch off the UI loop.
func (m Model) bootstrapCmd(store *notify.Store) tea.Cmd {
	return func() tea.Msg {
		store.Bootstrap(context.Background())
		return bootstrappedMsg{}
	}
}

// connectCmd opens the push stream. Only precondition failures surface
// here; transport trouble is handled by the client's reconnect loop.
func (m Model) connectCmd(client *stream.Client) tea.Cmd {
	return func() tea.Msg {
		if err := client.Connect(context.Background()); err != nil {
			return signInFailedMsg{err: err}
		}
		return nil
	}
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.notifList.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.setupView.SetSize(contentWidth, contentHeight)
		return m.updateActiveView(msg)

	case identityChangedMsg:
		var cmd tea.Cmd
		if msg.identity != nil {
			cmd = m.buildPipeline()
			m.statusMsg = fmt.Sprintf("Signed in as %s", msg.identity.UserID)
		} else {
			m.teardownPipeline()
			m.setupView = setupview.New(m.cfg.Server.BaseURL, m.layout.ContentWidth(), m.layout.ContentHeight())
			m.currentView = ViewSetup
			m.statusMsg = "Signed out"
			cmd = m.setupView.Init()
		}
		return m, tea.Batch(cmd, m.waitForEvent())

	case pushMsg:
		m.notifList.Reload()
		m.statusMsg = fmt.Sprintf("New: %s", msg.notification.Title)
		return m, m.waitForEvent()

	case connStateMsg:
		m.connState = msg.state
		return m, m.waitForEvent()

	case bootstrappedMsg:
		m.notifList.Reload()
		return m, nil

	case signInFailedMsg:
		m.log.Warn().Err(msg.err).Msg("sign-in failed")
		m.statusMsg = fmt.Sprintf("Sign-in failed: %v", msg.err)
		m.currentView = ViewSetup
		return m, m.setupView.Init()

	case setupview.DoneMsg:
		return m.finishSetup(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateActiveView(msg)
}

// finishSetup persists the new settings and signs in.
func (m Model) finishSetup(msg setupview.DoneMsg) (tea.Model, tea.Cmd) {
	m.cfg.Server.BaseURL = msg.BaseURL
	if err := model.SaveConfig(m.configPath, m.cfg); err != nil {
		m.log.Warn().Err(err).Msg("saving config failed")
	}
	if err := credential.Set(credential.TokenKey, msg.Token); err != nil {
		m.log.Warn().Err(err).Msg("storing token in keyring failed")
	}

	m.statusMsg = "Connecting..."
	return m, m.signInCmd(msg.Token)
}

// handleKey routes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The setup form owns the keyboard while active, except for quit.
	if m.currentView == ViewSetup {
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m.updateActiveView(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
		} else {
			m.previousView = m.currentView
			m.currentView = ViewHelp
		}
		return m, nil

	case key.Matches(msg, m.keys.Back):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return m, nil
		}
		return m.updateActiveView(msg)

	case key.Matches(msg, m.keys.Reconnect):
		if m.streamClient != nil {
			m.statusMsg = "Reconnecting..."
			return m, m.connectCmd(m.streamClient)
		}
		return m, nil

	case key.Matches(msg, m.keys.SignOut):
		// The watcher turns this into an identityChangedMsg.
		m.supplier.SignOut()
		return m, nil

	case key.Matches(msg, m.keys.Setup):
		m.setupView = setupview.New(m.cfg.Server.BaseURL, m.layout.ContentWidth(), m.layout.ContentHeight())
		m.currentView = ViewSetup
		return m, m.setupView.Init()
	}

	return m.updateActiveView(msg)
}

// updateActiveView forwards a message to the currently visible view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewNotifications:
		m.notifList, cmd = m.notifList.Update(msg)
	case ViewSetup:
		m.setupView, cmd = m.setupView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}

	return m, cmd
}

// View renders the full frame.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.layout.RenderHeader("CV Notifications", m.headerStatus())

	var content string
	switch m.currentView {
	case ViewSetup:
		content = m.setupView.View()
	case ViewHelp:
		content = m.helpView.View()
	default:
		content = m.notifList.View()
	}

	statusBar := m.layout.RenderStatusBar(m.statusLine())
	return m.layout.RenderWithFrame(header, content, statusBar)
}

// headerStatus describes the connection and unread state for the header.
func (m Model) headerStatus() string {
	status := m.connState.String()
	if id := m.supplier.Identity(); id != nil && id.UserID != "" {
		status = fmt.Sprintf("%s • %s", id.UserID, status)
	}
	if m.store != nil {
		if unread := m.store.UnreadCount(); unread > 0 {
			status = fmt.Sprintf("%s • %d unread", status, unread)
		}
	}
	return status
}

// statusLine composes the bottom bar: last status message plus hints.
func (m Model) statusLine() string {
	hints := "j/k move • enter mark read • M mark all • d dismiss • ? help • q quit"
	if m.statusMsg != "" {
		return m.statusMsg + "  |  " + hints
	}
	return hints
}

// secondsOrDefault converts a configured second count, falling back
// when unset.
func secondsOrDefault(secs, fallback int) time.Duration {
	if secs <= 0 {
		secs = fallback
	}
	return time.Duration(secs) * time.Second
}
