package setup

import (
	"fmt"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/vdt/cv-notify/internal/theme"
)

// DoneMsg signals that setup finished with validated values.
type DoneMsg struct {
	BaseURL string
	Token   string
}

// Model is the first-run / reconfiguration form collecting the backend
// URL and the bearer token.
type Model struct {
	form    *huh.Form
	baseURL string
	token   string
	width   int
	height  int
}

// New creates the setup form, pre-filled with the current base URL.
func New(baseURL string, width, height int) Model {
	m := Model{
		baseURL: baseURL,
		width:   width,
		height:  height,
	}
	m.form = m.newForm()
	return m
}

// newForm builds the huh form bound to the model's fields.
func (m *Model) newForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server URL").
				Description("Root API URL of the CV-management backend").
				Placeholder("http://localhost:8080/api").
				Value(&m.baseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Access token").
				Description("Bearer token from your login session").
				EchoMode(huh.EchoModePassword).
				Value(&m.token).
				Validate(validateToken),
		),
	).WithShowHelp(true)
}

// validateURL checks the server URL field.
func validateURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("enter a full URL, e.g. http://localhost:8080/api")
	}
	return nil
}

// validateToken checks the token field.
func validateToken(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update drives the form and emits DoneMsg on completion.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		baseURL := strings.TrimRight(strings.TrimSpace(m.baseURL), "/")
		token := strings.TrimSpace(m.token)
		return m, func() tea.Msg {
			return DoneMsg{BaseURL: baseURL, Token: token}
		}
	}

	return m, cmd
}

// View renders the setup form in a panel.
func (m Model) View() string {
	return theme.PanelStyle.
		Width(m.width - 4).
		Render(m.form.View())
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.form = m.form.WithWidth(width - 8)
}
