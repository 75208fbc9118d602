// Command appforge-tui is a terminal client that runs the build loop
// in-process: it boots a sandbox, talks to Gemini, and renders the session
// in a chat viewport with a live terminal pane.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	go run cmd/appforge-tui/main.go
//
// Commands:
//
//	/exit - Exit the program
//	<message> - Send a message to the agent
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/appforge/appforge/pkg/config"
	"github.com/appforge/appforge/pkg/domain"
	"github.com/appforge/appforge/pkg/model/gemini"
	"github.com/appforge/appforge/pkg/sandbox/docker"
	"github.com/appforge/appforge/pkg/session"
	"github.com/appforge/appforge/pkg/store/sqlite"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	echoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	termStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

type state int

const (
	stateSelectingModel state = iota
	stateChatting
	stateConfirmExit
)

// sessionEvent is one Display callback, re-delivered as a tea message.
type sessionEvent struct {
	status   *domain.Status
	message  *domain.Message
	termData []byte
	workDir  string
	preview  string
}

type errMsg struct{ err error }

// teaDisplay forwards session callbacks into the bubbletea event loop.
type teaDisplay struct {
	events chan sessionEvent
}

var _ session.Display = (*teaDisplay)(nil)

func newTeaDisplay() *teaDisplay {
	return &teaDisplay{events: make(chan sessionEvent, 256)}
}

func (d *teaDisplay) push(ev sessionEvent) {
	select {
	case d.events <- ev:
	default:
	}
}

func (d *teaDisplay) StatusChanged(status domain.Status) {
	d.push(sessionEvent{status: &status})
}

func (d *teaDisplay) MessageAppended(msg domain.Message) {
	d.push(sessionEvent{message: &msg})
}

func (d *teaDisplay) TermWrite(data []byte) {
	d.push(sessionEvent{termData: data})
}

func (d *teaDisplay) WorkingDirChanged(path string) {
	d.push(sessionEvent{workDir: path})
}

func (d *teaDisplay) PreviewChanged(url string) {
	d.push(sessionEvent{preview: url})
}

func (d *teaDisplay) FileViewed(path, content string) {
	// The TUI has no editor pane; the action echo in chat covers it.
}

// teaTerminal is the keystroke source for attached processes. The TUI does
// not forward typed input while a command runs, so subscriptions stay idle.
type teaTerminal struct {
	mu   sync.Mutex
	subs map[chan []byte]bool
}

var _ session.Terminal = (*teaTerminal)(nil)

func newTeaTerminal() *teaTerminal {
	return &teaTerminal{subs: make(map[chan []byte]bool)}
}

func (t *teaTerminal) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 16)
	t.mu.Lock()
	t.subs[ch] = true
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

type model struct {
	ctx     context.Context
	cfg     *config.Config
	sess    *session.Session
	display *teaDisplay

	state           state
	availableModels []domain.Model
	cursor          int
	width           int
	height          int
	err             error

	status     domain.Status
	workDir    string
	previewURL string
	termTail   string

	viewport viewport.Model
	textarea textarea.Model

	messages []domain.Message
	renderer *glamour.TermRenderer
}

func initialModel(ctx context.Context, cfg *config.Config, modelsList []domain.Model) model {
	ta := textarea.New()
	ta.Placeholder = "Describe the app to build..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 280

	ta.SetWidth(80)
	ta.SetHeight(3)

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Select a model to start a session.")

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	return model{
		ctx:             ctx,
		cfg:             cfg,
		availableModels: modelsList,
		state:           stateSelectingModel,
		status:          domain.StatusIdle,
		viewport:        vp,
		textarea:        ta,
		renderer:        r,
	}
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func waitForEvent(ch <-chan sessionEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return ev
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// This prevents the Enter key used for menu selection from leaking into the textarea.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 8
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(m.width-4),
		)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.sess != nil {
				m.state = stateConfirmExit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.state == stateConfirmExit {
				m.state = stateChatting
				return m, nil
			}
			if m.sess != nil {
				m.state = stateConfirmExit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			switch m.state {
			case stateSelectingModel:
				return m.startSession()
			case stateChatting:
				m.err = nil
				return m.sendMessage()
			}
		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
			}
		case tea.KeyDown:
			if m.state == stateSelectingModel && m.cursor < len(m.availableModels)-1 {
				m.cursor++
			}
		default:
			if m.state == stateConfirmExit {
				switch msg.String() {
				case "y", "Y":
					return m, tea.Sequence(m.endSessionCmd(), tea.Quit)
				case "n", "N":
					return m, tea.Quit
				}
			}
		}

	case sessionEvent:
		switch {
		case msg.status != nil:
			m.status = *msg.status
		case msg.message != nil:
			m.messages = append(m.messages, *msg.message)
			m.viewport.SetContent(m.renderMessages())
			m.viewport.GotoBottom()
		case msg.termData != nil:
			m.termTail = tailLines(m.termTail+string(msg.termData), 4)
		case msg.workDir != "":
			m.workDir = msg.workDir
		case msg.preview != "":
			m.previewURL = msg.preview
		}
		cmds = append(cmds, waitForEvent(m.display.events))

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("\nError: %v", m.err))
	}

	if m.state == stateSelectingModel {
		header := titleStyle.Render("Select Model")

		var optionsView []string
		for i, choice := range m.availableModels {
			cursor := " "
			line := choice.Name
			if m.cursor == i {
				cursor = ">"
				line = selectedItemStyle.Render(line)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
		}

		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Press Enter to select, Esc to quit."

		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
	}

	if m.state == stateConfirmExit {
		header := titleStyle.Render("Confirm Exit")
		prompt := "End session? (y/n)"
		subtext := "Ending the session will remove the sandbox."

		return lipgloss.JoinVertical(lipgloss.Left, header, "", prompt, subtext, errorView)
	}

	statusLine := statusStyle.Render(fmt.Sprintf("status: %s  cwd: %s", m.status, m.workDir))
	if m.previewURL != "" {
		statusLine += statusStyle.Render("  preview: " + m.previewURL)
	}

	termPane := termStyle.Width(max(m.width-2, 0)).Render(m.termTail)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("AppForge"),
		statusLine,
		m.viewport.View(),
		termPane,
		errorView,
		m.textarea.View(),
	)
}

// Actions

func (m model) startSession() (tea.Model, tea.Cmd) {
	selected := m.availableModels[m.cursor]

	workspacesDir := filepath.Join(m.cfg.DataDir, "workspaces")
	factory, err := docker.NewFactory(m.cfg.SandboxImage, m.cfg.AppPort, workspacesDir)
	if err != nil {
		return m, func() tea.Msg { return errMsg{err} }
	}

	provider, err := gemini.New(m.ctx, m.cfg.GeminiAPIKey)
	if err != nil {
		return m, func() tea.Msg { return errMsg{err} }
	}

	st, err := sqlite.New(filepath.Join(m.cfg.DataDir, "appforge.db"))
	if err != nil {
		return m, func() tea.Msg { return errMsg{err} }
	}

	id := uuid.New().String()
	box, err := factory.New(id)
	if err != nil {
		return m, func() tea.Msg { return errMsg{err} }
	}

	display := newTeaDisplay()
	m.display = display

	sess := session.New(session.Config{
		ID:         id,
		Sandbox:    box,
		Provider:   provider,
		ModelName:  selected.Name,
		Display:    display,
		Terminal:   newTeaTerminal(),
		Transcript: st,
	})
	m.sess = sess

	if err := st.CreateSession(m.ctx, &domain.SessionRecord{
		ID:         sess.ID(),
		Name:       "tui session",
		WorkingDir: "/workspace",
		CreatedAt:  sess.CreatedAt(),
	}); err != nil {
		return m, func() tea.Msg { return errMsg{err} }
	}

	go func() {
		if err := sess.Boot(m.ctx); err != nil {
			slog.Error("Boot failed", "error", err)
		}
	}()

	m.state = stateChatting
	m.textarea.Placeholder = "Describe the app to build..."
	m.textarea.Focus()

	return m, waitForEvent(display.events)
}

func (m model) sendMessage() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}

	if v == "/exit" {
		m.state = stateConfirmExit
		return m, nil
	}

	m.textarea.Reset()

	sess := m.sess
	return m, func() tea.Msg {
		if err := sess.Submit(context.Background(), v); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) endSessionCmd() tea.Cmd {
	return func() tea.Msg {
		if m.sess != nil {
			m.sess.Close()
		}
		return nil
	}
}

func (m model) renderMessages() string {
	var sb strings.Builder
	for _, msg := range m.messages {
		switch {
		case msg.Sender == domain.SenderUser:
			sb.WriteString(userStyle.Render("You: "))
		case msg.Kind == domain.KindActionEcho:
			sb.WriteString(echoStyle.Render("· " + msg.Text + "\n"))
			continue
		default:
			sb.WriteString(agentStyle.Render("Agent: "))
		}
		sb.WriteString("\n")

		content := msg.Text
		if m.renderer != nil {
			if rendered, err := m.renderer.Render(msg.Text); err == nil {
				content = rendered
			}
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// tailLines keeps the last n lines of a terminal stream.
func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// --- Main ---

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Log to a file so slog output does not corrupt the TUI.
	f, err := os.OpenFile("appforge-tui.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer f.Close()

	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	provider, err := gemini.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		slog.Error("Failed to initialize Gemini provider", "error", err)
		os.Exit(1)
	}

	modelsList, err := provider.List(ctx)
	if err != nil {
		slog.Error("Failed to list models", "error", err)
		os.Exit(1)
	}
	if len(modelsList) == 0 {
		fmt.Println("No models available.")
		os.Exit(1)
	}

	p := tea.NewProgram(initialModel(ctx, cfg, modelsList))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
