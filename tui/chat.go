// ABOUTME: ChatModel is the Bubble Tea model for the terminal chat client.
// ABOUTME: It sends prompts through a dashboard.Panel and shows the reply as it streams in.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/stream"
)

// entry is one block of the transcript.
type entry struct {
	speaker string
	body    string
	style   lipgloss.Style
}

// ChatModel implements tea.Model for an interactive chat session.
type ChatModel struct {
	ctx     context.Context
	panel   *dashboard.Panel
	updates chan tea.Msg

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	entries   []entry
	current   string
	streaming bool
	status    string
	width     int
	height    int
}

// NewChatModel creates a ChatModel that sends prompts through panel.
func NewChatModel(ctx context.Context, panel *dashboard.Panel) ChatModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about current events..."
	ti.Focus()

	return ChatModel{
		ctx:      ctx,
		panel:    panel,
		updates:  make(chan tea.Msg, updateBuffer),
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		status:   "ready",
	}
}

// Init implements tea.Model.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(WaitForUpdateCmd(m.updates), textinput.Blink)
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)
	case tea.KeyMsg:
		return m.handleKey(msg)
	case StreamStartMsg:
		m.current = ""
		m.syncViewport()
		return m, WaitForUpdateCmd(m.updates)
	case StreamRenderMsg:
		m.current = msg.Output
		m.syncViewport()
		return m, WaitForUpdateCmd(m.updates)
	case StreamFinishMsg:
		m.current = ""
		m.entries = append(m.entries, entry{speaker: "overwatch", body: msg.Output, style: AssistantStyle})
		if msg.Incomplete {
			m.entries = append(m.entries, entry{body: NoticeStyle.Render("(response ended early)")})
		}
		m.syncViewport()
		return m, WaitForUpdateCmd(m.updates)
	case StreamFailMsg:
		m.current = ""
		m.entries = append(m.entries, entry{body: ErrorStyle.Render(msg.Message)})
		m.syncViewport()
		return m, WaitForUpdateCmd(m.updates)
	case ChatDoneMsg:
		m.streaming = false
		m.status = doneStatus(msg)
		return m, nil
	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	// title, status bar and input each take a line
	m.viewport.Width = max(msg.Width, 1)
	m.viewport.Height = max(msg.Height-4, 1)
	m.input.Width = max(msg.Width-4, 1)
	m.syncViewport()
	return m, nil
}

func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.panel.Cancel()
		return m, tea.Quit
	case tea.KeyEsc:
		if m.streaming {
			m.panel.Cancel()
		}
		return m, nil
	case tea.KeyEnter:
		// One reply at a time; the typed text stays in the input.
		if m.streaming {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.entries = append(m.entries, entry{speaker: "you", body: text, style: UserStyle})
		m.streaming = true
		m.status = ""
		m.syncViewport()
		return m, tea.Batch(m.chatCmd(text), m.spinner.Tick)
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) chatCmd(text string) tea.Cmd {
	return ChatCmd(m.ctx, m.panel, text, chanSurface{ctx: m.ctx, ch: m.updates})
}

func doneStatus(msg ChatDoneMsg) string {
	switch {
	case msg.Err == nil && msg.Result.Outcome == stream.OutcomeTruncated:
		return "reply truncated"
	case msg.Err == nil:
		return "ready"
	case errors.Is(msg.Err, context.Canceled):
		return "cancelled"
	case errors.Is(msg.Err, context.DeadlineExceeded):
		return "timed out"
	default:
		return "request failed"
	}
}

// transcript renders the finished entries followed by the in-progress reply.
func (m ChatModel) transcript() string {
	var b strings.Builder
	for _, e := range m.entries {
		if e.speaker != "" {
			b.WriteString(e.style.Render(e.speaker + ":"))
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimRight(e.body, "\n"))
		b.WriteString("\n\n")
	}
	if m.streaming && m.current != "" {
		b.WriteString(AssistantStyle.Render("overwatch:"))
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(m.current, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *ChatModel) syncViewport() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m ChatModel) View() string {
	status := m.status
	if m.streaming {
		status = m.spinner.View() + " streaming... esc to cancel"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		TitleStyle.Render("overwatch chat ("+m.panel.Name+")"),
		m.viewport.View(),
		StatusBarStyle.Render(status),
		m.input.View(),
	)
}
