// Package tui is the interactive terminal chat: a scrolling transcript with
// markdown-rendered replies above a multi-line input.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"go.uber.org/zap"

	"github.com/NurRobin/ollama-chat/pkg/chat"
	"github.com/NurRobin/ollama-chat/pkg/llm"
)

// Sender sends a message and streams the reply. *conversation.Service
// implements it.
type Sender interface {
	Send(ctx context.Context, chatID, text string, onChunk func(string)) (*chat.Chat, error)
	Cancel(chatID string) bool
}

// Options configure the chat view.
type Options struct {
	// Style is a glamour standard style name ("dark", "light", "notty").
	// Empty detects it from the terminal background.
	Style  string
	Logger *zap.Logger
}

type (
	chunkMsg struct{ text string }
	replyMsg struct {
		chat *chat.Chat
		err  error
	}
)

const inputHeight = 3

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Model is the bubbletea model of one chat.
type Model struct {
	chat   *chat.Chat
	sender Sender
	logger *zap.Logger
	style  string

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width, height int

	streaming bool
	partial   strings.Builder
	events    chan tea.Msg
	err       error

	// closed on quit so a reply goroutine never blocks on events
	done chan struct{}
}

// DetectStyle picks the glamour style matching the terminal background.
func DetectStyle() string {
	if !termenv.HasDarkBackground() {
		return "light"
	}
	return "dark"
}

// New returns the chat view for c.
func New(c *chat.Chat, sender Sender, opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Style == "" {
		opts.Style = DetectStyle()
	}

	input := textarea.New()
	input.Placeholder = "Send a message (enter to send, alt+enter for a new line)"
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	input.Focus()

	return &Model{
		chat:     c,
		sender:   sender,
		logger:   opts.Logger,
		style:    opts.Style,
		input:    input,
		viewport: viewport.New(80, 20),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		width:    80,
		done:     make(chan struct{}),
	}
}

// Run starts the full-screen chat and blocks until the user quits. Replies
// still in flight are cancelled.
func Run(ctx context.Context, c *chat.Chat, sender Sender, opts Options) error {
	m := New(c, sender, opts)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	sender.Cancel(c.ID)
	return err
}

func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, m.quit()
		case "esc":
			if m.streaming {
				m.sender.Cancel(m.chat.ID)
				return m, nil
			}
			return m, m.quit()
		case "enter":
			return m, m.send()
		}

	case chunkMsg:
		m.partial.WriteString(msg.text)
		m.refresh()
		return m, m.wait()

	case replyMsg:
		m.streaming = false
		m.events = nil
		m.partial.Reset()
		m.err = msg.err
		if msg.chat != nil {
			m.chat = msg.chat
		}
		if msg.err != nil {
			m.logger.Debug("reply failed", zap.String("chat_id", m.chat.ID), zap.Error(msg.err))
		}
		m.refresh()
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
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// send starts streaming the reply to the current input.
func (m *Model) send() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.streaming {
		return nil
	}
	m.input.Reset()
	m.err = nil
	m.streaming = true

	// Shown until the stored chat comes back with the reply.
	m.chat = m.chat.Clone()
	m.chat.Messages = append(m.chat.Messages, llm.Message{Role: llm.RoleUser, Content: text})
	m.refresh()

	events := make(chan tea.Msg)
	m.events = events
	chatID, done := m.chat.ID, m.done
	deliver := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-done:
		}
	}
	go func() {
		updated, err := m.sender.Send(context.Background(), chatID, text, func(s string) {
			deliver(chunkMsg{text: s})
		})
		deliver(replyMsg{chat: updated, err: err})
	}()

	return tea.Batch(m.spinner.Tick, m.wait())
}

func (m *Model) quit() tea.Cmd {
	if m.streaming {
		m.sender.Cancel(m.chat.ID)
	}
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return tea.Quit
}

// wait reads the next event of the reply in flight.
func (m *Model) wait() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	done := m.done
	return func() tea.Msg {
		select {
		case msg := <-events:
			return msg
		case <-done:
			return nil
		}
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	m.input.SetWidth(width)
	m.viewport.Width = width
	// Title, status line and input.
	m.viewport.Height = max(height-inputHeight-2, 1)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(max(width-2, 20)),
	)
	if err != nil {
		m.logger.Warn("markdown renderer unavailable", zap.Error(err))
		renderer = nil
	}
	m.renderer = renderer
	m.refresh()
}

// refresh re-renders the transcript and keeps it scrolled to the end.
func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m *Model) transcript() string {
	var b strings.Builder
	for _, msg := range m.chat.Messages {
		switch msg.Role {
		case llm.RoleUser:
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(lipgloss.NewStyle().Width(m.width).Render(msg.Content))
			b.WriteString("\n\n")
		case llm.RoleAssistant:
			b.WriteString(assistantStyle.Render(m.chat.Model))
			b.WriteString("\n")
			b.WriteString(m.markdown(msg.Content))
			b.WriteString("\n")
		}
	}

	if m.streaming {
		b.WriteString(assistantStyle.Render(m.chat.Model))
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(m.width).Render(m.partial.String()))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) markdown(content string) string {
	if m.renderer == nil {
		return content + "\n"
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

func (m *Model) View() string {
	title := titleStyle.Render(ansi.Truncate(m.chat.Title, max(m.width, 1), "…"))

	var status string
	switch {
	case m.streaming:
		status = m.spinner.View() + statusStyle.Render(" thinking… (esc to stop)")
	case m.err != nil:
		status = errorStyle.Render(ansi.Truncate("error: "+m.err.Error(), max(m.width, 1), "…"))
	default:
		status = statusStyle.Render(m.chat.Model)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.viewport.View(),
		status,
		m.input.View(),
	)
}
