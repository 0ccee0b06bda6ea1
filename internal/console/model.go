// Package console is the interactive terminal front end: slash commands and
// free-text chat in, markdown replies and reminder notices out.
package console

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Handler answers one line of input with markdown.
type Handler func(ctx context.Context, input string) (string, error)

// Notice is a background message such as a delivered reminder or a sync
// failure.
type Notice struct {
	Text    string
	IsError bool
	At      time.Time
}

type replyMsg struct {
	input string
	text  string
	err   error
}

type noticeMsg struct {
	notice Notice
}

type Model struct {
	ctx      context.Context
	handler  Handler
	notices  <-chan Notice
	input    textinput.Model
	view     viewport.Model
	spin     spinner.Model
	entries  []string
	busy     bool
	status   string
	isError  bool
	width    int
	quitting bool
}

func NewModel(ctx context.Context, handler Handler, notices <-chan Notice) Model {
	input := textinput.New()
	input.Prompt = promptStyle.Render("> ")
	input.Placeholder = "/add, /list, /done, /delete, /sync, /streak or ask anything"
	input.CharLimit = 512
	input.Width = 72
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		ctx:     ctx,
		handler: handler,
		notices: notices,
		input:   input,
		view:    viewport.New(80, 18),
		spin:    spin,
		status:  "ready",
		width:   80,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForNoticeCmd(m.notices))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			m.busy = true
			m.status = "working..."
			m.isError = false
			m = m.appendEntry("**you:** " + line)
			return m, tea.Batch(m.submitCmd(line), m.spin.Tick)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = typed.Width - 4
		m.view.Width = m.width
		m.view.Height = max(typed.Height-8, 4)
		m.input.Width = max(m.width-4, 10)
		m.view.SetContent(strings.Join(m.entries, "\n\n"))
		return m, nil

	case replyMsg:
		m.busy = false
		if typed.err != nil {
			m.status = "error: " + typed.err.Error()
			m.isError = true
			return m, nil
		}
		m.status = "ok"
		m.isError = false
		m = m.appendEntry(typed.text)
		return m, nil

	case noticeMsg:
		m.status = typed.notice.Text
		m.isError = typed.notice.IsError
		m = m.appendEntry("> " + typed.notice.Text)
		return m, waitForNoticeCmd(m.notices)

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	status := m.status
	if m.busy {
		status = m.spin.View() + " " + status
	}
	return renderFrame(frame{
		Header:     "tasksync",
		Body:       m.view.View(),
		Input:      m.input.View(),
		StatusLine: status,
		IsError:    m.isError,
		Footer:     "enter send • pgup/pgdown scroll • esc quit",
	})
}

// Transcript returns the rendered conversation so far.
func (m Model) Transcript() []string {
	return append([]string(nil), m.entries...)
}

func (m Model) appendEntry(md string) Model {
	m.entries = append(m.entries, RenderMarkdown(md, m.width))
	m.view.SetContent(strings.Join(m.entries, "\n\n"))
	m.view.GotoBottom()
	return m
}

func (m Model) submitCmd(line string) tea.Cmd {
	handler, ctx := m.handler, m.ctx
	return func() tea.Msg {
		text, err := handler(ctx, line)
		return replyMsg{input: line, text: text, err: err}
	}
}

func waitForNoticeCmd(ch <-chan Notice) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg{notice: n}
	}
}
