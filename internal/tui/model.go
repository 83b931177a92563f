package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Tyrowin/syncchat/internal/client"
	"github.com/Tyrowin/syncchat/internal/room"
)

// Chat is the part of client.Agent the UI drives.
type Chat interface {
	Login(ctx context.Context, name, host string, port int) error
	Send(text string) error
	Logout() error
	Close()
}

// Options describe where to connect and the input limits to enforce.
type Options struct {
	Host             string
	Port             int
	Name             string
	NameMaxLength    int
	MessageMaxLength int
}

type phase int

const (
	phaseLogin phase = iota
	phaseChat
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	authorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
)

const namesWidth = 18

// Model is the Bubble Tea model for the chat client.
type Model struct {
	chat   Chat
	bridge *Bridge
	opts   Options

	phase     phase
	connected bool
	name      string
	names     []string
	lines     []string
	notice    string

	nameInput textinput.Model
	input     textinput.Model
	messages  viewport.Model
	width     int
	height    int
}

// New creates the model. Callbacks posted to bridge are rendered as they arrive.
func New(chat Chat, bridge *Bridge, opts Options) Model {
	if opts.NameMaxLength <= 0 {
		opts.NameMaxLength = room.DefaultNameMaxLength
	}
	if opts.MessageMaxLength <= 0 {
		opts.MessageMaxLength = client.DefaultMessageMaxLength
	}

	nameInput := textinput.New()
	nameInput.Placeholder = "your name"
	nameInput.CharLimit = opts.NameMaxLength
	nameInput.SetValue(opts.Name)
	nameInput.Focus()

	input := textinput.New()
	input.Placeholder = "say something"
	input.CharLimit = opts.MessageMaxLength

	return Model{
		chat:      chat,
		bridge:    bridge,
		opts:      opts,
		nameInput: nameInput,
		input:     input,
		messages:  viewport.New(60, 10),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.bridge.wait(), textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		m.applySnapshot(msg.snapshot)
		return m, m.bridge.wait()

	case disconnectedMsg:
		m.dropSession("disconnected from server")
		return m, m.bridge.wait()

	case errMsg:
		m.notice = msg.err.Error()
		return m, nil
	}

	return m.updateInput(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.chat.Close()
		m.bridge.Close()
		return m, tea.Quit

	case tea.KeyEsc:
		if m.phase == phaseChat && m.connected {
			return m, m.logoutCmd()
		}
		return m, nil

	case tea.KeyEnter:
		if m.phase == phaseLogin {
			return m.submitLogin()
		}
		return m.submitMessage()
	}

	return m.updateInput(msg)
}

func (m Model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.phase == phaseLogin {
		m.nameInput, cmd = m.nameInput.Update(msg)
		return m, cmd
	}

	var vpCmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.messages, vpCmd = m.messages.Update(msg)
	return m, tea.Batch(cmd, vpCmd)
}

func (m Model) submitLogin() (tea.Model, tea.Cmd) {
	name := strings.TrimSpace(m.nameInput.Value())
	if name == "" {
		m.notice = "enter a name to log in"
		return m, nil
	}

	m.name = name
	m.phase = phaseChat
	m.connected = true
	m.notice = fmt.Sprintf("connecting to %s:%d as %s", m.opts.Host, m.opts.Port, name)
	m.nameInput.Blur()
	m.input.Focus()

	chat, host, port := m.chat, m.opts.Host, m.opts.Port
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := chat.Login(ctx, name, host, port); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m Model) submitMessage() (tea.Model, tea.Cmd) {
	if !m.connected {
		m.phase = phaseLogin
		m.input.Blur()
		m.nameInput.Focus()
		return m, nil
	}

	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}

	switch err := m.chat.Send(text); {
	case err == nil:
		m.input.Reset()
		m.notice = ""
	case errors.Is(err, client.ErrNotConnected):
		m.notice = "still connecting, try again in a moment"
	default:
		m.notice = err.Error()
	}
	return m, nil
}

func (m Model) logoutCmd() tea.Cmd {
	chat := m.chat
	return func() tea.Msg {
		if err := chat.Logout(); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m *Model) applySnapshot(s room.Snapshot) {
	m.names = s.Names
	for _, msg := range s.Messages {
		m.lines = append(m.lines, formatMessage(msg))
	}
	m.refreshMessages()

	switch s.Status {
	case room.StatusJustLoggedIn:
		m.notice = "logged in as " + m.name
	case room.StatusMessageRejected:
		m.notice = "message rejected while catching up; please resend"
	case room.StatusLoggedOut:
		m.dropSession("logged out")
	case room.StatusNameRejected:
		m.dropSession(fmt.Sprintf("name %q is taken or invalid", m.name))
	case room.StatusRejected:
		m.dropSession("server rejected the connection")
	}
}

func (m *Model) dropSession(notice string) {
	m.connected = false
	m.names = nil
	m.notice = notice + "; press enter to log in again"
}

func formatMessage(msg room.Message) string {
	return fmt.Sprintf("%s %s %s",
		statusStyle.Render(msg.SentAt.Local().Format("15:04:05")),
		authorStyle.Render(msg.Author+":"),
		msg.Content)
}

func (m *Model) resize() {
	w := m.width - namesWidth - 6
	if w < 20 {
		w = 20
	}
	h := m.height - 8
	if h < 5 {
		h = 5
	}
	m.messages.Width = w
	m.messages.Height = h
	m.input.Width = w
	m.refreshMessages()
}

func (m *Model) refreshMessages() {
	m.messages.SetContent(strings.Join(m.lines, "\n"))
	m.messages.GotoBottom()
}

func (m Model) View() string {
	header := headerStyle.Render("SyncChat") + "  " +
		statusStyle.Render(fmt.Sprintf("%s:%d", m.opts.Host, m.opts.Port))

	if m.phase == phaseLogin {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			"",
			"Name: "+m.nameInput.View(),
			noticeStyle.Render(m.notice),
			statusStyle.Render("enter: log in  ctrl+c: quit"),
		)
	}

	names := boxStyle.Width(namesWidth).Height(m.messages.Height).
		Render(headerStyle.Render("Online") + "\n" + strings.Join(m.names, "\n"))
	chat := boxStyle.Render(m.messages.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, chat, names)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		m.input.View(),
		noticeStyle.Render(m.notice),
		statusStyle.Render("enter: send  esc: log out  ctrl+c: quit"),
	)
}
