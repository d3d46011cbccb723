package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kcartlabs/kcartbot/internal/api"
	"github.com/kcartlabs/kcartbot/internal/session"
	"github.com/kcartlabs/kcartbot/internal/timeline"
)

var (
	// Colors for chat
	chatPurple    = lipgloss.Color("#A855F7")
	chatGreen     = lipgloss.Color("#22C55E")
	chatYellow    = lipgloss.Color("#FBBF24")
	chatRed       = lipgloss.Color("#EF4444")
	chatGray      = lipgloss.Color("#6B7280")
	chatLightGray = lipgloss.Color("#9CA3AF")
	chatWhite     = lipgloss.Color("#F9FAFB")

	// Styles for chat
	chatTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(chatPurple).
			MarginBottom(1)

	chatUserMsgStyle = lipgloss.NewStyle().
				Foreground(chatWhite).
				Background(chatPurple).
				Padding(0, 1).
				MarginTop(1)

	chatUserLabelStyle = lipgloss.NewStyle().
				Foreground(chatPurple).
				Bold(true)

	chatBotLabelStyle = lipgloss.NewStyle().
				Foreground(chatGreen).
				Bold(true)

	chatBotMsgStyle = lipgloss.NewStyle().
			Foreground(chatWhite).
			MarginTop(1)

	chatNotifStyle = lipgloss.NewStyle().
			Foreground(chatYellow).
			Bold(true)

	chatNotifBodyStyle = lipgloss.NewStyle().
				Foreground(chatLightGray).
				Padding(0, 1)

	chatOrderHintStyle = lipgloss.NewStyle().
				Foreground(chatRed).
				Bold(true)

	chatInputBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(chatPurple).
				Padding(0, 1)

	chatInputBoxFocusedStyle = lipgloss.NewStyle().
					Border(lipgloss.RoundedBorder()).
					BorderForeground(chatGreen).
					Padding(0, 1)

	chatStatusStyle = lipgloss.NewStyle().
			Foreground(chatGray).
			MarginTop(1)

	chatHelpStyle = lipgloss.NewStyle().
			Foreground(chatGray)
)

// Bubbletea messages
type timelineChangedMsg struct{}
type typingMsg bool
type actionResultMsg struct{ err error }

// ChatModel is the bubbletea model for the chat UI. It renders the
// shared timeline; mutations happen in the merger and flow back in as
// timelineChangedMsg via program.Send.
type ChatModel struct {
	// UI components
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	merger     *timeline.Merger
	controller *session.Controller

	// State
	typing bool
	width  int
	height int
	ready  bool
	err    error
}

// NewChatModel creates a new chat TUI model.
func NewChatModel(merger *timeline.Merger, controller *session.Controller) ChatModel {
	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false) // Enter sends message

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(chatPurple)

	vp := viewport.New(80, 20)

	return ChatModel{
		textarea:   ta,
		viewport:   vp,
		spinner:    sp,
		merger:     merger,
		controller: controller,
	}
}

func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
	)
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.controller.Stop()
			return m, tea.Quit

		case tea.KeyCtrlA:
			return m, m.resolveOrder(api.OrderActionAccept)

		case tea.KeyCtrlD:
			return m, m.resolveOrder(api.OrderActionDecline)

		case tea.KeyEnter:
			if !m.typing {
				input := strings.TrimSpace(m.textarea.Value())
				if input != "" {
					if err := m.merger.Send(context.Background(), input); err == nil {
						m.textarea.Reset()
					}
					m.updateViewport()
				}
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		inputHeight := 5
		helpHeight := 2
		viewportHeight := m.height - headerHeight - inputHeight - helpHeight - 2

		if !m.ready {
			m.viewport = viewport.New(m.width-2, viewportHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = m.width - 2
			m.viewport.Height = viewportHeight
		}

		m.textarea.SetWidth(m.width - 4)
		m.updateViewport()

	case timelineChangedMsg:
		m.updateViewport()

	case typingMsg:
		m.typing = bool(msg)
		if m.typing {
			cmds = append(cmds, m.spinner.Tick)
		}

	case actionResultMsg:
		m.err = msg.err
		m.updateViewport()

	case spinner.TickMsg:
		if m.typing {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	// Update textarea
	if !m.typing {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// resolveOrder accepts or declines the most recent pending order
// notification, if any.
func (m ChatModel) resolveOrder(action string) tea.Cmd {
	pending, ok := m.merger.Timeline().PendingOrder()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		err := m.merger.ResolveOrder(context.Background(), pending.OrderRef, action, "")
		return actionResultMsg{err: err}
	}
}

func (m *ChatModel) updateViewport() {
	var content strings.Builder

	for _, msg := range m.merger.Timeline().Messages() {
		body := msg.Body
		if strings.TrimSpace(body) == "" {
			body = "(empty message)"
		}

		switch msg.Sender {
		case timeline.SenderUser:
			content.WriteString(chatUserLabelStyle.Render("You") + "\n")
			content.WriteString(chatUserMsgStyle.Render(body) + "\n\n")

		case timeline.SenderBot:
			content.WriteString(chatBotLabelStyle.Render("KcartBot") + "\n")
			content.WriteString(chatBotMsgStyle.Render(body) + "\n")
			if msg.Actionable() {
				content.WriteString(chatOrderHintStyle.Render("Order "+msg.OrderRef+": Ctrl+A accept • Ctrl+D decline") + "\n")
			}
			content.WriteString("\n")

		case timeline.SenderSystem:
			content.WriteString(chatNotifStyle.Render("🔔 Notification") + "\n")
			content.WriteString(chatNotifBodyStyle.Render(body) + "\n\n")
		}
	}

	if m.err != nil {
		content.WriteString(chatOrderHintStyle.Render("Error: "+m.err.Error()) + "\n")
	}

	m.viewport.SetContent(content.String())
	m.viewport.GotoBottom()
}

func (m ChatModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	// Header
	mode := m.controller.Mode().String()
	if u := m.controller.User(); u != nil {
		mode = u.Username
	}
	header := chatTitleStyle.Render("KcartBot") + "  " + chatStatusStyle.Render("ChipChip Marketplace • "+mode)
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", m.width-2) + "\n")

	// Messages viewport
	b.WriteString(m.viewport.View() + "\n")

	// Typing indicator
	if m.typing {
		b.WriteString(m.spinner.View() + " " + chatStatusStyle.Render("KcartBot is typing...") + "\n")
	} else {
		b.WriteString("\n")
	}

	// Input area
	b.WriteString(strings.Repeat("─", m.width-2) + "\n")

	inputStyle := chatInputBoxStyle
	if !m.typing {
		inputStyle = chatInputBoxFocusedStyle
	}
	b.WriteString(inputStyle.Render(m.textarea.View()) + "\n")

	// Help
	help := chatHelpStyle.Render("Enter to send • Ctrl+A/Ctrl+D order actions • Esc to quit")
	b.WriteString(help)

	return b.String()
}

// RunChat starts the chat TUI and bridges timeline and typing updates
// into the bubbletea event loop.
func RunChat(merger *timeline.Merger, controller *session.Controller) error {
	model := NewChatModel(merger, controller)
	p := tea.NewProgram(model, tea.WithAltScreen())

	// Hooks fire on whatever goroutine mutated the timeline, including
	// the event loop itself (an Enter-key send appends synchronously), so
	// delivery must not block on the program's message channel.
	merger.Timeline().SetOnChange(func() {
		controller.PersistAnonymous()
		go p.Send(timelineChangedMsg{})
	})
	merger.SetOnBusy(func(busy bool) {
		go p.Send(typingMsg(busy))
	})

	_, err := p.Run()
	return err
}
