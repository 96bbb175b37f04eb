// ABOUTME: Bubble Tea chat view: renders the transcript and enqueues user input
// ABOUTME: Presentation only; all chat state lives in the conversation store

package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/openfloor/chatrelay/internal/conversation"
)

var (
	senderLabel   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).Render("você")
	botLabel      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true).Render("bot ")
	timestampTint = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	typingTint    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	inputBorder   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// incomingMsg carries one appended transcript message into the UI loop.
type incomingMsg conversation.Message

type chatModel struct {
	store    *conversation.Store
	sub      <-chan conversation.Message
	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	messages []conversation.Message
	loading  bool
	ready    bool
	width    int
	height   int
}

func newChatModel(store *conversation.Store) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Digite sua mensagem..."
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	// The subscription lives for the whole program; Store.Close releases it.
	sub, _ := store.Subscribe(context.Background())

	return chatModel{
		store:    store,
		sub:      sub,
		input:    ti,
		spin:     sp,
		messages: store.Messages(),
	}
}

// waitForMessage blocks on the transcript subscription.
func waitForMessage(sub <-chan conversation.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-sub
		if !ok {
			return nil
		}
		return incomingMsg(msg)
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, waitForMessage(m.sub))
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.store.EnqueueOutgoing(text)
				m.input.Reset()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 5 // input box, typing row and margins
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 6
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	case incomingMsg:
		m.messages = append(m.messages, conversation.Message(msg))
		m.loading = m.store.Loading()
		if m.ready {
			m.viewport.SetContent(m.renderTranscript())
			m.viewport.GotoBottom()
		}
		cmds = append(cmds, waitForMessage(m.sub))

	case spinner.TickMsg:
		m.loading = m.store.Loading()
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m chatModel) View() string {
	if !m.ready {
		return "carregando..."
	}

	typing := " "
	if m.loading {
		typing = typingTint.Render(m.spin.View() + " digitando...")
	}

	return m.viewport.View() + "\n" +
		typing + "\n" +
		inputBorder.Width(m.width - 2).Render(m.input.View())
}

func (m chatModel) renderTranscript() string {
	var b strings.Builder
	for _, msg := range m.messages {
		label := botLabel
		if msg.IsSender {
			label = senderLabel
		}
		b.WriteString(label)
		b.WriteString(" ")
		b.WriteString(timestampTint.Render(msg.Timestamp))
		b.WriteString("\n")
		b.WriteString(wrapText(msg.Text, m.width-2))
		b.WriteString("\n\n")
	}
	return b.String()
}

// wrapText soft-wraps long lines to the viewport width.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		for len(line) > width {
			cut := strings.LastIndex(line[:width], " ")
			if cut <= 0 {
				cut = width
			}
			b.WriteString(line[:cut])
			b.WriteString("\n")
			line = strings.TrimLeft(line[cut:], " ")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
