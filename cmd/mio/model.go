package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-client/core"
	"github.com/koscakluka/ema-client/core/agent"
	"github.com/koscakluka/ema-client/core/events"
	"github.com/koscakluka/ema-client/core/speechtotext"
)

type sessionChangedMsg struct{}

type responseEndMsg struct{ text string }

type usageMsg struct{ usage events.Usage }

type transcriptMsg struct{ transcript speechtotext.Transcript }

type sessionErrorMsg struct{ err error }

type model struct {
	app    *app
	styles styles

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model

	width  int
	height int

	lines    []chatLine
	hearing  string
	notice   string
	snapshot orchestration.Snapshot
	history  []agent.HistoryEntry
}

func newModel(a *app) *model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Say something, or /help"
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &model{
		app:      a,
		styles:   newStyles(),
		input:    input,
		timeline: viewport.New(0, 0),
		spinner:  sp,
		snapshot: a.session.Snapshot(),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case sessionChangedMsg:

	case responseEndMsg:
		if msg.text != "" {
			m.lines = append(m.lines, chatLine{role: roleAssistant, text: msg.text})
		}

	case usageMsg:
		m.notice = formatUsage(msg.usage)

	case transcriptMsg:
		m.hearing = ""
		if !msg.transcript.IsFinal {
			m.hearing = msg.transcript.Text
		} else if text := strings.TrimSpace(msg.transcript.Text); text != "" {
			m.lines = append(m.lines, chatLine{role: roleUser, text: text})
		}

	case sessionErrorMsg:
		m.notice = m.styles.errorText.Render(msg.err.Error())

	case commandResultMsg:
		if msg.err != nil {
			m.notice = m.styles.errorText.Render(msg.err.Error())
			break
		}
		if msg.history != nil {
			m.history = msg.history
		}
		m.notice = ""
		if len(msg.lines) > 0 {
			m.lines = append(m.lines, chatLine{role: roleSystem, text: strings.Join(msg.lines, "\n")})
		}

	case tea.KeyMsg:
		cmd, handled := m.handleKey(msg)
		if handled {
			cmds = append(cmds, cmd)
			break
		}
		var inputCmd tea.Cmd
		m.input, inputCmd = m.input.Update(msg)
		cmds = append(cmds, inputCmd)
	}

	m.snapshot = m.app.session.Snapshot()
	m.render()
	return m, tea.Batch(cmds...)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true

	case "esc":
		if m.app.session.Abort() {
			m.notice = "aborted"
		}
		return nil, true

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		return cmd, true

	case "+", "-":
		if m.input.Value() != "" {
			return nil, false
		}
		step := volumeStep
		if msg.String() == "-" {
			step = -step
		}
		m.app.setVolume(m.app.volume() + step)
		return nil, true

	case "enter":
		line := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if line == "" {
			return nil, true
		}
		if cmd, ok := parseCommand(line); ok {
			return m.runCommand(cmd), true
		}
		if !m.app.session.Submit(line, "") {
			m.notice = "still replying, press esc to abort"
			return nil, true
		}
		m.notice = ""
		m.lines = append(m.lines, chatLine{role: roleUser, text: line})
		return nil, true
	}

	return nil, false
}

func (m *model) resize() {
	headerHeight := lipgloss.Height(m.styles.renderStatus(m.snapshot, m.app.volume()))
	inputHeight := 3
	noticeHeight := 1

	m.timeline.Width = m.width
	m.timeline.Height = max(m.height-headerHeight-inputHeight-noticeHeight, 1)
	m.input.Width = max(m.width-6, 10)
}

func (m *model) render() {
	blocks := make([]string, 0, len(m.lines)+1)
	for _, line := range m.lines {
		blocks = append(blocks, m.styles.renderLine(line, m.width))
	}
	if m.snapshot.State.IsBusy() {
		reply := m.snapshot.Response
		if reply == "" {
			reply = m.spinner.View()
		}
		blocks = append(blocks, m.styles.renderLine(chatLine{role: roleAssistant, text: reply}, m.width))
	}

	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(strings.Join(blocks, "\n\n"))
	if atBottom {
		m.timeline.GotoBottom()
	}
}

func (m *model) View() string {
	notice := m.notice
	if m.hearing != "" {
		notice = m.styles.muted.Render("hearing: " + m.hearing)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.renderStatus(m.snapshot, m.app.volume()),
		m.timeline.View(),
		notice,
		m.styles.input.Render(m.input.View()),
	)
}
