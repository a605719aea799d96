package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/koscakluka/ema-live/core"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/session"
)

const levelTickInterval = 100 * time.Millisecond

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	interimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle    = lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("236"))
	meterStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

type eventMsg struct{ event events.Event }

type errMsg struct{ err error }

type resetMsg struct{ sessionID string }

type levelTickMsg time.Time

type model struct {
	orchestrator *orchestration.Orchestrator
	hasAudio     bool

	viewport viewport.Model
	spinner  spinner.Model
	ready    bool
	width    int

	lines     []string
	interim   string
	streaming strings.Builder
	healthy   bool
	speaking  bool
}

func newModel(orchestrator *orchestration.Orchestrator, hasAudio bool) *model {
	return &model{
		orchestrator: orchestrator,
		hasAudio:     hasAudio,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		healthy:      true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, levelTick())
}

func levelTick() tea.Cmd {
	return tea.Tick(levelTickInterval, func(t time.Time) tea.Msg { return levelTickMsg(t) })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.toggleMicrophone()
		case "r":
			cmds = append(cmds, m.resetSession)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := msg.Height - 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refresh()

	case eventMsg:
		m.handleEvent(msg.event)

	case errMsg:
		m.appendLine(errorStyle.Render(msg.err.Error()))

	case resetMsg:
		m.interim = ""
		m.streaming.Reset()
		m.appendLine(systemStyle.Render("new session " + msg.sessionID))

	case levelTickMsg:
		cmds = append(cmds, levelTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// resetSession runs outside the update loop: restarting the session emits
// events that are delivered back through the program.
func (m *model) resetSession() tea.Msg {
	id, err := m.orchestrator.ResetSession()
	if err != nil {
		return errMsg{fmt.Errorf("reset failed: %w", err)}
	}
	return resetMsg{sessionID: id}
}

func (m *model) toggleMicrophone() {
	if !m.hasAudio {
		m.appendLine(systemStyle.Render("no audio backend configured"))
		return
	}
	if m.orchestrator.IsCapturing() {
		if err := m.orchestrator.StopCapture(); err != nil {
			m.appendLine(errorStyle.Render("failed to stop microphone: " + err.Error()))
		}
		return
	}
	if err := m.orchestrator.StartCapture(context.Background()); err != nil {
		m.appendLine(errorStyle.Render("failed to start microphone: " + err.Error()))
	}
}

func (m *model) handleEvent(event events.Event) {
	switch e := event.(type) {
	case events.SessionOpened:
		m.appendLine(systemStyle.Render("session " + e.SessionID + " opened"))
	case events.SessionClosed:
		m.appendLine(systemStyle.Render(fmt.Sprintf("connection closed (%d %s)", e.Code, e.Reason)))
	case events.SessionEnded:
		m.appendLine(systemStyle.Render("session ended: " + e.Reason))
	case events.LiveAgentTransfer:
		m.appendLine(systemStyle.Render("transferring to a live agent: " + e.Reason))
	case events.BackendHealthChanged:
		m.healthy = e.Healthy

	case events.UserTranscriptInterimUpdated:
		m.interim = e.Transcript
	case events.UserTranscriptFinal:
		m.interim = ""
		m.appendLine(userStyle.Render("you: ") + e.Transcript)

	case events.AssistantResponseSegment:
		m.streaming.WriteString(e.Segment)
	case events.AssistantResponseFinal:
		m.streaming.Reset()
		m.appendLine(assistantStyle.Render(senderLabel(e.Sender)+": ") + e.Text)

	case events.ToolCallStarted:
		m.appendLine(systemStyle.Render("running " + e.Name + "..."))
	case events.ToolCallFailed:
		m.appendLine(errorStyle.Render(e.Name + " failed: " + e.Error))

	case events.AssistantPlaybackStarted:
		m.speaking = true
	case events.AssistantPlaybackEnded:
		m.speaking = false
	case events.AssistantPlaybackInterrupted:
		m.speaking = false
		m.streaming.Reset()
		m.appendLine(systemStyle.Render(fmt.Sprintf("interrupted (%s, cleared in %.0f ms)", e.Trigger, e.ClearMs)))

	case events.TurnCompleted:
		m.appendLine(systemStyle.Render(fmt.Sprintf("turn %d: first token %.0f ms, audio after %.0f ms, total %.0f ms",
			e.Summary.TurnID, e.Summary.FirstTokenLatencyMs, e.Summary.FinalToAudioMs, e.Summary.TotalLatencyMs)))

	case events.CallInitiated:
		m.appendLine(systemStyle.Render("calling " + e.PhoneNumber + " (" + e.CallID + ")"))
	case events.CallRelayMessage:
		label := "caller"
		if !e.FromUser {
			label = senderLabel(e.Sender)
		}
		m.appendLine(interimStyle.Render("[call] " + label + ": " + e.Text))
	}
	m.refresh()
}

func senderLabel(sender string) string {
	if sender == "" {
		return "agent"
	}
	return sender
}

func (m *model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(wordwrap.String(line, m.width))
		b.WriteByte('\n')
	}
	if m.streaming.Len() > 0 {
		b.WriteString(wordwrap.String(assistantStyle.Render("agent: ")+m.streaming.String(), m.width))
		b.WriteByte('\n')
	}
	if m.interim != "" {
		b.WriteString(wordwrap.String(interimStyle.Render("you: "+m.interim+"..."), m.width))
		b.WriteByte('\n')
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *model) View() string {
	if !m.ready {
		return m.spinner.View() + " starting"
	}
	return m.viewport.View() + "\n" + m.statusLine()
}

func (m *model) statusLine() string {
	state := m.orchestrator.SessionState()
	indicator := ""
	if state == session.StateConnecting || state == session.StateReconnecting {
		indicator = m.spinner.View() + " "
	}

	mic := "mic off [space]"
	if m.orchestrator.IsCapturing() {
		mic = "mic " + meterStyle.Render(meter(m.orchestrator.InputLevel(), 10))
	}
	speaker := ""
	if m.speaking {
		speaker = " | speaking"
	}
	health := ""
	if !m.healthy {
		health = " | " + errorStyle.Render("backend unhealthy")
	}

	line := fmt.Sprintf("%s%s | %s%s%s | r reset | q quit", indicator, state, mic, speaker, health)
	return statusStyle.Width(m.width).Render(line)
}

func meter(level float64, width int) string {
	filled := int(level*float64(width) + 0.5)
	filled = max(0, min(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
