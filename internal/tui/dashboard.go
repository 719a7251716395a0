// Package tui renders a live dashboard of a run by subscribing to the
// uievents bus and redrawing a bubbletea model as events arrive.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ngoclaw/agentwatch/internal/runstate"
	"github.com/ngoclaw/agentwatch/internal/uievents"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	continueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	abortStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// eventMsg wraps a uievents.Event as a tea.Msg.
type eventMsg uievents.Event

// closedMsg signals the event channel closed (run ended, bus closed).
type closedMsg struct{}

// Model is the bubbletea model driving the dashboard.
type Model struct {
	task         string
	events       <-chan uievents.Event
	iteration    int
	lastLines    []string
	decisions    []runstate.Verdict
	status       string
	outcome      string
	outcomeLine  string
	closed       bool
	maxLastLines int
}

// New constructs a Model that reads from events until it closes.
func New(task string, events <-chan uievents.Event) Model {
	return Model{task: task, events: events, status: "starting", maxLastLines: 10}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan uievents.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case closedMsg:
		m.closed = true
		return m, nil
	case eventMsg:
		e := uievents.Event(msg)
		switch e.Kind {
		case uievents.KindIterationStarted:
			m.iteration = e.IterationNumber
			m.status = "streaming"
			m.lastLines = nil
		case uievents.KindWorkerOutputLine:
			m.lastLines = append(m.lastLines, e.Line)
			if len(m.lastLines) > m.maxLastLines {
				m.lastLines = m.lastLines[len(m.lastLines)-m.maxLastLines:]
			}
		case uievents.KindReviewerDecision:
			m.status = "streaming"
			m.decisions = append(m.decisions, e.Verdict)
		case uievents.KindStatusChanged:
			m.status = e.Status
		case uievents.KindTerminated:
			m.status = "terminated"
			m.outcome = e.Outcome
			m.outcomeLine = e.Reason
		}
		return m, waitForEvent(m.events)
	}
	return m, nil
}

func (m Model) View() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", headerStyle.Render("agentwatch — "+m.task))
	fmt.Fprintf(&sb, "iteration %d  status: %s\n\n", m.iteration, m.status)

	for _, line := range m.lastLines {
		fmt.Fprintf(&sb, "%s\n", line)
	}

	if len(m.decisions) > 0 {
		sb.WriteString("\n")
		last := m.decisions[len(m.decisions)-1]
		if last.Action == runstate.ActionAbort {
			fmt.Fprintf(&sb, "%s %s\n", abortStyle.Render("ABORT"), last.Reason)
		} else {
			fmt.Fprintf(&sb, "%s %s\n", continueStyle.Render("continue"), dimStyle.Render(last.Reason))
		}
	}

	if m.outcome != "" {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "run ended: %s %s\n", m.outcome, dimStyle.Render(m.outcomeLine))
	}

	if m.closed {
		sb.WriteString(dimStyle.Render("\n(press q to exit)\n"))
	}

	return sb.String()
}
