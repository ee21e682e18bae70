package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskpilot/internal/events"
)

// ProgressPaneModel shows run counts, state and the final outcome.
type ProgressPaneModel struct {
	total     int
	completed int
	running   int
	failed    int
	pending   int
	percent   float64
	state     string
	lastErr   error
	done      *events.SchedulerDoneEvent
	width     int
	height    int
	focused   bool
}

func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{state: "Idle"}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.ProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending
		m.percent = msg.PercentComplete

	case events.SchedulerStateEvent:
		m.state = msg.To

	case events.SchedulerErrorEvent:
		m.lastErr = msg.Err

	case events.SchedulerDoneEvent:
		m.done = &msg
	}
	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "State:     %s\n", stateStyle(m.state))
	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-12, 40)
		doneWidth := (m.completed * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - doneWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, doneWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
		fmt.Fprintf(&b, "[%s] %3.0f%%\n", bar, m.percent)
	}

	if m.done != nil {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Finished in %v: %d succeeded, %d failed\n",
			m.done.Duration.Round(time.Second), m.done.Succeeded, m.done.Failed)
		if m.done.Incomplete {
			b.WriteString(StyleNotice.Render("Run incomplete"))
			b.WriteString("\n")
		}
	}
	if m.lastErr != nil {
		b.WriteString(StyleNotice.Render(m.lastErr.Error()))
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// State returns the last scheduler state seen.
func (m ProgressPaneModel) State() string { return m.state }
