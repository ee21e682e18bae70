package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskpilot/internal/events"
)

const listWidth = 28

// TaskState is what the pane knows about one task.
type TaskState struct {
	TaskID   string
	Name     string
	Kind     string
	Status   string // "pending", "running", "completed", "failed", "cancelled", "skipped"
	Log      []string
	Retries  int
	Duration time.Duration
}

// TaskPaneModel shows the task list and the selected task's log.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	order       []string // queue order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.refresh()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refresh()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskQueuedEvent:
		if _, ok := m.tasks[msg.ID]; !ok {
			m.tasks[msg.ID] = &TaskState{
				TaskID: msg.ID,
				Name:   msg.Name,
				Kind:   msg.Kind,
				Status: "pending",
				Log:    []string{fmt.Sprintf("%s queued (%s)", stamp(msg.Timestamp), msg.Kind)},
			}
			m.order = append(m.order, msg.ID)
			m.refreshIf(msg.ID)
		}

	case events.TaskStartedEvent:
		ts := m.ensure(msg.ID, msg.Name, msg.Kind)
		ts.Status = "running"
		ts.Log = append(ts.Log, fmt.Sprintf("%s started", stamp(msg.Timestamp)))
		// Follow the running task.
		for i, id := range m.order {
			if id == msg.ID {
				m.selectedIdx = i
			}
		}
		m.refresh()

	case events.TaskCompletedEvent:
		ts := m.ensure(msg.ID, msg.Name, "")
		ts.Status = "completed"
		ts.Retries = msg.Retries
		ts.Duration = msg.Duration
		ts.Log = append(ts.Log, fmt.Sprintf("%s completed in %v: %s", stamp(msg.Timestamp), msg.Duration.Round(time.Millisecond), msg.Message))
		m.refreshIf(msg.ID)

	case events.TaskFailedEvent:
		ts := m.ensure(msg.ID, msg.Name, "")
		ts.Status = msg.Status
		ts.Retries = msg.Retries
		ts.Duration = msg.Duration
		line := fmt.Sprintf("%s %s after %d retries: %s", stamp(msg.Timestamp), msg.Status, msg.Retries, msg.Message)
		if msg.Err != nil {
			line += fmt.Sprintf(" (%v)", msg.Err)
		}
		ts.Log = append(ts.Log, line)
		m.refreshIf(msg.ID)
	}

	return m, cmd
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(m.width-listWidth-4).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("No tasks queued"))
	}
	for i, id := range m.order {
		ts := m.tasks[id]
		name := ts.Name
		if len(name) > listWidth-4 {
			name = name[:listWidth-7] + "..."
		}
		line := fmt.Sprintf("%s %s", statusIcon(ts.Status), name)
		if i == m.selectedIdx {
			line = lipgloss.NewStyle().
				Background(lipgloss.Color("62")).
				Foreground(lipgloss.Color("0")).
				Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

// Selected returns the selected task, if any.
func (m TaskPaneModel) Selected() (*TaskState, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.order) {
		return nil, false
	}
	ts, ok := m.tasks[m.order[m.selectedIdx]]
	return ts, ok
}

// ensure returns the state for id, adding it when the queued event was missed.
func (m *TaskPaneModel) ensure(id, name, kind string) *TaskState {
	if ts, ok := m.tasks[id]; ok {
		return ts
	}
	ts := &TaskState{TaskID: id, Name: name, Kind: kind, Status: "pending"}
	m.tasks[id] = ts
	m.order = append(m.order, id)
	return ts
}

func (m *TaskPaneModel) refreshIf(id string) {
	if ts, ok := m.Selected(); !ok || ts.TaskID == id {
		m.refresh()
	}
}

func (m *TaskPaneModel) refresh() {
	ts, ok := m.Selected()
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	header := fmt.Sprintf("%s [%s] %s", ts.Name, ts.Kind, ts.Status)
	m.viewport.SetContent(header + "\n\n" + strings.Join(ts.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("15:04:05")
}
