package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskpilot/internal/config"
	"github.com/aristath/taskpilot/internal/kinds"
)

// SettingsPaneModel edits scheduler and automation defaults and saves them.
// Changes apply to the next run; the current one keeps its settings.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings
	saveTarget     string
	interTaskDelay string
	deadlockPolls  string
	maxRetries     string
	commentStyle   string
	dailyLimit     string
	breakerEnabled bool
}

func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFromConfig() {
	m.saveTarget = "global"
	m.interTaskDelay = m.config.Scheduler.InterTaskDelay.String()
	m.deadlockPolls = strconv.Itoa(m.config.Scheduler.DeadlockPolls)
	m.maxRetries = strconv.Itoa(m.config.Scheduler.DefaultMaxRetries)
	m.commentStyle = m.config.Automation.CommentStyle
	m.dailyLimit = strconv.Itoa(m.config.Automation.DailyLimit)
	m.breakerEnabled = m.config.Scheduler.Breaker.Enabled
}

func (m *SettingsPaneModel) buildForm() {
	styles := make([]huh.Option[string], 0, len(kinds.CommentStyles))
	for _, s := range kinds.CommentStyles {
		styles = append(styles, huh.NewOption(s, s))
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption(fmt.Sprintf("Global (%s)", m.globalPath), "global"),
					huh.NewOption(fmt.Sprintf("Project (%s)", m.projectPath), "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("interTaskDelay").
				Title("Delay Between Tasks").
				Value(&m.interTaskDelay).
				Placeholder("500ms").
				Validate(validateDuration),

			huh.NewInput().
				Key("deadlockPolls").
				Title("Deadlock Confirmation Polls").
				Value(&m.deadlockPolls).
				Placeholder("3").
				Validate(validateIntRange(1, 100)),

			huh.NewInput().
				Key("maxRetries").
				Title("Default Max Retries").
				Value(&m.maxRetries).
				Placeholder("3").
				Validate(validateIntRange(0, 20)),

			huh.NewConfirm().
				Key("breakerEnabled").
				Title("Circuit Breakers").
				Value(&m.breakerEnabled),
		).Title("Scheduler"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("commentStyle").
				Title("Comment Style").
				Options(styles...).
				Value(&m.commentStyle),

			huh.NewInput().
				Key("dailyLimit").
				Title("Daily Limit").
				Value(&m.dailyLimit).
				Placeholder("20").
				Validate(validateIntRange(1, 100)),
		).Title("Automation"),
	)
}

func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		target := m.globalPath
		if m.saveTarget == "project" {
			target = m.projectPath
		}
		if err := config.Save(m.config, target); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.err = nil
			m.saved = true
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies validated form values back to the config.
func (m *SettingsPaneModel) applyFormToConfig() {
	if d, err := time.ParseDuration(m.interTaskDelay); err == nil {
		m.config.Scheduler.InterTaskDelay = d
	}
	if n, err := strconv.Atoi(m.deadlockPolls); err == nil {
		m.config.Scheduler.DeadlockPolls = n
	}
	if n, err := strconv.Atoi(m.maxRetries); err == nil {
		m.config.Scheduler.DefaultMaxRetries = n
	}
	if n, err := strconv.Atoi(m.dailyLimit); err == nil {
		m.config.Automation.DailyLimit = n
	}
	m.config.Automation.CommentStyle = m.commentStyle
	m.config.Scheduler.Breaker.Enabled = m.breakerEnabled
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	content := m.form.View()
	if m.err != nil {
		content = StyleNotice.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings (applied to the next run)")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the pane; showing it reloads the form from the
// config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFromConfig()
		m.buildForm()
	}
}

func (m SettingsPaneModel) IsVisible() bool { return m.visible }

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool { return m.saved }

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a duration: %q", s)
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateIntRange(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}
