// Package tui renders the live session view for 'helmsman watch'. The model
// polls the state database; it never mutates session or group records.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)
)

const refreshInterval = time.Second

// tickMsg requests the next database poll.
type tickMsg time.Time

// snapshotMsg carries one polled view of the session.
type snapshotMsg struct {
	session *models.Session
	groups  []models.GroupMetadata
	errs    []models.ErrorRecord
	err     error
}

// WatchModel is the bubbletea model behind 'helmsman watch'.
type WatchModel struct {
	db        *state.DB
	sessionID string
	spinner   spinner.Model

	session *models.Session
	groups  []models.GroupMetadata
	errs    []models.ErrorRecord
	loadErr error
	width   int
}

// NewWatchModel creates a watch model for one session.
func NewWatchModel(db *state.DB, sessionID string) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = activeStyle
	return WatchModel{
		db:        db,
		sessionID: sessionID,
		spinner:   sp,
		width:     80,
	}
}

// NewWatchProgram wraps the model in a ready-to-run program.
func NewWatchProgram(db *state.DB, sessionID string) *tea.Program {
	return tea.NewProgram(NewWatchModel(db, sessionID), tea.WithAltScreen())
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// poll reads the session, its groups, and recent errors in one command.
func (m WatchModel) poll() tea.Cmd {
	db, sessionID := m.db, m.sessionID
	return func() tea.Msg {
		sess, err := db.GetSession(sessionID)
		if err != nil {
			return snapshotMsg{err: err}
		}
		groups, err := db.ListGroups(sessionID, nil)
		if err != nil {
			return snapshotMsg{session: sess, err: err}
		}
		errs, err := db.ListErrors(sessionID, 5)
		if err != nil {
			return snapshotMsg{session: sess, groups: groups, err: err}
		}
		return snapshotMsg{session: sess, groups: groups, errs: errs}
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.poll(), tick())

	case snapshotMsg:
		m.session = msg.session
		m.groups = msg.groups
		m.errs = msg.errs
		m.loadErr = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("helmsman watch"))
	b.WriteString("\n\n")

	if m.loadErr != nil {
		b.WriteString(failStyle.Render(fmt.Sprintf("error: %v", m.loadErr)))
		b.WriteString("\n")
	}

	if m.session == nil {
		b.WriteString(m.spinner.View())
		b.WriteString(" waiting for session ")
		b.WriteString(m.sessionID)
		b.WriteString(helpStyle.Render("\n\nq to quit"))
		return b.String()
	}

	b.WriteString(panelStyle.Width(m.width - 2).Render(m.sessionPanel()))
	b.WriteString("\n")

	if len(m.groups) > 0 {
		b.WriteString(panelStyle.Width(m.width - 2).Render(m.groupsPanel()))
		b.WriteString("\n")
	}
	if len(m.errs) > 0 {
		b.WriteString(panelStyle.Width(m.width - 2).Render(m.errorsPanel()))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("q to quit"))
	return b.String()
}

func (m WatchModel) sessionPanel() string {
	s := m.session
	var b strings.Builder

	indicator := m.spinner.View()
	if s.State.Terminal() {
		indicator = " "
	}

	fmt.Fprintf(&b, "%s %s  %s\n", indicator, titleStyle.Render(s.ID), stateBadge(s.State))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("goal:"), s.Goal)
	fmt.Fprintf(&b, "%s %s @ %s\n", labelStyle.Render("repo:"), s.Repo.Branch, truncate(s.Repo.Revision, 8))
	fmt.Fprintf(&b, "%s attempted %d, completed %d, failed %d, recoveries %d",
		labelStyle.Render("tasks:"),
		s.Stats.TasksAttempted, s.Stats.TasksCompleted, s.Stats.TasksFailed,
		s.Stats.RecoveriesPerformed)
	return b.String()
}

func (m WatchModel) groupsPanel() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("task groups"))
	b.WriteString("\n")
	for _, g := range m.groups {
		done := 0
		for _, r := range g.Results {
			if r.Status == models.TaskStatusCompleted {
				done++
			}
		}
		fmt.Fprintf(&b, "  %-14s %s  phase %-22s %d/%d tasks\n",
			g.ID, groupBadge(g.Status), g.Phase, done, len(g.TaskIDs))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m WatchModel) errorsPanel() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("recent errors"))
	b.WriteString("\n")
	for _, e := range m.errs {
		fmt.Fprintf(&b, "  %s %s\n",
			failStyle.Render(fmt.Sprintf("[%s/%s]", e.Category, e.Kind)),
			truncate(e.Message, 100))
	}
	return strings.TrimRight(b.String(), "\n")
}

func stateBadge(s models.SessionState) string {
	switch s {
	case models.SessionCompleted:
		return okStyle.Render(string(s))
	case models.SessionFailed:
		return failStyle.Render(string(s))
	case models.SessionPaused:
		return warnStyle.Render(string(s))
	default:
		return activeStyle.Render(string(s))
	}
}

func groupBadge(s models.GroupStatus) string {
	switch s {
	case models.GroupStatusCompleted:
		return okStyle.Render("completed ")
	case models.GroupStatusFailed:
		return failStyle.Render("failed    ")
	case models.GroupStatusBlocked:
		return warnStyle.Render("blocked   ")
	case models.GroupStatusInProgress:
		return activeStyle.Render("running   ")
	default:
		return labelStyle.Render("pending   ")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
