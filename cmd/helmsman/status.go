package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current session state",
	Long: `Display the state of the current Helmsman session.

Shows:
  - Active sessions, their lifecycle state, and progress counters
  - In-flight task groups
  - Checkpoints available for rollback
  - Recent completed sessions`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	db, err := openProjectDB(cwd)
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Println("No sessions yet. Run 'helmsman run <goal>' to start.")
		return nil
	}
	defer db.Close()

	active, err := db.ListActiveSessions()
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	if len(active) == 0 {
		fmt.Println("No active session. Run 'helmsman run <goal>' to start.")
		return displayRecentSessions(db)
	}

	for _, s := range active {
		displaySession(db, &s)
		fmt.Println()
	}
	return displayRecentSessions(db)
}

// openProjectDB opens the project state database, returning (nil, nil) when
// none exists yet.
func openProjectDB(projectRoot string) (*state.DB, error) {
	path := state.ProjectDBPath(projectRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func displaySession(db *state.DB, s *models.Session) {
	elapsed := formatDuration(time.Since(s.CreatedAt))

	color.New(color.FgCyan, color.Bold).Printf("Session %s\n", s.ID)
	fmt.Printf("  Goal: %s\n", s.Goal)
	fmt.Printf("  State: %s\n", stateColor(s.State).Sprint(string(s.State)))
	fmt.Printf("  Started: %s ago\n", elapsed)
	fmt.Printf("  Branch: %s\n", s.Repo.Branch)
	fmt.Printf("  Tasks: %d attempted, %d completed, %d failed\n",
		s.Stats.TasksAttempted, s.Stats.TasksCompleted, s.Stats.TasksFailed)

	inProgress := models.GroupStatusInProgress
	groups, err := db.ListGroups(s.ID, &inProgress)
	if err == nil && len(groups) > 0 {
		fmt.Println("  Groups in flight:")
		for _, g := range groups {
			fmt.Printf("    %s: phase %s, %d tasks\n", g.ID, g.Phase, len(g.TaskIDs))
		}
	}

	cps, err := db.ListCheckpoints(s.ID)
	if err == nil && len(cps) > 0 {
		latest := cps[0]
		fmt.Printf("  Checkpoints: %d (latest %s @ %s)\n", len(cps), latest.ID, shortRev(latest.Revision))
	}
}

func stateColor(s models.SessionState) *color.Color {
	switch s {
	case models.SessionCompleted:
		return color.New(color.FgGreen)
	case models.SessionFailed:
		return color.New(color.FgRed)
	case models.SessionPaused:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func displayRecentSessions(db *state.DB) error {
	sessions, err := db.QuerySessions(state.SessionFilter{Limit: 20})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	var recent []models.Session
	for _, s := range sessions {
		if s.State.Terminal() {
			recent = append(recent, s)
			if len(recent) >= 5 {
				break
			}
		}
	}
	if len(recent) == 0 {
		return nil
	}

	fmt.Println("Recent Sessions:")
	for _, s := range recent {
		elapsed := formatDuration(time.Since(s.CreatedAt))
		fmt.Printf("  %s: %s (%s ago)\n", s.ID, stateColor(s.State).Sprint(string(s.State)), elapsed)
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
