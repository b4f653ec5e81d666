package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helmsman-dev/helmsman/internal/tui"
)

var watchSession string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a session live",
	Long: `Open a live view of a session: lifecycle state, task groups and
their phases, progress counters, and recent errors.

The view is read-only; it polls the state database and never interferes
with a running session.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchSession, "session", "s", "", "session id (defaults to the most recent session)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID := watchSession
	if sessionID == "" {
		sessions, err := rt.sessions.Query(stateFilterLatest())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions to watch. Run 'helmsman run <goal>' first.")
			return nil
		}
		sessionID = sessions[0].ID
	}

	program := tui.NewWatchProgram(rt.db, sessionID)
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return err
	}
	return nil
}
