package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmsman-dev/helmsman/internal/state"
)

var purgeOlderThan time.Duration

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage sessions",
	RunE:  runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsResumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused or interrupted session",
	Long: `Resume a session that was paused or left mid-flight by a crash.

The session re-enters the phase it was interrupted in; task groups that
were in progress are reset to pending and re-executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsResume,
}

var sessionsCleanCmd = &cobra.Command{
	Use:   "clean <session-id>",
	Short: "Abandon an interrupted session",
	Long: `Mark an interrupted session as failed and abandon its in-flight
task groups. Use this when resuming is not worth it.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsClean,
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old sessions and their records",
	RunE:  runSessionsPurge,
}

func init() {
	sessionsPurgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "purge sessions older than this")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsResumeCmd)
	sessionsCmd.AddCommand(sessionsCleanCmd)
	sessionsCmd.AddCommand(sessionsPurgeCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessions, err := rt.sessions.Query(state.SessionFilter{})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%s  %-18s %s  %s\n",
			s.ID,
			stateColor(s.State).Sprint(string(s.State)),
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.Goal)
	}

	interrupted, err := rt.sessions.CheckForInterrupted()
	if err != nil {
		return err
	}
	if len(interrupted) > 0 {
		fmt.Println()
		color.Yellow("Interrupted sessions:")
		for _, in := range interrupted {
			fmt.Printf("  %s: idle %s, %d groups in flight\n",
				in.Session.ID, formatDuration(in.IdleFor), len(in.InFlight))
		}
		fmt.Println("Resume with 'helmsman sessions resume <id>' or abandon with 'helmsman sessions clean <id>'.")
	}
	return nil
}

func runSessionsResume(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.sessions.Resume(args[0])
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	color.New(color.FgCyan, color.Bold).Printf("Resuming session %s in phase %s\n\n", sess.ID, sess.State)

	ctx, cancel := sessionContext(sess.Config.Timeout)
	defer cancel()
	if err := rt.drive(ctx, sess.ID); err != nil {
		color.Red("Session %s failed: %v", sess.ID, err)
		return err
	}
	return nil
}

func runSessionsClean(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.sessions.Clean(args[0]); err != nil {
		return fmt.Errorf("clean session: %w", err)
	}
	fmt.Printf("Session %s cleaned.\n", args[0])
	return nil
}

func runSessionsPurge(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.db.PurgeOldSessions(purgeOlderThan)
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	fmt.Printf("Purged %d sessions older than %s.\n", n, purgeOlderThan)
	return nil
}
