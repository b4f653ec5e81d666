package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

var (
	checkpointSession     string
	checkpointCommitFirst bool
	checkpointDeleteTag   bool
	rollbackDestructive   bool
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage git-backed checkpoints",
	Long: `Create, list, roll back to, and delete checkpoints.

A checkpoint binds a session's progress to a git tag. Rolling back resets
the working tree to the tagged revision; every attempt is recorded in the
session's rollback history, success or not.`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <description>",
	Short: "Create a checkpoint at the current revision",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheckpointCreate,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's checkpoints",
	RunE:  runCheckpointList,
}

var checkpointRollbackCmd = &cobra.Command{
	Use:   "rollback <checkpoint-id>",
	Short: "Roll the working tree back to a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointRollback,
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete <checkpoint-id>",
	Short: "Delete a checkpoint record",
	Long: `Delete a checkpoint record. Rollback history referencing the
checkpoint is kept; it is an audit trail, not a cache.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpointDelete,
}

var checkpointHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a session's rollback history",
	RunE:  runCheckpointHistory,
}

func init() {
	checkpointCmd.PersistentFlags().StringVarP(&checkpointSession, "session", "s", "", "session id (defaults to the most recent session)")
	checkpointCreateCmd.Flags().BoolVar(&checkpointCommitFirst, "commit-first", false, "commit outstanding changes before tagging")
	checkpointRollbackCmd.Flags().BoolVar(&rollbackDestructive, "destructive", false, "discard local changes (hard reset)")
	checkpointDeleteCmd.Flags().BoolVar(&checkpointDeleteTag, "delete-tag", false, "also delete the git tag")

	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRollbackCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
	checkpointCmd.AddCommand(checkpointHistoryCmd)
}

// resolveSessionID returns the --session flag value or the most recent
// session's id.
func resolveSessionID(rt *runtime) (string, error) {
	if checkpointSession != "" {
		return checkpointSession, nil
	}
	sessions, err := rt.sessions.Query(stateFilterLatest())
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions; pass --session")
	}
	return sessions[0].ID, nil
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID, err := resolveSessionID(rt)
	if err != nil {
		return err
	}

	sess, err := rt.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	ctx, cancel := sessionContext(rt.cfg.Timeouts.Task)
	defer cancel()

	description := args[0]
	cp, err := rt.checkpoints.Create(ctx, sessionID, description, sess.Phase,
		models.CheckpointManual, nil, checkpointCommitFirst)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}

	color.Green("Created %s", cp.ID)
	fmt.Printf("  Tag: %s\n", cp.TagName)
	fmt.Printf("  Revision: %s\n", shortRev(cp.Revision))
	return nil
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID, err := resolveSessionID(rt)
	if err != nil {
		return err
	}

	cps, err := rt.checkpoints.List(sessionID)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(cps) == 0 {
		fmt.Printf("No checkpoints for session %s.\n", sessionID)
		return nil
	}

	fmt.Printf("Checkpoints for session %s:\n", sessionID)
	for _, cp := range cps {
		used := ""
		if cp.UsedForRollback {
			used = fmt.Sprintf(" (rolled back to %dx)", cp.RollbackCount)
		}
		fmt.Printf("  %s  %s  %s  %s%s\n",
			cp.ID,
			shortRev(cp.Revision),
			cp.CreatedAt.Local().Format("2006-01-02 15:04"),
			cp.Description,
			used)
	}
	return nil
}

func runCheckpointRollback(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID, err := resolveSessionID(rt)
	if err != nil {
		return err
	}

	ctx, cancel := sessionContext(rt.cfg.Timeouts.Task)
	defer cancel()

	op, err := rt.checkpoints.Rollback(ctx, sessionID, args[0], rollbackDestructive)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	if !op.Success {
		color.Red("Rollback failed: %s", op.ErrorMessage)
		return fmt.Errorf("rollback %s did not succeed", op.ID)
	}

	color.Green("Rolled back to %s", args[0])
	fmt.Printf("  %s -> %s (%s)\n", shortRev(op.RevisionBefore), shortRev(op.RevisionAfter), op.Mode)
	if op.RestoredSnapshot != nil {
		fmt.Printf("  Restored state: %d tasks completed, %d decisions\n",
			op.RestoredSnapshot.TasksCompleted, op.RestoredSnapshot.DecisionsMade)
	}
	return nil
}

func runCheckpointDelete(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID, err := resolveSessionID(rt)
	if err != nil {
		return err
	}

	if err := rt.checkpoints.Delete(sessionID, args[0], checkpointDeleteTag); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	fmt.Printf("Deleted %s.\n", args[0])
	return nil
}

func runCheckpointHistory(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID, err := resolveSessionID(rt)
	if err != nil {
		return err
	}

	ops, err := rt.checkpoints.History(sessionID)
	if err != nil {
		return fmt.Errorf("rollback history: %w", err)
	}
	if len(ops) == 0 {
		fmt.Printf("No rollbacks for session %s.\n", sessionID)
		return nil
	}

	fmt.Printf("Rollback history for session %s:\n", sessionID)
	for _, op := range ops {
		status := color.GreenString("ok")
		if !op.Success {
			status = color.RedString("failed: %s", op.ErrorMessage)
		}
		fmt.Printf("  %s  %s  -> %s (%s)  %s\n",
			op.CreatedAt.Local().Format(time.DateTime),
			op.ID,
			op.CheckpointID,
			op.Mode,
			status)
	}
	return nil
}
