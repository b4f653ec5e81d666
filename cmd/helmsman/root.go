package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckClaudeCLI verifies that the 'claude' CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckClaudeCLI() error {
	_, err := exec.LookPath("claude")
	if err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"Helmsman uses the Claude Code CLI as its default executor.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"Or configure a different executor chain in .helmsman/config.yaml")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "helmsman",
	Short: "Autonomous workflow orchestration core",
	Long: `Helmsman drives long-running autonomous work sessions through an
explicit lifecycle: plan, generate tasks, implement, validate, report.

Along the way it creates git-backed checkpoints at phase boundaries,
classifies failures and picks a recovery strategy, and executes
independent task groups concurrently.

Core capabilities:
- Session state machine with pause/resume and crash recovery
- Checkpoint and rollback bound to git tags, with a full audit trail
- Error classification with retry, rollback, and escalation strategies
- Parallel task groups driven through a persisted four-phase protocol`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
