package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmsman-dev/helmsman/internal/coordinator"
	"github.com/helmsman-dev/helmsman/internal/recovery"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

var (
	runMaxIterations int
	runNoCheckpoint  bool
	runDestructive   bool
	runTasksFile     string
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Start an orchestration session",
	Long: `Start a session that drives the goal through the full lifecycle:
planning, task generation, implementation, validation, and reporting.

Tasks are read from .helmsman/tasks.yaml. Tasks carrying a
[P:Group-<id>] marker in their description execute concurrently;
unmarked tasks run one at a time.

Send signals to a running session from another terminal:
  touch .helmsman/signals/pause    suspend after the current group
  touch .helmsman/signals/kill     stop and mark the session failed`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "override the validate/implement loop bound")
	runCmd.Flags().BoolVar(&runNoCheckpoint, "no-checkpoint", false, "disable automatic checkpoints at phase boundaries")
	runCmd.Flags().BoolVar(&runDestructive, "destructive-rollback", false, "discard local changes when recovery rolls back")
	runCmd.Flags().StringVar(&runTasksFile, "tasks", "", "path to the tasks file (default .helmsman/tasks.yaml)")
}

func runRun(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	if err := CheckClaudeCLI(); err != nil {
		color.Yellow("%v\n", err)
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	sessCfg := models.SessionConfig{
		MaxIterations:   rt.cfg.Defaults.MaxIterations,
		Timeout:         rt.cfg.Timeouts.Session,
		AutoCheckpoint:  rt.cfg.Defaults.AutoCheckpoint && !runNoCheckpoint,
		RecoveryEnabled: rt.cfg.Defaults.RecoveryEnabled,
	}
	if runMaxIterations > 0 {
		sessCfg.MaxIterations = runMaxIterations
	}

	sess, err := rt.sessions.Create(goal, sessCfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	color.New(color.FgCyan, color.Bold).Printf("Session %s started\n", sess.ID)
	fmt.Printf("  Goal: %s\n", sess.Goal)
	fmt.Printf("  Branch: %s @ %s\n\n", sess.Repo.Branch, shortRev(sess.Repo.Revision))

	ctx, cancel := sessionContext(sessCfg.Timeout)
	defer cancel()

	if err := rt.drive(ctx, sess.ID); err != nil {
		color.Red("Session %s failed: %v", sess.ID, err)
		return err
	}
	return nil
}

// drive steps the session through its lifecycle from whatever state it is
// currently in, which lets a resumed session re-enter mid-flight. Every
// phase boundary is a persisted transition; with auto-checkpoint enabled the
// implement and validate boundaries also produce a checkpoint.
func (rt *runtime) drive(ctx context.Context, sessionID string) error {
	iteration := 0

	for {
		sess, err := rt.sessions.Get(sessionID)
		if err != nil {
			return err
		}

		switch sess.State {
		case models.SessionInitializing:
			if _, err := rt.sessions.Transition(sessionID, models.SessionPlanning); err != nil {
				return err
			}

		case models.SessionPlanning:
			rt.announcePhase("planning")
			if decisions := rt.signals.ReadDecisions(); decisions != "" {
				rt.logger.Log("session %s: loaded %d bytes of project decisions", sessionID, len(decisions))
			}
			if _, err := rt.sessions.Transition(sessionID, models.SessionGeneratingTasks); err != nil {
				return err
			}

		case models.SessionGeneratingTasks:
			rt.announcePhase("generating tasks")
			open, err := rt.openTasks()
			if err != nil {
				return rt.failSession(sessionID, err)
			}
			if len(open) == 0 {
				return rt.failSession(sessionID, fmt.Errorf("no open tasks in %s", rt.tasksPath))
			}
			fmt.Printf("  %d open tasks\n", len(open))
			if _, err := rt.sessions.Transition(sessionID, models.SessionImplementing); err != nil {
				return err
			}

		case models.SessionImplementing:
			rt.announcePhase("implementing")
			if sess.Config.AutoCheckpoint {
				rt.autoCheckpoint(ctx, sessionID, "implementing")
			}
			paused, err := rt.implement(ctx, sessionID, sess.Config)
			if err != nil {
				return rt.failSession(sessionID, err)
			}
			if paused {
				return rt.pauseSession(sessionID)
			}
			if _, err := rt.sessions.Transition(sessionID, models.SessionValidating); err != nil {
				return err
			}

		case models.SessionValidating:
			rt.announcePhase("validating")
			ok, output, exitCode := rt.validate(ctx)
			if ok {
				if sess.Config.AutoCheckpoint {
					rt.autoCheckpoint(ctx, sessionID, "validating")
				}
				if _, err := rt.sessions.Transition(sessionID, models.SessionGeneratingReport); err != nil {
					return err
				}
				continue
			}

			iteration++
			color.Yellow("  validation failed (iteration %d/%d)", iteration, sess.Config.MaxIterations)
			if iteration >= sess.Config.MaxIterations {
				return rt.failSession(sessionID, fmt.Errorf("validation still failing after %d iterations", iteration))
			}
			if sess.Config.RecoveryEnabled {
				proceed, err := rt.recoverFromValidation(ctx, sessionID, output, exitCode)
				if err != nil {
					return rt.failSession(sessionID, err)
				}
				if !proceed {
					return rt.pauseSession(sessionID)
				}
			}
			if _, err := rt.sessions.Transition(sessionID, models.SessionImplementing); err != nil {
				return err
			}

		case models.SessionGeneratingReport:
			rt.announcePhase("generating report")
			reportPath, err := rt.writeReport(sessionID)
			if err != nil {
				return rt.failSession(sessionID, err)
			}
			if _, err := rt.sessions.Transition(sessionID, models.SessionCompleted); err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Printf("\nSession %s completed\n", sessionID)
			fmt.Printf("  Report: %s\n", reportPath)
			return nil

		case models.SessionPaused:
			color.Yellow("Session %s is paused. Resume with: helmsman sessions resume %s", sessionID, sessionID)
			return nil

		case models.SessionCompleted:
			return nil

		case models.SessionFailed:
			return fmt.Errorf("session %s is failed", sessionID)

		default:
			return fmt.Errorf("unknown session state %q", sess.State)
		}
	}
}

// implement runs every detected group for the session's open tasks. The
// sequential pseudo-group always runs last. Returns paused=true when a pause
// signal was observed between groups.
func (rt *runtime) implement(ctx context.Context, sessionID string, cfg models.SessionConfig) (paused bool, err error) {
	open, err := rt.openTasks()
	if err != nil {
		return false, err
	}
	if len(open) == 0 {
		return false, nil
	}

	coord := rt.coordinator(sessionID)
	groups := coordinator.DetectGroups(open)

	for _, groupID := range orderGroups(groups) {
		if rt.signals.ShouldStop() {
			return false, fmt.Errorf("kill signal received")
		}
		if rt.signals.ShouldPause() {
			return true, nil
		}

		tasks := groups[groupID]
		fmt.Printf("  group %s: %d tasks\n", groupID, len(tasks))

		group, err := coord.ExecuteGroup(ctx, groupID, tasks)
		if err != nil {
			return false, fmt.Errorf("execute group %s: %w", groupID, err)
		}
		rt.logger.Log("session %s: group %s finished status=%s", sessionID, groupID, group.Status)

		switch group.Status {
		case models.GroupStatusCompleted:
			color.Green("  group %s completed", groupID)
			rt.recordGroupStats(sessionID, group)
		case models.GroupStatusBlocked:
			color.Yellow("  group %s blocked; will retry in a later pass", groupID)
		case models.GroupStatusFailed:
			color.Red("  group %s failed: %s", groupID, strings.Join(group.Errors, "; "))
			rt.recordGroupStats(sessionID, group)
			if !cfg.RecoveryEnabled {
				return false, fmt.Errorf("group %s failed", groupID)
			}
			proceed, rerr := rt.recoverFromGroup(ctx, sessionID, coord, group, tasks)
			if rerr != nil {
				return false, rerr
			}
			if !proceed {
				return true, nil
			}
		}
	}
	return false, nil
}

// recoverFromGroup routes a failed group through the recovery engine and
// acts on the chosen next action.
func (rt *runtime) recoverFromGroup(ctx context.Context, sessionID string, coord *coordinator.Coordinator, group *models.GroupMetadata, tasks []models.TaskMetadata) (proceed bool, err error) {
	engine := rt.engine(sessionID)
	output := strings.Join(group.Errors, "\n")

	rec, res := engine.Handle(output, nil, recovery.Context{
		Source:       "group:" + group.ID,
		CheckpointID: rt.lastCheckpointID(sessionID),
		Skippable:    true,
	})
	rt.logger.Log("session %s: group %s recovery kind=%s action=%s", sessionID, group.ID, rec.Kind, res.Next)

	switch res.Next.Kind {
	case models.ActionRetry:
		if res.Delay > 0 {
			fmt.Printf("  retrying group %s in %s\n", group.ID, res.Delay)
			time.Sleep(res.Delay)
		}
		retried, rerr := coord.ExecuteGroup(ctx, group.ID, tasks)
		if rerr != nil {
			return false, rerr
		}
		if retried.Status == models.GroupStatusFailed {
			return false, fmt.Errorf("group %s failed after retry", group.ID)
		}
		rt.bumpRecoveries(sessionID)
		return true, nil

	case models.ActionRollback:
		if err := rt.rollback(ctx, sessionID, res.Next.CheckpointID); err != nil {
			return false, err
		}
		rt.bumpRecoveries(sessionID)
		return false, nil

	case models.ActionContinueToNextTask, models.ActionTryAlternative:
		rt.bumpRecoveries(sessionID)
		return true, nil

	case models.ActionWaitForHuman, models.ActionEscalateToHuman:
		return rt.escalate(sessionID, group.ID, rec.Message)

	default:
		return false, fmt.Errorf("unhandled recovery action %s", res.Next)
	}
}

// recoverFromValidation routes a validation failure through the recovery
// engine before the fix loop re-enters implementation. Returns proceed=false
// when the session should pause for a human.
func (rt *runtime) recoverFromValidation(ctx context.Context, sessionID, output string, exitCode *int) (proceed bool, err error) {
	engine := rt.engine(sessionID)
	rec, res := engine.Handle(output, exitCode, recovery.Context{
		Source:       "validation",
		CheckpointID: rt.lastCheckpointID(sessionID),
	})
	rt.logger.Log("session %s: validation recovery kind=%s action=%s", sessionID, rec.Kind, res.Next)

	switch res.Next.Kind {
	case models.ActionRetry:
		if res.Delay > 0 {
			time.Sleep(res.Delay)
		}
		rt.bumpRecoveries(sessionID)
		return true, nil
	case models.ActionRollback:
		if err := rt.rollback(ctx, sessionID, res.Next.CheckpointID); err != nil {
			return false, err
		}
		rt.bumpRecoveries(sessionID)
		return true, nil
	case models.ActionTryAlternative, models.ActionContinueToNextTask:
		rt.bumpRecoveries(sessionID)
		return true, nil
	case models.ActionWaitForHuman, models.ActionEscalateToHuman:
		return rt.escalate(sessionID, "validation", rec.Message)
	default:
		return false, fmt.Errorf("unhandled recovery action %s", res.Next)
	}
}

func (rt *runtime) failSession(sessionID string, cause error) error {
	if _, terr := rt.sessions.Transition(sessionID, models.SessionFailed); terr != nil {
		rt.logger.Log("session %s: transition to failed: %v", sessionID, terr)
	}
	return cause
}

func (rt *runtime) pauseSession(sessionID string) error {
	if _, err := rt.sessions.Transition(sessionID, models.SessionPaused); err != nil {
		return err
	}
	rt.signals.ClearSignals()
	color.Yellow("Session %s paused. Resume with: helmsman sessions resume %s", sessionID, sessionID)
	return nil
}

func (rt *runtime) announcePhase(phase string) {
	color.New(color.FgCyan).Printf("==> %s\n", phase)
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
