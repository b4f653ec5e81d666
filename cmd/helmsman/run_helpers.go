package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"

	"github.com/helmsman-dev/helmsman/internal/checkpoint"
	"github.com/helmsman-dev/helmsman/internal/config"
	"github.com/helmsman-dev/helmsman/internal/coordinator"
	"github.com/helmsman-dev/helmsman/internal/exec"
	"github.com/helmsman-dev/helmsman/internal/executor"
	"github.com/helmsman-dev/helmsman/internal/git"
	"github.com/helmsman-dev/helmsman/internal/logging"
	"github.com/helmsman-dev/helmsman/internal/notify"
	"github.com/helmsman-dev/helmsman/internal/recovery"
	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/internal/tracker"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

// runtime bundles everything a session drive needs. One runtime serves one
// command invocation.
type runtime struct {
	cwd         string
	cfg         *config.Config
	db          *state.DB
	repo        *git.ExecRunner
	commands    exec.CommandRunner
	signals     *notify.SignalManager
	logger      *logging.DebugLogger
	sessions    *session.Manager
	checkpoints *checkpoint.Manager
	tasks       *tracker.FileTracker
	tasksPath   string
	registry    *executor.Registry
	selector    *executor.Selector
	engines     map[string]*recovery.Engine
}

func newRuntime() (*runtime, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := state.OpenProject(cwd)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}

	signals, err := notify.NewSignalManager(cwd)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init signal manager: %w", err)
	}

	repo := git.NewRunner(cwd)
	commands := exec.NewRunner()

	tasksPath := runTasksFile
	if tasksPath == "" {
		tasksPath = tracker.DefaultTasksPath(cwd)
	}
	tasks, err := tracker.NewFileTracker(tasksPath)
	if err != nil {
		signals.Close()
		db.Close()
		return nil, fmt.Errorf("open task tracker: %w", err)
	}

	rt := &runtime{
		cwd:       cwd,
		cfg:       cfg,
		db:        db,
		repo:      repo,
		commands:  commands,
		signals:   signals,
		logger:    logging.NewDebugLoggerForProject(cwd),
		sessions:  session.NewManager(db, repo),
		tasks:     tasks,
		tasksPath: tasksPath,
		engines:   make(map[string]*recovery.Engine),
	}
	rt.checkpoints = checkpoint.NewManager(db, repo, checkpoint.Options{
		TestCommand: cfg.Validation.TestCommand,
		WorkDir:     cwd,
		Commands:    commands,
	})
	rt.registry, rt.selector = buildExecutors(cfg, commands)
	return rt, nil
}

func (rt *runtime) Close() {
	rt.signals.Close()
	rt.logger.Close()
	rt.db.Close()
}

// buildExecutors registers the available executors. The claude CLI executor
// is always registered; the direct API executor only when credentials
// resolve.
func buildExecutors(cfg *config.Config, commands exec.CommandRunner) (*executor.Registry, *executor.Selector) {
	reg := executor.NewRegistry(cfg.Executor.Chain)
	reg.Register(executor.NewSubprocessExecutor("claude", "claude", []string{"-p"}, commands))

	clientCfg := executor.ClientConfig{
		Model:         anthropic.Model(cfg.Executor.Model),
		UseAWSBedrock: cfg.Executor.UseBedrock,
		AWSRegion:     cfg.Executor.BedrockRegion,
	}
	if key, err := config.GetAPIKey(cfg); err == nil {
		clientCfg.APIKey = key
	}
	if api, err := executor.NewAPIExecutor(clientCfg); err == nil {
		reg.Register(api)
	}

	return reg, executor.NewSelector(executor.DefaultRules, defaultExecutorName(cfg))
}

func defaultExecutorName(cfg *config.Config) string {
	if len(cfg.Executor.Chain) > 0 {
		return cfg.Executor.Chain[0]
	}
	return "claude"
}

func (rt *runtime) coordinator(sessionID string) *coordinator.Coordinator {
	return coordinator.New(sessionID, rt.db, rt.registry, rt.selector, rt.tasks, coordinator.Options{
		Refresh: func(ctx context.Context) error {
			if rt.signals.ReadDecisions() == "" {
				return fmt.Errorf("decisions file unreadable")
			}
			return nil
		},
		VerifyCommand: rt.cfg.Validation.TestCommand,
		WorkDir:       rt.cwd,
		Commands:      rt.commands,
	})
}

func (rt *runtime) engine(sessionID string) *recovery.Engine {
	if e, ok := rt.engines[sessionID]; ok {
		return e
	}
	e := recovery.NewEngine(sessionID, rt.db, recovery.RetryPolicy{
		BaseDelay:   rt.cfg.Retry.BaseDelay,
		BackoffBase: rt.cfg.Retry.BackoffBase,
		MaxDelay:    rt.cfg.Retry.MaxDelay,
		MaxRetries:  rt.cfg.Retry.MaxRetries,
	})
	rt.engines[sessionID] = e
	return e
}

// sessionContext bounds a drive by the session timeout. A zero timeout
// means unbounded.
func sessionContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// openTasks returns tracker tasks that still need a pass.
func (rt *runtime) openTasks() ([]models.TaskMetadata, error) {
	all, err := rt.tasks.Tasks()
	if err != nil {
		return nil, err
	}
	var open []models.TaskMetadata
	for _, t := range all {
		if !t.Status.Terminal() {
			open = append(open, t)
		}
	}
	return open, nil
}

// orderGroups returns group ids with named groups first (sorted) and the
// sequential pseudo-group last.
func orderGroups(groups map[string][]models.TaskMetadata) []string {
	var ids []string
	for id := range groups {
		if id != models.SequentialGroupID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if _, ok := groups[models.SequentialGroupID]; ok {
		ids = append(ids, models.SequentialGroupID)
	}
	return ids
}

// autoCheckpoint creates a phase-boundary checkpoint. Failures are logged,
// never fatal.
func (rt *runtime) autoCheckpoint(ctx context.Context, sessionID, phase string) {
	cp, err := rt.checkpoints.Create(ctx, sessionID, "auto checkpoint at "+phase, phase,
		models.CheckpointPhaseComplete, nil, true)
	if err != nil {
		rt.logger.Log("session %s: auto checkpoint at %s: %v", sessionID, phase, err)
		return
	}
	fmt.Printf("  checkpoint %s (%s)\n", cp.ID, cp.TagName)
	rt.bumpStats(sessionID, func(st *models.SessionStats) { st.CheckpointsCreated++ })
}

// lastCheckpointID returns the newest checkpoint id for the session, or "".
// Checkpoint listings are newest-first.
func (rt *runtime) lastCheckpointID(sessionID string) string {
	cps, err := rt.checkpoints.List(sessionID)
	if err != nil || len(cps) == 0 {
		return ""
	}
	return cps[0].ID
}

// stateFilterLatest selects only the most recent session.
func stateFilterLatest() state.SessionFilter {
	return state.SessionFilter{Limit: 1}
}

func (rt *runtime) rollback(ctx context.Context, sessionID, checkpointID string) error {
	op, err := rt.checkpoints.Rollback(ctx, sessionID, checkpointID, runDestructive)
	if err != nil {
		return fmt.Errorf("rollback to %s: %w", checkpointID, err)
	}
	if !op.Success {
		return fmt.Errorf("rollback to %s failed: %s", checkpointID, op.ErrorMessage)
	}
	color.Yellow("  rolled back to %s (%s)", checkpointID, shortRev(op.RevisionAfter))
	return nil
}

// escalate asks a human through the escalation file protocol and blocks for
// an answer. No answer within the window pauses the session.
func (rt *runtime) escalate(sessionID, source, message string) (proceed bool, err error) {
	id := fmt.Sprintf("%s-%d", source, time.Now().Unix())
	question := fmt.Sprintf("Session %s hit a failure in %s that needs a decision:\n\n%s", sessionID, source, message)
	if err := rt.signals.Escalate(id, question); err != nil {
		return false, fmt.Errorf("write escalation: %w", err)
	}

	wait := rt.cfg.Timeouts.Task
	color.Yellow("  escalated to human (%s); waiting up to %s for an answer", id, wait)
	answer, ok := rt.signals.WaitForAnswer(id, wait)
	rt.signals.ClearEscalation(id)
	if !ok {
		return false, nil
	}

	if err := rt.signals.AppendDecision(fmt.Sprintf("escalation %s: %s", id, answer)); err != nil {
		rt.logger.Log("session %s: record decision: %v", sessionID, err)
	}
	rt.bumpStats(sessionID, func(st *models.SessionStats) { st.DecisionsMade++ })
	return true, nil
}

// validate runs the configured test command. An empty command counts as
// passing.
func (rt *runtime) validate(ctx context.Context) (ok bool, output string, exitCode *int) {
	cmd := rt.cfg.Validation.TestCommand
	if cmd == "" {
		return true, "", nil
	}
	res, err := rt.commands.RunShell(ctx, rt.cwd, cmd)
	if err != nil {
		return false, err.Error(), nil
	}
	if res.ExitCode != 0 {
		return false, string(res.Output), &res.ExitCode
	}
	return true, string(res.Output), nil
}

func (rt *runtime) recordGroupStats(sessionID string, group *models.GroupMetadata) {
	rt.bumpStats(sessionID, func(st *models.SessionStats) {
		for _, r := range group.Results {
			st.TasksAttempted++
			switch r.Status {
			case models.TaskStatusCompleted:
				st.TasksCompleted++
			case models.TaskStatusFailed:
				st.TasksFailed++
			}
		}
	})
}

func (rt *runtime) bumpRecoveries(sessionID string) {
	rt.bumpStats(sessionID, func(st *models.SessionStats) { st.RecoveriesPerformed++ })
}

func (rt *runtime) bumpStats(sessionID string, update func(*models.SessionStats)) {
	if err := rt.sessions.RecordStats(sessionID, update); err != nil {
		rt.logger.Log("session %s: record stats: %v", sessionID, err)
	}
}

// writeReport renders the session report under .helmsman/reports.
func (rt *runtime) writeReport(sessionID string) (string, error) {
	sess, err := rt.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	groups, err := rt.db.ListGroups(sessionID, nil)
	if err != nil {
		return "", err
	}
	rollbacks, err := rt.checkpoints.History(sessionID)
	if err != nil {
		return "", err
	}
	errs, err := rt.db.ListErrors(sessionID, 10)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", sess.ID)
	fmt.Fprintf(&b, "Goal: %s\n\n", sess.Goal)
	fmt.Fprintf(&b, "Started: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Branch: %s @ %s\n\n", sess.Repo.Branch, sess.Repo.Revision)

	fmt.Fprintf(&b, "## Stats\n\n")
	fmt.Fprintf(&b, "- Tasks attempted: %d\n", sess.Stats.TasksAttempted)
	fmt.Fprintf(&b, "- Tasks completed: %d\n", sess.Stats.TasksCompleted)
	fmt.Fprintf(&b, "- Tasks failed: %d\n", sess.Stats.TasksFailed)
	fmt.Fprintf(&b, "- Checkpoints created: %d\n", sess.Stats.CheckpointsCreated)
	fmt.Fprintf(&b, "- Recoveries performed: %d\n", sess.Stats.RecoveriesPerformed)
	fmt.Fprintf(&b, "- Decisions made: %d\n\n", sess.Stats.DecisionsMade)

	if len(groups) > 0 {
		fmt.Fprintf(&b, "## Task groups\n\n")
		for _, g := range groups {
			fmt.Fprintf(&b, "- %s: %s (%d tasks)\n", g.ID, g.Status, len(g.TaskIDs))
			for _, e := range g.Errors {
				fmt.Fprintf(&b, "  - error: %s\n", e)
			}
		}
		b.WriteString("\n")
	}

	if len(rollbacks) > 0 {
		fmt.Fprintf(&b, "## Rollbacks\n\n")
		for _, op := range rollbacks {
			outcome := "ok"
			if !op.Success {
				outcome = "failed: " + op.ErrorMessage
			}
			fmt.Fprintf(&b, "- %s -> %s (%s, %s)\n", op.ID, op.CheckpointID, op.Mode, outcome)
		}
		b.WriteString("\n")
	}

	if len(errs) > 0 {
		fmt.Fprintf(&b, "## Recent errors\n\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", e.Category, e.Kind, e.Message)
		}
	}

	dir := filepath.Join(rt.cwd, ".helmsman", "reports")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}
	path := filepath.Join(dir, sess.ID+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
