// Package coordinator executes independent task subsets concurrently while
// preserving dependency and conflict safety. Groups move through a
// four-phase protocol and every phase transition is persisted before the
// next phase starts, so a crash never requires replaying earlier phases.
package coordinator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helmsman-dev/helmsman/internal/exec"
	"github.com/helmsman-dev/helmsman/internal/executor"
	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/internal/tracker"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

// groupMarker matches a [P:Group-<id>] marker in a task description.
// Ids are alphanumeric plus underscore.
var groupMarker = regexp.MustCompile(`\[P:Group-([A-Za-z0-9_]+)\]`)

// DetectGroups buckets tasks by their group marker. Tasks without a marker
// land in the _sequential pseudo-group, which the caller must run one at a
// time.
func DetectGroups(tasks []models.TaskMetadata) map[string][]models.TaskMetadata {
	groups := make(map[string][]models.TaskMetadata)
	for _, task := range tasks {
		id := models.SequentialGroupID
		if m := groupMarker.FindStringSubmatch(task.Description); m != nil {
			id = m[1]
		}
		groups[id] = append(groups[id], task)
	}
	return groups
}

// Options configures a Coordinator.
type Options struct {
	// Refresh is the best-effort pre-group context refresh. A failure is
	// recorded on the group but never blocks it. May be nil.
	Refresh func(ctx context.Context) error
	// VerifyCommand is an optional shell command run in phase 4 after all
	// tasks complete (e.g. the test suite). Empty disables verification.
	VerifyCommand string
	// WorkDir is the directory tasks and verification run in.
	WorkDir string
	// Commands runs the verification command. Required when VerifyCommand
	// is set.
	Commands exec.CommandRunner
}

// Coordinator drives parallel task groups for one session.
type Coordinator struct {
	sessionID string
	store     state.Store
	registry  *executor.Registry
	selector  *executor.Selector
	tasks     tracker.Tracker
	opts      Options
}

// New creates a coordinator for the given session.
func New(sessionID string, store state.Store, reg *executor.Registry, sel *executor.Selector, tasks tracker.Tracker, opts Options) *Coordinator {
	return &Coordinator{
		sessionID: sessionID,
		store:     store,
		registry:  reg,
		selector:  sel,
		tasks:     tasks,
		opts:      opts,
	}
}

// ExecuteGroup runs one group through the four-phase protocol and returns
// the final persisted group record. Sequential pseudo-group members run one
// at a time; real groups run concurrently. Member failures never cancel
// siblings.
func (c *Coordinator) ExecuteGroup(ctx context.Context, groupID string, tasks []models.TaskMetadata) (*models.GroupMetadata, error) {
	now := time.Now().UTC()
	group := &models.GroupMetadata{
		ID:        groupID,
		SessionID: c.sessionID,
		Name:      groupName(groupID, tasks),
		Phase:     models.GroupPhasePre,
		Status:    models.GroupStatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, t := range tasks {
		group.TaskIDs = append(group.TaskIDs, t.ID)
	}
	if err := c.persist(group); err != nil {
		return nil, err
	}

	// Phase 1: context refresh fails open; dependency check splits the
	// group into ready and blocked.
	group.ContextRefreshed = c.refreshContext(ctx)

	ready, blocked, err := c.splitByDependencies(tasks)
	if err != nil {
		return nil, err
	}
	for _, t := range blocked {
		if t.Status == models.TaskStatusPending {
			if err := c.tasks.SetStatus(t.ID, models.TaskStatusBlocked); err != nil {
				return nil, err
			}
		}
	}

	group.Phase = models.GroupPhaseConcurrent
	if err := c.persist(group); err != nil {
		return nil, err
	}

	// Phase 2: resolve an executor chain per ready task and launch. Each
	// launched task gets an in-progress result entry before anything runs.
	var mu sync.Mutex
	for _, t := range ready {
		name, guidance := c.selector.Resolve(t)
		group.Results = append(group.Results, models.TaskResult{
			TaskID:    t.ID,
			Executor:  name,
			Guidance:  guidance,
			Status:    models.TaskStatusInProgress,
			StartedAt: time.Now().UTC(),
		})
	}
	if err := c.persist(group); err != nil {
		return nil, err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if groupID == models.SequentialGroupID {
		eg.SetLimit(1)
	}
	for i, t := range ready {
		guidance := group.Results[i].Guidance
		eg.Go(func() error {
			status, output, taskErr := c.runTask(egCtx, t, guidance)

			mu.Lock()
			finished := time.Now().UTC()
			group.Results[i].Status = status
			group.Results[i].Output = output
			group.Results[i].FinishedAt = &finished
			if taskErr != "" {
				group.Results[i].Error = taskErr
				group.Errors = append(group.Errors, fmt.Sprintf("%s: %s", t.ID, taskErr))
			}
			mu.Unlock()

			return c.tasks.SetStatus(t.ID, status)
		})
	}

	// Phase 3: the phase does not advance until every launched task has a
	// terminal status. Workers are still writing results, so persisting the
	// transition takes the same lock.
	mu.Lock()
	group.Phase = models.GroupPhaseCoordination
	err = c.persist(group)
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	group.Phase = models.GroupPhasePost
	if err := c.persist(group); err != nil {
		return nil, err
	}

	// Phase 4: verify, close completed tasks, settle the group status.
	// Completed siblings of a failed task keep their individual status.
	failed := len(group.Errors) > 0
	for i := range group.Results {
		if group.Results[i].Status == models.TaskStatusFailed {
			failed = true
		}
	}

	if !failed && len(group.Results) > 0 && c.opts.VerifyCommand != "" {
		if verr := c.runVerification(ctx); verr != nil {
			failed = true
			group.Errors = append(group.Errors, fmt.Sprintf("verification: %v", verr))
		}
	}

	for i := range group.Results {
		if group.Results[i].Status == models.TaskStatusCompleted {
			if err := c.tasks.MarkClosed(group.Results[i].TaskID); err != nil {
				return nil, err
			}
		}
	}

	switch {
	case failed:
		group.Status = models.GroupStatusFailed
	case len(group.Results) == 0 && len(blocked) > 0:
		group.Status = models.GroupStatusBlocked
	default:
		group.Status = models.GroupStatusCompleted
	}
	if err := c.persist(group); err != nil {
		return nil, err
	}
	return group, nil
}

// runTask walks the resolved executor chain for one task. Launch failures
// advance to the next executor in the chain; a task that ran and failed is
// terminal.
func (c *Coordinator) runTask(ctx context.Context, task models.TaskMetadata, guidance string) (models.TaskStatus, string, string) {
	chain := c.registry.ResolveChain(task, c.selector)
	if len(chain) == 0 {
		return models.TaskStatusFailed, "", "no registered executor for task"
	}

	req := executor.Request{
		TaskID:   task.ID,
		Prompt:   taskPrompt(task),
		Guidance: guidance,
		WorkDir:  c.opts.WorkDir,
	}

	var launchErrs []string
	for _, e := range chain {
		res, err := e.Execute(ctx, req)
		if err != nil {
			launchErrs = append(launchErrs, fmt.Sprintf("%s: %v", e.Name(), err))
			continue
		}
		if res.Status == models.TaskStatusFailed {
			return models.TaskStatusFailed, res.Output, "task failed"
		}
		return models.TaskStatusCompleted, res.Output, ""
	}
	return models.TaskStatusFailed, "", "all executors failed to launch: " + strings.Join(launchErrs, "; ")
}

// refreshContext runs the pre-group refresh hook. Best-effort only.
func (c *Coordinator) refreshContext(ctx context.Context) bool {
	if c.opts.Refresh == nil {
		return true
	}
	return c.opts.Refresh(ctx) == nil
}

// splitByDependencies separates tasks whose blocking dependencies are all
// closed from those still waiting. Unknown dependency ids count as open.
func (c *Coordinator) splitByDependencies(tasks []models.TaskMetadata) (ready, blocked []models.TaskMetadata, err error) {
	for _, t := range tasks {
		open := false
		for _, dep := range t.DependsOn {
			closed, derr := c.tasks.IsClosed(dep)
			if derr != nil {
				return nil, nil, derr
			}
			if !closed {
				open = true
				break
			}
		}
		if open {
			blocked = append(blocked, t)
		} else {
			ready = append(ready, t)
		}
	}
	return ready, blocked, nil
}

func (c *Coordinator) runVerification(ctx context.Context) error {
	if c.opts.Commands == nil {
		return fmt.Errorf("verification command configured without a command runner")
	}
	res, err := c.opts.Commands.RunShell(ctx, c.opts.WorkDir, c.opts.VerifyCommand)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("command exited %d: %s", res.ExitCode, firstLines(string(res.Output), 5))
	}
	return nil
}

func (c *Coordinator) persist(group *models.GroupMetadata) error {
	group.UpdatedAt = time.Now().UTC()
	return c.store.SaveGroup(group)
}

// WaitForCompletion polls the persisted group status until it is terminal
// or the timeout elapses. Returns false on timeout without mutating group
// state.
func (c *Coordinator) WaitForCompletion(groupID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		// GetGroup returns nil without error for an unknown id; keep
		// polling until the record appears or the deadline passes.
		group, err := c.store.GetGroup(c.sessionID, groupID)
		if err == nil && group != nil && group.Status.Terminal() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Group returns one persisted group record.
func (c *Coordinator) Group(groupID string) (*models.GroupMetadata, error) {
	return c.store.GetGroup(c.sessionID, groupID)
}

// ListGroups returns the session's groups, optionally filtered by status.
func (c *Coordinator) ListGroups(status *models.GroupStatus) ([]models.GroupMetadata, error) {
	return c.store.ListGroups(c.sessionID, status)
}

func groupName(groupID string, tasks []models.TaskMetadata) string {
	if groupID == models.SequentialGroupID {
		return "sequential tasks"
	}
	return fmt.Sprintf("group %s (%d tasks)", groupID, len(tasks))
}

func taskPrompt(task models.TaskMetadata) string {
	var b strings.Builder
	b.WriteString(task.Title)
	if task.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(groupMarker.ReplaceAllString(task.Description, ""))
	}
	if len(task.Files) > 0 {
		b.WriteString("\n\nOnly modify these files: ")
		b.WriteString(strings.Join(task.Files, ", "))
	}
	return strings.TrimSpace(b.String())
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
