package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/helmsman-dev/helmsman/internal/executor"
	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/internal/tracker"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

// scriptedExecutor returns a per-task canned result, optionally after a
// delay so tasks overlap the coordinator's bookkeeping.
type scriptedExecutor struct {
	name      string
	results   map[string]executor.Result
	launchErr error
	delay     time.Duration
}

func (s *scriptedExecutor) Name() string { return s.name }

func (s *scriptedExecutor) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.launchErr != nil {
		return executor.Result{}, s.launchErr
	}
	if res, ok := s.results[req.TaskID]; ok {
		return res, nil
	}
	return executor.Result{Status: models.TaskStatusCompleted, Output: "ok"}, nil
}

type fixture struct {
	db    *state.DB
	tasks *tracker.FileTracker
	reg   *executor.Registry
	sel   *executor.Selector
}

func setup(t *testing.T, exec executor.Executor) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := state.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tasks, err := tracker.NewFileTracker(filepath.Join(dir, "tasks.yaml"))
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}

	reg := executor.NewRegistry([]string{exec.Name()})
	reg.Register(exec)

	return &fixture{
		db:    db,
		tasks: tasks,
		reg:   reg,
		sel:   executor.NewSelector(nil, exec.Name()),
	}
}

func (f *fixture) coordinator(opts Options) *Coordinator {
	return New("sess-test", f.db, f.reg, f.sel, f.tasks, opts)
}

func TestDetectGroups(t *testing.T) {
	tasks := []models.TaskMetadata{
		{ID: "task-1", Description: "set up terraform [P:Group-infra]"},
		{ID: "task-2", Description: "[P:Group-infra] provision database"},
		{ID: "task-3", Description: "write the release notes"},
	}

	groups := DetectGroups(tasks)
	if len(groups) != 2 {
		t.Fatalf("have %d groups, want 2", len(groups))
	}

	infra := groups["infra"]
	if len(infra) != 2 {
		t.Fatalf("infra group has %d tasks, want 2", len(infra))
	}
	ids := []string{infra[0].ID, infra[1].ID}
	sort.Strings(ids)
	if ids[0] != "task-1" || ids[1] != "task-2" {
		t.Errorf("infra members = %v", ids)
	}

	seq := groups[models.SequentialGroupID]
	if len(seq) != 1 || seq[0].ID != "task-3" {
		t.Errorf("sequential group = %v", seq)
	}
}

func TestDetectGroupsMarkerCharset(t *testing.T) {
	groups := DetectGroups([]models.TaskMetadata{
		{ID: "task-1", Description: "[P:Group-api_v2] split handlers"},
		{ID: "task-2", Description: "[P:Group-bad id] malformed marker"},
	})
	if _, ok := groups["api_v2"]; !ok {
		t.Error("underscore id not detected")
	}
	if len(groups[models.SequentialGroupID]) != 1 {
		t.Error("malformed marker should fall back to sequential")
	}
}

func TestExecuteGroupAllComplete(t *testing.T) {
	exec := &scriptedExecutor{name: "claude"}
	f := setup(t, exec)

	tasks := []models.TaskMetadata{
		{ID: "task-1", Title: "one"},
		{ID: "task-2", Title: "two"},
	}
	if err := f.tasks.Add(tasks...); err != nil {
		t.Fatalf("add tasks: %v", err)
	}

	c := f.coordinator(Options{})
	group, err := c.ExecuteGroup(context.Background(), "infra", tasks)
	if err != nil {
		t.Fatalf("execute group: %v", err)
	}

	if group.Status != models.GroupStatusCompleted {
		t.Errorf("status = %s, want completed", group.Status)
	}
	if group.Phase != models.GroupPhasePost {
		t.Errorf("phase = %s, want post_execution", group.Phase)
	}
	if !group.ContextRefreshed {
		t.Error("nil refresh hook should count as refreshed")
	}
	if len(group.Results) != 2 {
		t.Fatalf("have %d results, want 2", len(group.Results))
	}
	for _, r := range group.Results {
		if r.Status != models.TaskStatusCompleted || r.FinishedAt == nil {
			t.Errorf("result %s: status=%s finished=%v", r.TaskID, r.Status, r.FinishedAt)
		}
	}

	// Completed tasks are closed in the tracker.
	for _, id := range []string{"task-1", "task-2"} {
		closed, _ := f.tasks.IsClosed(id)
		if !closed {
			t.Errorf("%s not closed in tracker", id)
		}
	}

	// The final record is persisted and readable.
	saved, err := c.Group("infra")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if saved.Status != models.GroupStatusCompleted {
		t.Errorf("persisted status = %s", saved.Status)
	}
}

func TestExecuteGroupFailureKeepsSiblings(t *testing.T) {
	exec := &scriptedExecutor{
		name: "claude",
		results: map[string]executor.Result{
			"task-2": {Status: models.TaskStatusFailed, Output: "compile error"},
		},
	}
	f := setup(t, exec)

	tasks := []models.TaskMetadata{
		{ID: "task-1", Title: "good"},
		{ID: "task-2", Title: "bad"},
	}
	if err := f.tasks.Add(tasks...); err != nil {
		t.Fatalf("add tasks: %v", err)
	}

	group, err := f.coordinator(Options{}).ExecuteGroup(context.Background(), "infra", tasks)
	if err != nil {
		t.Fatalf("execute group: %v", err)
	}

	if group.Status != models.GroupStatusFailed {
		t.Errorf("status = %s, want failed", group.Status)
	}
	if len(group.Errors) == 0 {
		t.Error("failed group has empty error list")
	}

	// The completed sibling keeps its status and stays closed.
	byID := map[string]models.TaskResult{}
	for _, r := range group.Results {
		byID[r.TaskID] = r
	}
	if byID["task-1"].Status != models.TaskStatusCompleted {
		t.Errorf("sibling status = %s, want completed", byID["task-1"].Status)
	}
	if byID["task-2"].Status != models.TaskStatusFailed {
		t.Errorf("failed task status = %s", byID["task-2"].Status)
	}
	closed, _ := f.tasks.IsClosed("task-1")
	if !closed {
		t.Error("completed sibling was not closed in tracker")
	}
}

func TestExecuteGroupConcurrentTasks(t *testing.T) {
	exec := &scriptedExecutor{name: "claude", delay: 20 * time.Millisecond}
	f := setup(t, exec)

	var tasks []models.TaskMetadata
	for i := 1; i <= 8; i++ {
		tasks = append(tasks, models.TaskMetadata{ID: fmt.Sprintf("task-%d", i), Title: "work"})
	}
	if err := f.tasks.Add(tasks...); err != nil {
		t.Fatalf("add tasks: %v", err)
	}

	// The delay keeps workers writing results while the coordinator
	// persists the coordination phase transition.
	c := f.coordinator(Options{})
	group, err := c.ExecuteGroup(context.Background(), "infra", tasks)
	if err != nil {
		t.Fatalf("execute group: %v", err)
	}

	if group.Status != models.GroupStatusCompleted {
		t.Errorf("status = %s, want completed", group.Status)
	}
	if len(group.Results) != 8 {
		t.Fatalf("have %d results, want 8", len(group.Results))
	}
	for _, r := range group.Results {
		if r.Status != models.TaskStatusCompleted || r.FinishedAt == nil {
			t.Errorf("result %s: status=%s finished=%v", r.TaskID, r.Status, r.FinishedAt)
		}
	}

	saved, err := c.Group("infra")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if saved.Status != models.GroupStatusCompleted || len(saved.Results) != 8 {
		t.Errorf("persisted record: status=%s results=%d", saved.Status, len(saved.Results))
	}
}

func TestExecuteGroupBlockedTasksExcluded(t *testing.T) {
	exec := &scriptedExecutor{name: "claude"}
	f := setup(t, exec)

	tasks := []models.TaskMetadata{
		{ID: "task-1", Title: "ready"},
		{ID: "task-2", Title: "waiting", DependsOn: []string{"task-0"}},
	}
	if err := f.tasks.Add(tasks...); err != nil {
		t.Fatalf("add tasks: %v", err)
	}

	group, err := f.coordinator(Options{}).ExecuteGroup(context.Background(), "infra", tasks)
	if err != nil {
		t.Fatalf("execute group: %v", err)
	}

	if len(group.Results) != 1 || group.Results[0].TaskID != "task-1" {
		t.Fatalf("results = %v, want only task-1", group.Results)
	}
	if group.Status != models.GroupStatusCompleted {
		t.Errorf("status = %s; blocked tasks must not fail the pass", group.Status)
	}

	task2, _ := f.tasks.Task("task-2")
	if task2.Status != models.TaskStatusBlocked {
		t.Errorf("blocked task status = %s", task2.Status)
	}

	// Once the dependency closes, a re-pass picks the task up.
	if err := f.tasks.Add(models.TaskMetadata{ID: "task-0", Status: models.TaskStatusCompleted}); err != nil {
		t.Fatalf("add dep: %v", err)
	}
	group, err = f.coordinator(Options{}).ExecuteGroup(context.Background(), "infra", []models.TaskMetadata{*task2})
	if err != nil {
		t.Fatalf("re-pass: %v", err)
	}
	if group.Status != models.GroupStatusCompleted || len(group.Results) != 1 {
		t.Errorf("re-pass status=%s results=%d", group.Status, len(group.Results))
	}
}

func TestExecuteGroupAllBlockedIsBlocked(t *testing.T) {
	exec := &scriptedExecutor{name: "claude"}
	f := setup(t, exec)

	tasks := []models.TaskMetadata{
		{ID: "task-1", Title: "waiting", DependsOn: []string{"task-0"}},
	}
	if err := f.tasks.Add(tasks...); err != nil {
		t.Fatalf("add tasks: %v", err)
	}

	group, err := f.coordinator(Options{}).ExecuteGroup(context.Background(), "infra", tasks)
	if err != nil {
		t.Fatalf("execute group: %v", err)
	}
	if group.Status != models.GroupStatusBlocked {
		t.Errorf("status = %s, want blocked", group.Status)
	}
}

func TestExecuteGroupRefreshFailsOpen(t *testing.T) {
	exec := &scriptedExecutor{name: "claude"}
	f := setup(t, exec)

	tasks := []models.TaskMetadata{{ID: "task-1", Title: "work"}}
	if err := f.tasks.Add(tasks...); err != nil {
		t.Fatalf("add tasks: %v", err)
	}

	c := f.coordinator(Options{
		Refresh: func(ctx context.Context) error { return errors.New("decisions file unreadable") },
	})
	group, err := c.ExecuteGroup(context.Background(), "infra", tasks)
	if err != nil {
		t.Fatalf("execute group: %v", err)
	}
	if group.ContextRefreshed {
		t.Error("refresh failure not recorded")
	}
	if group.Status != models.GroupStatusCompleted {
		t.Errorf("refresh failure blocked the group: %s", group.Status)
	}
}

func TestExecuteGroupAllLaunchFailures(t *testing.T) {
	exec := &scriptedExecutor{name: "claude", launchErr: errors.New("binary not found")}
	f := setup(t, exec)

	tasks := []models.TaskMetadata{{ID: "task-1", Title: "work"}}
	if err := f.tasks.Add(tasks...); err != nil {
		t.Fatalf("add tasks: %v", err)
	}

	group, err := f.coordinator(Options{}).ExecuteGroup(context.Background(), "infra", tasks)
	if err != nil {
		t.Fatalf("execute group: %v", err)
	}
	if group.Status != models.GroupStatusFailed {
		t.Errorf("status = %s, want failed", group.Status)
	}
	if len(group.Errors) == 0 {
		t.Error("launch failures missing from error list")
	}
}

func TestWaitForCompletion(t *testing.T) {
	exec := &scriptedExecutor{name: "claude"}
	f := setup(t, exec)
	c := f.coordinator(Options{})

	// No such group: times out without mutating anything.
	start := time.Now()
	if c.WaitForCompletion("ghost", 300*time.Millisecond) {
		t.Error("wait reported completion for an unknown group")
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Error("wait returned before the timeout")
	}

	tasks := []models.TaskMetadata{{ID: "task-1", Title: "work"}}
	if err := f.tasks.Add(tasks...); err != nil {
		t.Fatalf("add tasks: %v", err)
	}
	if _, err := c.ExecuteGroup(context.Background(), "infra", tasks); err != nil {
		t.Fatalf("execute group: %v", err)
	}
	if !c.WaitForCompletion("infra", time.Second) {
		t.Error("wait did not observe the terminal group")
	}
}
