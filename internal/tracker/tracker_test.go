package tracker

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

func setupTracker(t *testing.T) *FileTracker {
	t.Helper()
	tr, err := NewFileTracker(filepath.Join(t.TempDir(), ".helmsman", "tasks.yaml"))
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return tr
}

func TestAddAndGet(t *testing.T) {
	tr := setupTracker(t)

	err := tr.Add(
		models.TaskMetadata{ID: "task-1", Title: "add endpoint", DependsOn: []string{"task-0"}},
		models.TaskMetadata{ID: "task-2", Title: "write tests", Status: models.TaskStatusInProgress},
	)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	task, err := tr.Task("task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("status = %s, want pending default", task.Status)
	}
	if len(task.DependsOn) != 1 || task.DependsOn[0] != "task-0" {
		t.Errorf("depends_on = %v", task.DependsOn)
	}

	all, err := tr.Tasks()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("have %d tasks, want 2", len(all))
	}

	_, err = tr.Task("task-99")
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestDependencyStatus(t *testing.T) {
	tr := setupTracker(t)
	if err := tr.Add(models.TaskMetadata{ID: "task-1", Title: "blocker"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	closed, err := tr.IsClosed("task-1")
	if err != nil {
		t.Fatalf("is closed: %v", err)
	}
	if closed {
		t.Error("pending task reported as closed")
	}

	// Unknown dependencies stay blocking.
	closed, err = tr.IsClosed("task-missing")
	if err != nil {
		t.Fatalf("is closed (unknown): %v", err)
	}
	if closed {
		t.Error("unknown task reported as closed")
	}

	if err := tr.MarkClosed("task-1"); err != nil {
		t.Fatalf("mark closed: %v", err)
	}
	closed, _ = tr.IsClosed("task-1")
	if !closed {
		t.Error("completed task reported as open")
	}
}

func TestSetStatusPersists(t *testing.T) {
	tr := setupTracker(t)
	if err := tr.Add(models.TaskMetadata{ID: "task-1", Title: "work"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tr.SetStatus("task-1", models.TaskStatusFailed); err != nil {
		t.Fatalf("set status: %v", err)
	}

	// Reopen the file through a fresh tracker to confirm persistence.
	reopened, err := NewFileTracker(tr.path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	task, err := reopened.Task("task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != models.TaskStatusFailed {
		t.Errorf("status = %s, want failed", task.Status)
	}

	if err := tr.SetStatus("task-missing", models.TaskStatusFailed); err == nil {
		t.Error("set status on unknown task succeeded")
	}
}
