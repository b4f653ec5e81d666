// Package tracker is the boundary to the external task tracker. The
// coordinator reads task metadata and dependency status through it and
// writes back closed statuses for completed tasks.
package tracker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

// Tracker is the external task store contract. Dependency status is
// boolean open/closed; open dependencies block.
type Tracker interface {
	// Task returns one task by id, or NotFoundError.
	Task(id string) (*models.TaskMetadata, error)
	// Tasks returns all known tasks.
	Tasks() ([]models.TaskMetadata, error)
	// IsClosed reports whether a task id is closed. Unknown ids count as
	// open so they keep blocking dependents.
	IsClosed(id string) (bool, error)
	// MarkClosed records a task as completed.
	MarkClosed(id string) error
	// SetStatus records an arbitrary status for a task.
	SetStatus(id string, status models.TaskStatus) error
}

// taskFile is the on-disk layout of .helmsman/tasks.yaml.
type taskFile struct {
	Tasks []models.TaskMetadata `yaml:"tasks"`
}

// FileTracker stores tasks in a YAML file. Every mutation rewrites the
// whole file; the mutex keeps concurrent coordinator phases consistent.
type FileTracker struct {
	path string
	mu   sync.Mutex
}

// DefaultTasksPath returns the project-local tasks file path.
func DefaultTasksPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".helmsman", "tasks.yaml")
}

// NewFileTracker creates a tracker over the YAML file at path. The file is
// created empty when missing.
func NewFileTracker(path string) (*FileTracker, error) {
	t := &FileTracker{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := t.save(&taskFile{}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *FileTracker) load() (*taskFile, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tasks file: %w", err)
	}
	return &tf, nil
}

func (t *FileTracker) save(tf *taskFile) error {
	data, err := yaml.Marshal(tf)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("create tasks directory: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		return fmt.Errorf("write tasks file: %w", err)
	}
	return nil
}

// Task returns one task by id.
func (t *FileTracker) Task(id string) (*models.TaskMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tf, err := t.load()
	if err != nil {
		return nil, err
	}
	for i := range tf.Tasks {
		if tf.Tasks[i].ID == id {
			task := tf.Tasks[i]
			return &task, nil
		}
	}
	return nil, &models.NotFoundError{Kind: "task", ID: id}
}

// Tasks returns all tasks in file order.
func (t *FileTracker) Tasks() ([]models.TaskMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tf, err := t.load()
	if err != nil {
		return nil, err
	}
	return tf.Tasks, nil
}

// Add appends tasks to the file. Missing statuses default to pending.
func (t *FileTracker) Add(tasks ...models.TaskMetadata) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tf, err := t.load()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status == "" {
			task.Status = models.TaskStatusPending
		}
		tf.Tasks = append(tf.Tasks, task)
	}
	return t.save(tf)
}

// IsClosed reports whether the task is completed. Unknown ids are open.
func (t *FileTracker) IsClosed(id string) (bool, error) {
	task, err := t.Task(id)
	if err != nil {
		var notFound *models.NotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return task.Status == models.TaskStatusCompleted, nil
}

// MarkClosed records a task as completed.
func (t *FileTracker) MarkClosed(id string) error {
	return t.SetStatus(id, models.TaskStatusCompleted)
}

// SetStatus records a status for a task.
func (t *FileTracker) SetStatus(id string, status models.TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tf, err := t.load()
	if err != nil {
		return err
	}
	for i := range tf.Tasks {
		if tf.Tasks[i].ID == id {
			tf.Tasks[i].Status = status
			return t.save(tf)
		}
	}
	return &models.NotFoundError{Kind: "task", ID: id}
}

// Verify FileTracker implements Tracker at compile time.
var _ Tracker = (*FileTracker)(nil)
