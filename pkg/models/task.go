package models

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates an open dependency prevents the task
	// from entering execution.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses that end a task's execution.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskMetadata describes one unit of work as read from the external tracker.
type TaskMetadata struct {
	// ID is the tracker identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title"`
	// Description provides detail; it may carry a [P:Group-<id>] marker.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Executor is an explicit executor hint, if any.
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`
	// FallbackExecutors are tried in order when Executor fails to launch.
	FallbackExecutors []string `json:"fallback_executors,omitempty" yaml:"fallback_executors,omitempty"`
	// Capabilities lists external capabilities the task requires.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Files is the task's declared file set. Parallel execution relies on
	// tasks staying inside their declared set; this is a contract, not an
	// enforced lock.
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`
	// DependsOn lists tracker ids that must be closed first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Priority orders tasks within a group (higher first).
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status"`
}
