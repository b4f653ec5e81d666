package models

import "time"

// GroupPhase is the coordinator's position in the four-phase protocol.
type GroupPhase string

const (
	GroupPhasePre          GroupPhase = "pre_execution"
	GroupPhaseConcurrent   GroupPhase = "concurrent_execution"
	GroupPhaseCoordination GroupPhase = "coordination"
	GroupPhasePost         GroupPhase = "post_execution"
)

// GroupStatus is the overall status of a parallel task group.
type GroupStatus string

const (
	GroupStatusPending    GroupStatus = "pending"
	GroupStatusInProgress GroupStatus = "in_progress"
	GroupStatusCompleted  GroupStatus = "completed"
	GroupStatusFailed     GroupStatus = "failed"
	GroupStatusBlocked    GroupStatus = "blocked"
)

// Terminal returns true when the group will make no further progress
// without a new execution pass.
func (s GroupStatus) Terminal() bool {
	return s == GroupStatusCompleted || s == GroupStatusFailed
}

// TaskResult is one member task's entry in a group's result list.
type TaskResult struct {
	// TaskID is the tracker id of the task.
	TaskID string `json:"task_id"`
	// Executor is the executor identity resolved for the task.
	Executor string `json:"executor"`
	// Guidance is pre-applied capability guidance handed to the executor.
	Guidance string `json:"guidance,omitempty"`
	// Status is the task's per-entry status in this pass.
	Status TaskStatus `json:"status"`
	// Output is the executor's result payload, if any.
	Output string `json:"output,omitempty"`
	// Error explains a failure; empty otherwise.
	Error string `json:"error,omitempty"`
	// StartedAt is when the task was launched.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the task reached a terminal status.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// GroupMetadata is the persisted record of one parallel task group.
// It is written back after every phase transition so a crash never
// requires replaying earlier phases.
type GroupMetadata struct {
	// ID is the group identifier parsed from the [P:Group-<id>] marker.
	ID string `json:"id"`
	// SessionID is the owning session.
	SessionID string `json:"session_id"`
	// Name is a human-readable group name.
	Name string `json:"name"`
	// Phase is the current protocol phase.
	Phase GroupPhase `json:"phase"`
	// TaskIDs are the member tasks.
	TaskIDs []string `json:"task_ids"`
	// CreatedAt is when the group was detected.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is bumped on every persisted phase transition.
	UpdatedAt time.Time `json:"updated_at"`
	// Status is the overall group status.
	Status GroupStatus `json:"status"`
	// Results holds one entry per launched task.
	Results []TaskResult `json:"results,omitempty"`
	// Errors collects failure messages from member tasks.
	Errors []string `json:"errors,omitempty"`
	// ContextRefreshed records whether the mandatory pre-group context
	// refresh completed. Refresh failure is recorded, never blocking.
	ContextRefreshed bool `json:"context_refreshed"`
}

// SequentialGroupID is the pseudo-group for tasks without a parallel
// marker; the caller must run its members one at a time.
const SequentialGroupID = "_sequential"
