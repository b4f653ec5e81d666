package models

import "time"

// CheckpointReason tags why a checkpoint was created.
type CheckpointReason string

const (
	CheckpointPhaseComplete     CheckpointReason = "phase_complete"
	CheckpointTaskGroupComplete CheckpointReason = "task_group_complete"
	CheckpointSafeState         CheckpointReason = "safe_state"
	CheckpointPreRiskyOperation CheckpointReason = "pre_risky_operation"
	CheckpointErrorRecovery     CheckpointReason = "error_recovery"
	CheckpointManual            CheckpointReason = "manual"
)

// Valid returns true if the reason is a known value.
func (r CheckpointReason) Valid() bool {
	switch r {
	case CheckpointPhaseComplete, CheckpointTaskGroupComplete, CheckpointSafeState,
		CheckpointPreRiskyOperation, CheckpointErrorRecovery, CheckpointManual:
		return true
	default:
		return false
	}
}

// StateSnapshot captures session progress counts at checkpoint time so a
// rollback can report what state it restored to.
type StateSnapshot struct {
	TasksCompleted int `json:"tasks_completed"`
	DecisionsMade  int `json:"decisions_made"`
	FilesTouched   int `json:"files_touched"`
	TestsPassing   int `json:"tests_passing"`
	TestsFailing   int `json:"tests_failing"`
}

// Checkpoint is an immutable recovery point bound to a git revision.
// After creation only RollbackCount and UsedForRollback may change.
type Checkpoint struct {
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`
	// SessionID is the owning session.
	SessionID string `json:"session_id"`
	// Revision is the commit the checkpoint tag points at.
	Revision string `json:"revision"`
	// TagName is the git tag bound to Revision.
	TagName string `json:"tag_name"`
	// CreatedAt is when the checkpoint was created.
	CreatedAt time.Time `json:"created_at"`
	// Description is a human-readable label.
	Description string `json:"description"`
	// Phase is the session phase during which the checkpoint was taken.
	Phase string `json:"phase"`
	// Reason tags why the checkpoint exists.
	Reason CheckpointReason `json:"reason"`
	// Snapshot optionally records progress counts at creation time.
	Snapshot *StateSnapshot `json:"snapshot,omitempty"`
	// Labels are free-form tags attached at creation.
	Labels []string `json:"labels,omitempty"`
	// RollbackCount is how many successful rollbacks targeted this checkpoint.
	RollbackCount int `json:"rollback_count"`
	// UsedForRollback is set once any rollback targeted this checkpoint.
	UsedForRollback bool `json:"used_for_rollback"`
}

// ValidationResult reports a working-tree inspection.
type ValidationResult struct {
	// IsValid is false when Errors is non-empty.
	IsValid bool `json:"is_valid"`
	// Errors are hard problems that block the gated operation.
	Errors []string `json:"errors,omitempty"`
	// Warnings are recorded but never block.
	Warnings []string `json:"warnings,omitempty"`
	// RawStatus is the porcelain git status output.
	RawStatus string `json:"raw_status,omitempty"`
	// HasUncommittedChanges reports working-tree dirtiness.
	HasUncommittedChanges bool `json:"has_uncommitted_changes"`
	// TestsPassing is a best-effort test run outcome; true when the check
	// was skipped or the suite passed.
	TestsPassing bool `json:"tests_passing"`
}

// RollbackMode selects how the working tree is reset during rollback.
type RollbackMode string

const (
	// RollbackDestructive discards all local changes (hard reset).
	RollbackDestructive RollbackMode = "destructive"
	// RollbackPreserve keeps file contents but unstages them (mixed reset).
	RollbackPreserve RollbackMode = "preserve"
)

// RollbackOperation is the immutable audit record of one rollback attempt.
// One is appended to the session history on every attempt, success or not.
type RollbackOperation struct {
	// ID is the unique identifier for this operation.
	ID string `json:"id"`
	// SessionID is the owning session.
	SessionID string `json:"session_id"`
	// CheckpointID identifies the rollback target.
	CheckpointID string `json:"checkpoint_id"`
	// CheckpointDescription copies the target's description for the audit
	// trail (the checkpoint itself may later be deleted).
	CheckpointDescription string `json:"checkpoint_description"`
	// TargetRevision is the revision the rollback aimed for.
	TargetRevision string `json:"target_revision"`
	// Mode records destructive vs preserve.
	Mode RollbackMode `json:"mode"`
	// RevisionBefore is HEAD before the reset.
	RevisionBefore string `json:"revision_before"`
	// RevisionAfter is HEAD after the reset (empty if the reset failed).
	RevisionAfter string `json:"revision_after,omitempty"`
	// Validation is the post-rollback validation outcome.
	Validation ValidationResult `json:"validation"`
	// RestoredSnapshot is the checkpoint's snapshot, echoed on success.
	RestoredSnapshot *StateSnapshot `json:"restored_snapshot,omitempty"`
	// Success is the overall outcome.
	Success bool `json:"success"`
	// ErrorMessage explains a failure; empty on success.
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt is when the attempt was made.
	CreatedAt time.Time `json:"created_at"`
}
