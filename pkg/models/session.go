// Package models defines the shared data types for Helmsman sessions,
// checkpoints, task groups, and the recovery engine.
package models

import "time"

// SessionState represents the lifecycle state of an orchestration session.
type SessionState string

const (
	// SessionInitializing is the state of a freshly created session.
	SessionInitializing SessionState = "initializing"
	// SessionPlanning indicates the session is producing a plan.
	SessionPlanning SessionState = "planning"
	// SessionGeneratingTasks indicates the plan is being turned into tasks.
	SessionGeneratingTasks SessionState = "generating_tasks"
	// SessionImplementing indicates tasks are being executed.
	SessionImplementing SessionState = "implementing"
	// SessionValidating indicates implemented work is being verified.
	SessionValidating SessionState = "validating"
	// SessionGeneratingReport indicates the final report is being produced.
	SessionGeneratingReport SessionState = "generating_report"
	// SessionCompleted is a terminal state: the session finished successfully.
	SessionCompleted SessionState = "completed"
	// SessionFailed is a terminal state: no automated recovery option remained.
	SessionFailed SessionState = "failed"
	// SessionPaused indicates the session is suspended awaiting a human.
	SessionPaused SessionState = "paused"
)

// Valid returns true if the state is a known value.
func (s SessionState) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal returns true for states that permit no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// allowedTransitions is the full transition table for the session state
// machine. Every non-terminal state may pause or fail; validating may loop
// back to implementing for fix-and-retry.
var allowedTransitions = map[SessionState][]SessionState{
	SessionInitializing:     {SessionPlanning, SessionPaused, SessionFailed},
	SessionPlanning:         {SessionGeneratingTasks, SessionPaused, SessionFailed},
	SessionGeneratingTasks:  {SessionImplementing, SessionPaused, SessionFailed},
	SessionImplementing:     {SessionValidating, SessionPaused, SessionFailed},
	SessionValidating:       {SessionGeneratingReport, SessionImplementing, SessionPaused, SessionFailed},
	SessionGeneratingReport: {SessionCompleted, SessionPaused, SessionFailed},
	SessionPaused: {
		SessionPlanning, SessionGeneratingTasks, SessionImplementing,
		SessionValidating, SessionGeneratingReport, SessionFailed,
	},
	SessionCompleted: {},
	SessionFailed:    {},
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to SessionState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedNext returns a copy of the allowed successor states for a state.
func AllowedNext(from SessionState) []SessionState {
	next := allowedTransitions[from]
	out := make([]SessionState, len(next))
	copy(out, next)
	return out
}

// RepoContext is a snapshot of the repository taken when a session is created.
type RepoContext struct {
	// Branch is the checked-out branch at session start.
	Branch string `json:"branch"`
	// Revision is the HEAD commit at session start.
	Revision string `json:"revision"`
	// Dirty records whether the working tree had uncommitted changes.
	Dirty bool `json:"dirty"`
}

// SessionStats accumulates counters over the life of a session.
type SessionStats struct {
	TasksAttempted      int `json:"tasks_attempted"`
	TasksCompleted      int `json:"tasks_completed"`
	TasksFailed         int `json:"tasks_failed"`
	DecisionsMade       int `json:"decisions_made"`
	CheckpointsCreated  int `json:"checkpoints_created"`
	RecoveriesPerformed int `json:"recoveries_performed"`
}

// SessionConfig holds the per-session knobs the driver honors.
type SessionConfig struct {
	// MaxIterations bounds the validate→implement fix loop.
	MaxIterations int `json:"max_iterations"`
	// Timeout bounds the whole session.
	Timeout time.Duration `json:"timeout"`
	// AutoCheckpoint enables checkpoints at phase boundaries.
	AutoCheckpoint bool `json:"auto_checkpoint"`
	// RecoveryEnabled routes failures through the recovery engine.
	RecoveryEnabled bool `json:"recovery_enabled"`
}

// Session represents one orchestration run.
type Session struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// Goal is the free-text description of what the session should achieve.
	Goal string `json:"goal"`
	// State is the current lifecycle state.
	State SessionState `json:"state"`
	// Phase labels the work currently in progress (mirrors State while
	// active; retained on checkpoints and groups created during it).
	Phase string `json:"phase"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is bumped on every transition.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is set when the session reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Repo is the repository context captured at creation.
	Repo RepoContext `json:"repo"`
	// Stats are cumulative session counters.
	Stats SessionStats `json:"stats"`
	// Config holds the per-session settings.
	Config SessionConfig `json:"config"`
}
