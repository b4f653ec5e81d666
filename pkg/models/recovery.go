package models

import (
	"fmt"
	"time"
)

// ErrorCategory is the coarse classification of a detected failure.
type ErrorCategory string

const (
	// ErrorTransient failures are expected to resolve on retry.
	ErrorTransient ErrorCategory = "transient"
	// ErrorPermanent failures require a code/config change or a rollback.
	ErrorPermanent ErrorCategory = "permanent"
	// ErrorAmbiguous failures have an unclear cause.
	ErrorAmbiguous ErrorCategory = "ambiguous"
)

// ErrorKind is the specific failure signature that was matched.
type ErrorKind string

const (
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindNetwork           ErrorKind = "network"
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindSyntax            ErrorKind = "syntax"
	ErrorKindImport            ErrorKind = "import"
	ErrorKindFileNotFound      ErrorKind = "file_not_found"
	ErrorKindPermission        ErrorKind = "permission"
	ErrorKindMissingDependency ErrorKind = "missing_dependency"
	ErrorKindLogic             ErrorKind = "logic"
	ErrorKindConfiguration     ErrorKind = "configuration"
	ErrorKindGeneric           ErrorKind = "generic"
)

// ErrorRecord is a classified failure produced by detection.
type ErrorRecord struct {
	// Message is the matched failure message.
	Message string `json:"message"`
	// Pattern is the signature that matched.
	Pattern string `json:"pattern,omitempty"`
	// Category is the coarse classification.
	Category ErrorCategory `json:"category"`
	// Kind is the specific failure signature.
	Kind ErrorKind `json:"kind"`
	// Source names where the failure came from (task id, phase, command).
	Source string `json:"source,omitempty"`
	// ExitCode is the process exit code, when one exists.
	ExitCode *int `json:"exit_code,omitempty"`
	// Context carries free-form detection context.
	Context map[string]string `json:"context,omitempty"`
	// Suggestion is a human-readable hint for resolution.
	Suggestion string `json:"suggestion,omitempty"`
	// DetectedAt is when detection ran.
	DetectedAt time.Time `json:"detected_at"`
}

// RecoveryStrategy names the action the engine chose for a failure.
type RecoveryStrategy string

const (
	StrategyRetryWithBackoff     RecoveryStrategy = "retry_with_backoff"
	StrategyAlternativeApproach  RecoveryStrategy = "alternative_approach"
	StrategyRollbackToCheckpoint RecoveryStrategy = "rollback_to_checkpoint"
	StrategyRequestHumanInput    RecoveryStrategy = "request_human_input"
	StrategySkipAndContinue      RecoveryStrategy = "skip_and_continue"
	StrategyEscalate             RecoveryStrategy = "escalate"
)

// NextActionKind enumerates the tokens a driver must act on after recovery.
type NextActionKind string

const (
	ActionRetry              NextActionKind = "retry"
	ActionTryAlternative     NextActionKind = "try_alternative"
	ActionRollback           NextActionKind = "rollback_to_checkpoint"
	ActionWaitForHuman       NextActionKind = "wait_for_human_input"
	ActionContinueToNextTask NextActionKind = "continue_to_next_task"
	ActionEscalateToHuman    NextActionKind = "escalate_to_human"
)

// NextAction is the closed variant the driver dispatches on. Only the
// rollback action carries a payload.
type NextAction struct {
	Kind NextActionKind `json:"kind"`
	// CheckpointID is set only for ActionRollback.
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// RollbackAction builds the parameterized rollback variant.
func RollbackAction(checkpointID string) NextAction {
	return NextAction{Kind: ActionRollback, CheckpointID: checkpointID}
}

// String renders the action as its wire token, e.g.
// "rollback_to_checkpoint:cp-42".
func (a NextAction) String() string {
	if a.Kind == ActionRollback && a.CheckpointID != "" {
		return fmt.Sprintf("%s:%s", a.Kind, a.CheckpointID)
	}
	return string(a.Kind)
}

// RecoveryResult is the outcome of executing a recovery strategy.
type RecoveryResult struct {
	// Strategy is the strategy that was executed.
	Strategy RecoveryStrategy `json:"strategy"`
	// Success reports whether the recovery action itself succeeded.
	Success bool `json:"success"`
	// Message is a human-readable outcome description.
	Message string `json:"message,omitempty"`
	// Next is the token the caller must act on.
	Next NextAction `json:"next"`
	// Delay is the backoff the caller should wait before retrying.
	Delay time.Duration `json:"delay,omitempty"`
	// Details carries structured outcome data (chosen checkpoint, attempt).
	Details map[string]string `json:"details,omitempty"`
	// CreatedAt is when the recovery was executed.
	CreatedAt time.Time `json:"created_at"`
}
