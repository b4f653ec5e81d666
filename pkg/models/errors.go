package models

import "fmt"

// NotFoundError indicates an unknown session, checkpoint, or group id.
// It signals caller error and is raised synchronously.
type NotFoundError struct {
	// Kind names the record type, e.g. "session" or "checkpoint".
	Kind string
	// ID is the identifier that was not found.
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidTransitionError indicates an illegal session state-machine move.
// The session state is left unchanged when this is returned.
type InvalidTransitionError struct {
	SessionID string
	From      SessionState
	To        SessionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid transition %s -> %s", e.SessionID, e.From, e.To)
}

// ValidationError indicates a failed precondition, such as a dirty working
// tree before checkpoint creation or rollback.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}
