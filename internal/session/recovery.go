package session

import (
	"fmt"
	"time"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

// InterruptedSession describes a session that was left in a non-terminal
// state by a previous process, along with the work that was in flight.
type InterruptedSession struct {
	Session       models.Session
	InFlight      []models.GroupMetadata
	LastRollback  *models.RollbackOperation
	IdleFor       time.Duration
}

// CheckForInterrupted scans the store for sessions left in a non-terminal
// state. The caller decides per session whether to Resume or Clean.
func (m *Manager) CheckForInterrupted() ([]InterruptedSession, error) {
	active, err := m.store.ListActiveSessions()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	now := time.Now()
	var found []InterruptedSession
	for _, s := range active {
		is := InterruptedSession{Session: s, IdleFor: now.Sub(s.UpdatedAt)}

		inProgress := models.GroupStatusInProgress
		groups, err := m.store.ListGroups(s.ID, &inProgress)
		if err != nil {
			return nil, fmt.Errorf("list groups for %s: %w", s.ID, err)
		}
		is.InFlight = groups

		rollbacks, err := m.store.ListRollbacks(s.ID)
		if err != nil {
			return nil, fmt.Errorf("list rollbacks for %s: %w", s.ID, err)
		}
		if len(rollbacks) > 0 {
			is.LastRollback = &rollbacks[0]
		}

		found = append(found, is)
	}
	return found, nil
}

// Resume prepares an interrupted session for continued execution. In-flight
// groups are reset to pending so the coordinator re-runs them from their
// persisted phase; a paused session is moved back to its recorded phase.
func (m *Manager) Resume(sessionID string) (*models.Session, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.State.Terminal() {
		return nil, &models.ValidationError{Op: "resume", Reason: fmt.Sprintf("session %s is %s", sessionID, s.State)}
	}

	inProgress := models.GroupStatusInProgress
	groups, err := m.store.ListGroups(sessionID, &inProgress)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	for i := range groups {
		g := &groups[i]
		g.Status = models.GroupStatusPending
		if err := m.store.SaveGroup(g); err != nil {
			return nil, fmt.Errorf("reset group %s: %w", g.ID, err)
		}
	}

	if s.State == models.SessionPaused {
		target := models.SessionState(s.Phase)
		if !target.Valid() || !models.CanTransition(models.SessionPaused, target) {
			target = models.SessionPlanning
		}
		return m.Transition(sessionID, target)
	}

	s.UpdatedAt = time.Now()
	if err := m.store.UpdateSession(s); err != nil {
		return nil, fmt.Errorf("persist resume: %w", err)
	}
	return s, nil
}

// Clean abandons an interrupted session. In-flight groups are marked failed
// and the session is moved to the failed state.
func (m *Manager) Clean(sessionID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if s.State.Terminal() {
		return nil
	}

	inProgress := models.GroupStatusInProgress
	groups, err := m.store.ListGroups(sessionID, &inProgress)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	for i := range groups {
		g := &groups[i]
		g.Status = models.GroupStatusFailed
		g.Errors = append(g.Errors, "abandoned by session clean")
		if err := m.store.SaveGroup(g); err != nil {
			return fmt.Errorf("fail group %s: %w", g.ID, err)
		}
	}

	if _, err := m.Transition(sessionID, models.SessionFailed); err != nil {
		return err
	}
	return nil
}
