// Package session implements the session lifecycle state machine on top of
// the persisted state store. All session mutation goes through Transition;
// the allowed-transition table lives in pkg/models.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-dev/helmsman/internal/git"
	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

// Manager creates sessions, validates transitions, and persists every
// mutation.
type Manager struct {
	store state.Store
	repo  git.StatusOperations
}

// NewManager creates a session manager. repo may be nil, in which case the
// repository context snapshot is left empty.
func NewManager(store state.Store, repo git.StatusOperations) *Manager {
	return &Manager{store: store, repo: repo}
}

// Create allocates a new session in the initializing state, captures the
// repository context, and persists it.
func (m *Manager) Create(goal string, cfg models.SessionConfig) (*models.Session, error) {
	now := time.Now()
	s := &models.Session{
		ID:        "sess-" + uuid.New().String()[:8],
		Goal:      goal,
		State:     models.SessionInitializing,
		Phase:     string(models.SessionInitializing),
		CreatedAt: now,
		UpdatedAt: now,
		Config:    cfg,
	}

	if m.repo != nil {
		if branch, err := m.repo.CurrentBranch(); err == nil {
			s.Repo.Branch = branch
		}
		if rev, err := m.repo.CurrentRevision(); err == nil {
			s.Repo.Revision = rev
		}
		if dirty, err := m.repo.HasChanges(); err == nil {
			s.Repo.Dirty = dirty
		}
	}

	if err := m.store.CreateSession(s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return s, nil
}

// Get retrieves a session, raising NotFoundError for unknown ids.
func (m *Manager) Get(sessionID string) (*models.Session, error) {
	s, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &models.NotFoundError{Kind: "session", ID: sessionID}
	}
	return s, nil
}

// Transition moves a session to a new state. It fails with
// InvalidTransitionError when the move is not in the allowed-transition
// table, leaving the stored state unchanged. On success the transition is
// persisted atomically; terminal states also set CompletedAt.
func (m *Manager) Transition(sessionID string, newState models.SessionState) (*models.Session, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(s.State, newState) {
		return nil, &models.InvalidTransitionError{SessionID: sessionID, From: s.State, To: newState}
	}

	s.State = newState
	s.UpdatedAt = time.Now()
	if newState.Terminal() {
		completed := s.UpdatedAt
		s.CompletedAt = &completed
	} else if newState != models.SessionPaused {
		// Paused keeps the phase it interrupted so resume knows where
		// the session stood.
		s.Phase = string(newState)
	}

	if err := m.store.UpdateSession(s); err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	return s, nil
}

// RecordStats merges updated counters into the session record.
func (m *Manager) RecordStats(sessionID string, update func(*models.SessionStats)) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	update(&s.Stats)
	s.UpdatedAt = time.Now()
	if err := m.store.UpdateSession(s); err != nil {
		return fmt.Errorf("persist stats: %w", err)
	}
	return nil
}

// Query returns sessions matching the filter, newest-first.
func (m *Manager) Query(f state.SessionFilter) ([]models.Session, error) {
	return m.store.QuerySessions(f)
}
