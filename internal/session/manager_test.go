package session

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewManager(db, nil)
}

// fakeRepo implements git.StatusOperations for context capture tests.
type fakeRepo struct {
	branch   string
	revision string
	dirty    bool
}

func (f *fakeRepo) Status() (string, error) {
	if f.dirty {
		return " M main.go", nil
	}
	return "", nil
}
func (f *fakeRepo) HasChanges() (bool, error)      { return f.dirty, nil }
func (f *fakeRepo) CurrentBranch() (string, error) { return f.branch, nil }
func (f *fakeRepo) CurrentRevision() (string, error) {
	return f.revision, nil
}

func TestCreateCapturesRepoContext(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	m := NewManager(db, &fakeRepo{branch: "main", revision: "abc123", dirty: true})
	s, err := m.Create("add rate limiting", models.SessionConfig{MaxIterations: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if s.State != models.SessionInitializing {
		t.Errorf("state = %s, want initializing", s.State)
	}
	if s.Repo.Branch != "main" || s.Repo.Revision != "abc123" || !s.Repo.Dirty {
		t.Errorf("repo context not captured: %+v", s.Repo)
	}

	loaded, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Goal != "add rate limiting" {
		t.Errorf("goal = %q", loaded.Goal)
	}
	if loaded.Config.MaxIterations != 5 {
		t.Errorf("config not persisted: %+v", loaded.Config)
	}
}

func TestTransitionHappyPath(t *testing.T) {
	m := setupManager(t)
	s, err := m.Create("goal", models.SessionConfig{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	path := []models.SessionState{
		models.SessionPlanning,
		models.SessionGeneratingTasks,
		models.SessionImplementing,
		models.SessionValidating,
		models.SessionGeneratingReport,
		models.SessionCompleted,
	}
	for _, next := range path {
		if _, err := m.Transition(s.ID, next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	final, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.State != models.SessionCompleted {
		t.Errorf("state = %s, want completed", final.State)
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt not set on terminal transition")
	}
}

func TestTransitionValidationLoop(t *testing.T) {
	m := setupManager(t)
	s, _ := m.Create("goal", models.SessionConfig{})

	for _, next := range []models.SessionState{
		models.SessionPlanning, models.SessionGeneratingTasks,
		models.SessionImplementing, models.SessionValidating,
	} {
		if _, err := m.Transition(s.ID, next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	// Validation failures loop back to implementing.
	if _, err := m.Transition(s.ID, models.SessionImplementing); err != nil {
		t.Fatalf("validating -> implementing: %v", err)
	}
	if _, err := m.Transition(s.ID, models.SessionValidating); err != nil {
		t.Fatalf("implementing -> validating again: %v", err)
	}
}

func TestTransitionInvalid(t *testing.T) {
	m := setupManager(t)
	s, _ := m.Create("goal", models.SessionConfig{})

	_, err := m.Transition(s.ID, models.SessionCompleted)
	var invalid *models.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if invalid.From != models.SessionInitializing || invalid.To != models.SessionCompleted {
		t.Errorf("error fields: %+v", invalid)
	}

	// State must be unchanged after a rejected transition.
	loaded, _ := m.Get(s.ID)
	if loaded.State != models.SessionInitializing {
		t.Errorf("state changed to %s after rejected transition", loaded.State)
	}
}

func TestTransitionUnknownSession(t *testing.T) {
	m := setupManager(t)
	_, err := m.Transition("sess-missing", models.SessionPlanning)
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestPauseKeepsPhase(t *testing.T) {
	m := setupManager(t)
	s, _ := m.Create("goal", models.SessionConfig{})

	for _, next := range []models.SessionState{
		models.SessionPlanning, models.SessionGeneratingTasks, models.SessionImplementing,
	} {
		if _, err := m.Transition(s.ID, next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	paused, err := m.Transition(s.ID, models.SessionPaused)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Phase != string(models.SessionImplementing) {
		t.Errorf("phase = %q, want implementing preserved across pause", paused.Phase)
	}

	resumed, err := m.Resume(s.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.State != models.SessionImplementing {
		t.Errorf("resumed state = %s, want implementing", resumed.State)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m := setupManager(t)
	s, _ := m.Create("goal", models.SessionConfig{})

	if _, err := m.Transition(s.ID, models.SessionFailed); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := m.Transition(s.ID, models.SessionPlanning); err == nil {
		t.Error("transition out of failed succeeded, want error")
	}
	if _, err := m.Resume(s.ID); err == nil {
		t.Error("resume of failed session succeeded, want error")
	}
}

func TestRecordStats(t *testing.T) {
	m := setupManager(t)
	s, _ := m.Create("goal", models.SessionConfig{})

	err := m.RecordStats(s.ID, func(st *models.SessionStats) {
		st.TasksCompleted = 3
		st.CheckpointsCreated = 1
	})
	if err != nil {
		t.Fatalf("record stats: %v", err)
	}

	loaded, _ := m.Get(s.ID)
	if loaded.Stats.TasksCompleted != 3 || loaded.Stats.CheckpointsCreated != 1 {
		t.Errorf("stats = %+v", loaded.Stats)
	}
}

func TestCheckForInterrupted(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	m := NewManager(db, nil)

	active, _ := m.Create("interrupted work", models.SessionConfig{})
	if _, err := m.Transition(active.ID, models.SessionPlanning); err != nil {
		t.Fatalf("transition: %v", err)
	}

	done, _ := m.Create("finished work", models.SessionConfig{})
	if _, err := m.Transition(done.ID, models.SessionFailed); err != nil {
		t.Fatalf("transition: %v", err)
	}

	g := &models.GroupMetadata{
		ID:        "grp-1",
		SessionID: active.ID,
		Phase:     models.GroupPhaseConcurrent,
		Status:    models.GroupStatusInProgress,
	}
	if err := db.SaveGroup(g); err != nil {
		t.Fatalf("save group: %v", err)
	}

	found, err := m.CheckForInterrupted()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d interrupted sessions, want 1", len(found))
	}
	if found[0].Session.ID != active.ID {
		t.Errorf("found %s, want %s", found[0].Session.ID, active.ID)
	}
	if len(found[0].InFlight) != 1 || found[0].InFlight[0].ID != "grp-1" {
		t.Errorf("in-flight groups = %+v", found[0].InFlight)
	}
}

func TestCleanFailsSessionAndGroups(t *testing.T) {
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	m := NewManager(db, nil)

	s, _ := m.Create("abandoned", models.SessionConfig{})
	g := &models.GroupMetadata{
		ID:        "grp-1",
		SessionID: s.ID,
		Phase:     models.GroupPhaseConcurrent,
		Status:    models.GroupStatusInProgress,
	}
	if err := db.SaveGroup(g); err != nil {
		t.Fatalf("save group: %v", err)
	}

	if err := m.Clean(s.ID); err != nil {
		t.Fatalf("clean: %v", err)
	}

	loaded, _ := m.Get(s.ID)
	if loaded.State != models.SessionFailed {
		t.Errorf("state = %s, want failed", loaded.State)
	}
	cleaned, err := db.GetGroup(s.ID, "grp-1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if cleaned.Status != models.GroupStatusFailed {
		t.Errorf("group status = %s, want failed", cleaned.Status)
	}
	if len(cleaned.Errors) == 0 {
		t.Error("group has no error entry after clean")
	}
}
