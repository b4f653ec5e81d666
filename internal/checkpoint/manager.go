// Package checkpoint creates and restores git-backed recovery points.
// A checkpoint is a lightweight tag plus a persisted record; rollback resets
// the working tree to a checkpoint's revision and appends an audit record
// whether or not it succeeds.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-dev/helmsman/internal/exec"
	"github.com/helmsman-dev/helmsman/internal/git"
	"github.com/helmsman-dev/helmsman/internal/state"
	"github.com/helmsman-dev/helmsman/pkg/models"
)

// Options configures optional manager behavior.
type Options struct {
	// TestCommand, when non-empty, runs during validation as a best-effort
	// test check. Requires Commands.
	TestCommand string
	// WorkDir is the directory test commands run in.
	WorkDir string
	// Commands runs the test command.
	Commands exec.CommandRunner
}

// Manager provides checkpoint creation, rollback, and history on top of a
// git repository and the state store. The working tree is a shared resource:
// a mutex serializes checkpoint and rollback operations per manager.
type Manager struct {
	store state.Store
	repo  git.Runner
	opts  Options
	mu    sync.Mutex
}

// NewManager creates a checkpoint manager.
func NewManager(store state.Store, repo git.Runner, opts Options) *Manager {
	return &Manager{store: store, repo: repo, opts: opts}
}

// ValidateState inspects the working tree and, when configured, runs the
// test command. Errors block gated operations; warnings are recorded only.
func (m *Manager) ValidateState(ctx context.Context) models.ValidationResult {
	result := models.ValidationResult{IsValid: true, TestsPassing: true}

	status, err := m.repo.Status()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("git status failed: %v", err))
		result.IsValid = false
		return result
	}
	result.RawStatus = status
	result.HasUncommittedChanges = len(status) > 0
	if result.HasUncommittedChanges {
		result.Warnings = append(result.Warnings, "working tree has uncommitted changes")
	}

	if m.opts.TestCommand != "" && m.opts.Commands != nil {
		res, err := m.opts.Commands.RunShell(ctx, m.opts.WorkDir, m.opts.TestCommand)
		if err != nil {
			result.TestsPassing = false
			result.Warnings = append(result.Warnings, fmt.Sprintf("test command failed to run: %v", err))
		} else if res.ExitCode != 0 {
			result.TestsPassing = false
			result.Warnings = append(result.Warnings, fmt.Sprintf("tests failing (exit %d)", res.ExitCode))
		}
	}

	return result
}

// Create makes a new checkpoint at the current revision. When commitFirst is
// true outstanding changes are committed before tagging; otherwise a dirty
// tree fails with ValidationError.
func (m *Manager) Create(ctx context.Context, sessionID, description, phase string,
	reason models.CheckpointReason, snapshot *models.StateSnapshot, commitFirst bool) (*models.Checkpoint, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	dirty, err := m.repo.HasChanges()
	if err != nil {
		return nil, fmt.Errorf("inspect working tree: %w", err)
	}
	if dirty {
		if !commitFirst {
			return nil, &models.ValidationError{
				Op:     "create_checkpoint",
				Reason: "working tree has uncommitted changes and commitFirst is false",
			}
		}
		if err := m.repo.AddAll(); err != nil {
			return nil, fmt.Errorf("stage changes: %w", err)
		}
		if err := m.repo.Commit(fmt.Sprintf("checkpoint: %s", description)); err != nil {
			return nil, fmt.Errorf("commit changes: %w", err)
		}
	}

	revision, err := m.repo.CurrentRevision()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	existing, err := m.store.ListCheckpoints(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	history, err := m.store.ListRollbacks(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rollback history: %w", err)
	}

	// Numbering is monotonic over everything persisted: live checkpoints and
	// the ids retained rollback history rows still reference. A deleted
	// checkpoint's id is never handed out again while anything cites it.
	n := 1
	bump := func(id string) {
		var seq int
		if _, err := fmt.Sscanf(id, "cp-%d", &seq); err == nil && seq >= n {
			n = seq + 1
		}
	}
	for i := range existing {
		bump(existing[i].ID)
	}
	for i := range history {
		bump(history[i].CheckpointID)
	}

	// Tags can outlive their record when deleted with deleteTag=false; probe
	// for a free tag name.
	var tagName string
	for {
		tagName = fmt.Sprintf("helmsman-checkpoint-%s-%d", sessionID, n)
		exists, err := m.repo.TagExists(tagName)
		if err != nil {
			return nil, fmt.Errorf("check tag: %w", err)
		}
		if !exists {
			break
		}
		n++
	}

	if err := m.repo.CreateTag(tagName, revision); err != nil {
		return nil, fmt.Errorf("create checkpoint tag: %w", err)
	}

	cp := &models.Checkpoint{
		ID:          fmt.Sprintf("cp-%d", n),
		SessionID:   sessionID,
		Revision:    revision,
		TagName:     tagName,
		CreatedAt:   time.Now(),
		Description: description,
		Phase:       phase,
		Reason:      reason,
		Snapshot:    snapshot,
	}
	if err := m.store.CreateCheckpoint(cp); err != nil {
		// Keep the tag namespace consistent with the store.
		m.repo.DeleteTag(tagName)
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}
	return cp, nil
}

// List returns a session's checkpoints, newest-first.
func (m *Manager) List(sessionID string) ([]models.Checkpoint, error) {
	return m.store.ListCheckpoints(sessionID)
}

// Get retrieves one checkpoint, raising NotFoundError for unknown ids.
func (m *Manager) Get(sessionID, id string) (*models.Checkpoint, error) {
	cp, err := m.store.GetCheckpoint(sessionID, id)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, &models.NotFoundError{Kind: "checkpoint", ID: id}
	}
	return cp, nil
}

// Rollback resets the working tree to a checkpoint's revision. A failed
// rollback is returned as an operation with Success=false, never swallowed.
// Every attempt appends exactly one RollbackOperation to the session
// history; only an unknown checkpoint id appends nothing.
func (m *Manager) Rollback(ctx context.Context, sessionID, checkpointID string, destructive bool) (*models.RollbackOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.Get(sessionID, checkpointID)
	if err != nil {
		return nil, err
	}

	mode := models.RollbackPreserve
	if destructive {
		mode = models.RollbackDestructive
	}
	op := &models.RollbackOperation{
		ID:                    "rb-" + uuid.New().String()[:8],
		SessionID:             sessionID,
		CheckpointID:          cp.ID,
		CheckpointDescription: cp.Description,
		TargetRevision:        cp.Revision,
		Mode:                  mode,
		CreatedAt:             time.Now(),
	}

	// Step 1: dirty-tree gate. A non-destructive rollback never discards
	// uncommitted work.
	dirty, err := m.repo.HasChanges()
	if err != nil {
		return m.finishRollback(op, fmt.Sprintf("inspect working tree: %v", err))
	}
	if dirty && !destructive {
		return m.finishRollback(op, "working tree has uncommitted changes; use destructive mode to discard them")
	}

	// Step 2: record the pre-rollback revision.
	before, err := m.repo.CurrentRevision()
	if err != nil {
		return m.finishRollback(op, fmt.Sprintf("resolve HEAD: %v", err))
	}
	op.RevisionBefore = before

	// Step 3: reset to the checkpoint revision.
	if destructive {
		err = m.repo.ResetHard(cp.Revision)
	} else {
		err = m.repo.ResetMixed(cp.Revision)
	}
	if err != nil {
		return m.finishRollback(op, fmt.Sprintf("git reset failed: %v", err))
	}

	// Step 4: record the post-rollback revision.
	after, err := m.repo.CurrentRevision()
	if err != nil {
		return m.finishRollback(op, fmt.Sprintf("resolve HEAD after reset: %v", err))
	}
	op.RevisionAfter = after

	// Step 5: post-rollback validation. Revision mismatch is a hard
	// failure; cleanliness and test status are warnings only.
	validation := m.ValidateState(ctx)
	if after != cp.Revision {
		validation.IsValid = false
		validation.Errors = append(validation.Errors,
			fmt.Sprintf("post-rollback revision %s does not match checkpoint revision %s", after, cp.Revision))
	}
	op.Validation = validation
	if !validation.IsValid {
		return m.finishRollback(op, validation.Errors[0])
	}

	// Step 6: restore the checkpoint's snapshot into the result.
	op.RestoredSnapshot = cp.Snapshot
	op.Success = true

	// Step 7: append to history.
	if err := m.store.AppendRollback(op); err != nil {
		return op, fmt.Errorf("append rollback history: %w", err)
	}

	// Step 8: update usage counters.
	if err := m.store.MarkCheckpointUsed(sessionID, cp.ID); err != nil {
		return op, fmt.Errorf("mark checkpoint used: %w", err)
	}
	return op, nil
}

// finishRollback records a failed attempt and appends it to history.
func (m *Manager) finishRollback(op *models.RollbackOperation, errMsg string) (*models.RollbackOperation, error) {
	op.Success = false
	op.ErrorMessage = errMsg
	if err := m.store.AppendRollback(op); err != nil {
		return op, fmt.Errorf("append rollback history: %w", err)
	}
	return op, nil
}

// History returns the session's rollback audit trail, newest-first.
func (m *Manager) History(sessionID string) ([]models.RollbackOperation, error) {
	return m.store.ListRollbacks(sessionID)
}

// Delete removes a checkpoint's tracking record and optionally its tag.
// The tagged revision itself is never deleted, and rollback history entries
// referencing the checkpoint are retained.
func (m *Manager) Delete(sessionID, id string, deleteTag bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.Get(sessionID, id)
	if err != nil {
		return err
	}

	if deleteTag {
		exists, err := m.repo.TagExists(cp.TagName)
		if err != nil {
			return fmt.Errorf("check tag: %w", err)
		}
		if exists {
			if err := m.repo.DeleteTag(cp.TagName); err != nil {
				return fmt.Errorf("delete tag: %w", err)
			}
		}
	}

	return m.store.DeleteCheckpoint(sessionID, id)
}
