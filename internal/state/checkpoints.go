package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

const checkpointColumns = `id, session_id, revision, tag_name, created_at, description,
	phase, reason, snapshot, labels, rollback_count, used_for_rollback`

// CreateCheckpoint persists a new checkpoint record.
func (db *DB) CreateCheckpoint(cp *models.Checkpoint) error {
	snapshot := marshalOrNull(cp.Snapshot)
	labels, _ := json.Marshal(cp.Labels)

	_, err := db.Exec(`
		INSERT INTO checkpoints (`+checkpointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.SessionID, cp.Revision, cp.TagName, formatTime(cp.CreatedAt), cp.Description,
		cp.Phase, string(cp.Reason), snapshot, string(labels), cp.RollbackCount, boolToInt(cp.UsedForRollback))
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves one checkpoint within a session. Returns nil when
// no row exists.
func (db *DB) GetCheckpoint(sessionID, id string) (*models.Checkpoint, error) {
	row := db.QueryRow(`
		SELECT `+checkpointColumns+` FROM checkpoints WHERE session_id = ? AND id = ?
	`, sessionID, id)
	cp, err := scanCheckpoint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a session's checkpoints, newest-first.
func (db *DB) ListCheckpoints(sessionID string) ([]models.Checkpoint, error) {
	rows, err := db.Query(`
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE session_id = ? ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, *cp)
	}
	return cps, rows.Err()
}

// MarkCheckpointUsed increments a checkpoint's rollback bookkeeping.
// These are the only mutable fields of a checkpoint.
func (db *DB) MarkCheckpointUsed(sessionID, id string) error {
	res, err := db.Exec(`
		UPDATE checkpoints SET rollback_count = rollback_count + 1, used_for_rollback = 1
		WHERE session_id = ? AND id = ?
	`, sessionID, id)
	if err != nil {
		return fmt.Errorf("mark checkpoint used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &models.NotFoundError{Kind: "checkpoint", ID: id}
	}
	return nil
}

// DeleteCheckpoint removes a checkpoint's tracking record. Rollback history
// entries referencing it are retained for audit.
func (db *DB) DeleteCheckpoint(sessionID, id string) error {
	_, err := db.Exec("DELETE FROM checkpoints WHERE session_id = ? AND id = ?", sessionID, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// AppendRollback appends one rollback attempt to the session's history.
// The history is append-only; rows are never updated or deleted.
func (db *DB) AppendRollback(op *models.RollbackOperation) error {
	validation, _ := json.Marshal(op.Validation)
	restored := marshalOrNull(op.RestoredSnapshot)

	_, err := db.Exec(`
		INSERT INTO rollback_operations (id, session_id, checkpoint_id, checkpoint_description,
			target_revision, mode, revision_before, revision_after, validation,
			restored_snapshot, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.SessionID, op.CheckpointID, op.CheckpointDescription,
		op.TargetRevision, string(op.Mode), op.RevisionBefore, op.RevisionAfter, string(validation),
		restored, boolToInt(op.Success), op.ErrorMessage, formatTime(op.CreatedAt))
	if err != nil {
		return fmt.Errorf("append rollback: %w", err)
	}
	return nil
}

// ListRollbacks returns a session's full rollback audit trail, newest-first.
func (db *DB) ListRollbacks(sessionID string) ([]models.RollbackOperation, error) {
	rows, err := db.Query(`
		SELECT id, session_id, checkpoint_id, checkpoint_description, target_revision,
			mode, revision_before, revision_after, validation, restored_snapshot,
			success, error_message, created_at
		FROM rollback_operations WHERE session_id = ? ORDER BY created_at DESC, id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rollbacks: %w", err)
	}
	defer rows.Close()

	var ops []models.RollbackOperation
	for rows.Next() {
		var op models.RollbackOperation
		var createdAt string
		var revAfter, validation, restored, errMsg sql.NullString
		var success int

		err := rows.Scan(&op.ID, &op.SessionID, &op.CheckpointID, &op.CheckpointDescription,
			&op.TargetRevision, &op.Mode, &op.RevisionBefore, &revAfter, &validation,
			&restored, &success, &errMsg, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan rollback: %w", err)
		}

		op.RevisionAfter = revAfter.String
		op.ErrorMessage = errMsg.String
		op.Success = success != 0
		op.CreatedAt, _ = parseTime(createdAt)
		if validation.Valid {
			json.Unmarshal([]byte(validation.String), &op.Validation)
		}
		if restored.Valid && restored.String != "" {
			var snap models.StateSnapshot
			if json.Unmarshal([]byte(restored.String), &snap) == nil {
				op.RestoredSnapshot = &snap
			}
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// scanCheckpoint scans one checkpoint row via the given Scan function.
func scanCheckpoint(scan func(dest ...any) error) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	var createdAt string
	var description, phase, snapshot, labels sql.NullString
	var used int

	err := scan(&cp.ID, &cp.SessionID, &cp.Revision, &cp.TagName, &createdAt, &description,
		&phase, &cp.Reason, &snapshot, &labels, &cp.RollbackCount, &used)
	if err != nil {
		return nil, err
	}

	cp.Description = description.String
	cp.Phase = phase.String
	cp.UsedForRollback = used != 0
	cp.CreatedAt, _ = parseTime(createdAt)
	if snapshot.Valid && snapshot.String != "" {
		var snap models.StateSnapshot
		if json.Unmarshal([]byte(snapshot.String), &snap) == nil {
			cp.Snapshot = &snap
		}
	}
	if labels.Valid {
		json.Unmarshal([]byte(labels.String), &cp.Labels)
	}
	return &cp, nil
}

// marshalOrNull JSON-encodes a pointer, returning nil for SQL NULL when the
// pointer is nil.
func marshalOrNull(v any) any {
	switch s := v.(type) {
	case *models.StateSnapshot:
		if s == nil {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}
