package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

const groupColumns = `id, session_id, name, phase, task_ids, created_at, updated_at,
	status, results, errors, context_refreshed`

// SaveGroup upserts a group record. The coordinator calls this after every
// phase transition so a crash never requires replaying earlier phases.
func (db *DB) SaveGroup(g *models.GroupMetadata) error {
	taskIDs, _ := json.Marshal(g.TaskIDs)
	results, _ := json.Marshal(g.Results)
	errs, _ := json.Marshal(g.Errors)

	_, err := db.Exec(`
		INSERT INTO task_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, id) DO UPDATE SET
			name = excluded.name,
			phase = excluded.phase,
			task_ids = excluded.task_ids,
			updated_at = excluded.updated_at,
			status = excluded.status,
			results = excluded.results,
			errors = excluded.errors,
			context_refreshed = excluded.context_refreshed
	`, g.ID, g.SessionID, g.Name, string(g.Phase), string(taskIDs), formatTime(g.CreatedAt),
		formatTime(g.UpdatedAt), string(g.Status), string(results), string(errs),
		boolToInt(g.ContextRefreshed))
	if err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}

// GetGroup retrieves one group within a session. Returns nil when no row
// exists.
func (db *DB) GetGroup(sessionID, id string) (*models.GroupMetadata, error) {
	row := db.QueryRow(`
		SELECT `+groupColumns+` FROM task_groups WHERE session_id = ? AND id = ?
	`, sessionID, id)
	g, err := scanGroup(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// ListGroups returns a session's groups, newest-first, optionally filtered
// by status.
func (db *DB) ListGroups(sessionID string, status *models.GroupStatus) ([]models.GroupMetadata, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT `+groupColumns+` FROM task_groups
			WHERE session_id = ? AND status = ? ORDER BY created_at DESC
		`, sessionID, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT `+groupColumns+` FROM task_groups
			WHERE session_id = ? ORDER BY created_at DESC
		`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.GroupMetadata
	for rows.Next() {
		g, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// scanGroup scans one group row via the given Scan function.
func scanGroup(scan func(dest ...any) error) (*models.GroupMetadata, error) {
	var g models.GroupMetadata
	var createdAt, updatedAt string
	var name, taskIDs, results, errs sql.NullString
	var refreshed int

	err := scan(&g.ID, &g.SessionID, &name, &g.Phase, &taskIDs, &createdAt, &updatedAt,
		&g.Status, &results, &errs, &refreshed)
	if err != nil {
		return nil, err
	}

	g.Name = name.String
	g.ContextRefreshed = refreshed != 0
	g.CreatedAt, _ = parseTime(createdAt)
	g.UpdatedAt, _ = parseTime(updatedAt)
	if taskIDs.Valid {
		json.Unmarshal([]byte(taskIDs.String), &g.TaskIDs)
	}
	if results.Valid {
		json.Unmarshal([]byte(results.String), &g.Results)
	}
	if errs.Valid {
		json.Unmarshal([]byte(errs.String), &g.Errors)
	}
	return &g, nil
}
