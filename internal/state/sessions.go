package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

// SessionFilter narrows QuerySessions results. Zero values mean "any".
type SessionFilter struct {
	// State filters by lifecycle state.
	State models.SessionState
	// Phase filters by current phase label.
	Phase string
	// Since/Until bound the creation time range.
	Since time.Time
	Until time.Time
	// Branch filters by the captured repository branch.
	Branch string
	// Limit caps the number of returned sessions (0 = no cap).
	Limit int
}

const sessionColumns = `id, goal, state, phase, created_at, updated_at, completed_at,
	repo_branch, repo_revision, repo_dirty, stats, config`

// CreateSession persists a new session record.
func (db *DB) CreateSession(s *models.Session) error {
	stats, _ := json.Marshal(s.Stats)
	cfg, _ := json.Marshal(s.Config)

	var completedAt *string
	if s.CompletedAt != nil {
		v := formatTime(*s.CompletedAt)
		completedAt = &v
	}

	_, err := db.Exec(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Goal, string(s.State), s.Phase, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
		completedAt, s.Repo.Branch, s.Repo.Revision, boolToInt(s.Repo.Dirty), string(stats), string(cfg))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns nil when no row exists.
func (db *DB) GetSession(id string) (*models.Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// UpdateSession rewrites a session's mutable fields atomically. The whole
// record is written inside one transaction so a partially-updated session
// is never observable.
func (db *DB) UpdateSession(s *models.Session) error {
	stats, _ := json.Marshal(s.Stats)
	cfg, _ := json.Marshal(s.Config)

	var completedAt *string
	if s.CompletedAt != nil {
		v := formatTime(*s.CompletedAt)
		completedAt = &v
	}

	return db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE sessions SET goal = ?, state = ?, phase = ?, updated_at = ?,
				completed_at = ?, stats = ?, config = ?
			WHERE id = ?
		`, s.Goal, string(s.State), s.Phase, formatTime(s.UpdatedAt),
			completedAt, string(stats), string(cfg), s.ID)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return &models.NotFoundError{Kind: "session", ID: s.ID}
		}
		return nil
	})
}

// DeleteSession removes a session record. Administrative purge only.
func (db *DB) DeleteSession(id string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// QuerySessions returns sessions matching the filter, newest-first.
func (db *DB) QuerySessions(f SessionFilter) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any

	if f.State != "" {
		query += " AND state = ?"
		args = append(args, string(f.State))
	}
	if f.Phase != "" {
		query += " AND phase = ?"
		args = append(args, f.Phase)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, formatTime(f.Until))
	}
	if f.Branch != "" {
		query += " AND repo_branch = ?"
		args = append(args, f.Branch)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ListActiveSessions returns sessions in any non-terminal state, newest-first.
func (db *DB) ListActiveSessions() ([]models.Session, error) {
	all, err := db.QuerySessions(SessionFilter{})
	if err != nil {
		return nil, err
	}
	var active []models.Session
	for _, s := range all {
		if !s.State.Terminal() {
			active = append(active, s)
		}
	}
	return active, nil
}

// scanSession scans one session row via the given Scan function.
func scanSession(scan func(dest ...any) error) (*models.Session, error) {
	var s models.Session
	var createdAt, updatedAt string
	var completedAt sql.NullString
	var phase, branch, revision, stats, cfg sql.NullString
	var dirty int

	err := scan(&s.ID, &s.Goal, &s.State, &phase, &createdAt, &updatedAt, &completedAt,
		&branch, &revision, &dirty, &stats, &cfg)
	if err != nil {
		return nil, err
	}

	s.Phase = phase.String
	s.Repo.Branch = branch.String
	s.Repo.Revision = revision.String
	s.Repo.Dirty = dirty != 0
	s.CreatedAt, _ = parseTime(createdAt)
	s.UpdatedAt, _ = parseTime(updatedAt)
	s.CompletedAt = parseNullableTime(completedAt)
	if stats.Valid {
		json.Unmarshal([]byte(stats.String), &s.Stats)
	}
	if cfg.Valid {
		json.Unmarshal([]byte(cfg.String), &s.Config)
	}
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
