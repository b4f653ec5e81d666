package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

// AppendError appends one detected error to the session's error log.
// The log is append-only.
func (db *DB) AppendError(sessionID string, rec *models.ErrorRecord) error {
	ctx, _ := json.Marshal(rec.Context)

	var exitCode any
	if rec.ExitCode != nil {
		exitCode = *rec.ExitCode
	}

	_, err := db.Exec(`
		INSERT INTO error_log (session_id, message, pattern, category, kind, source,
			exit_code, context, suggestion, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, rec.Message, rec.Pattern, string(rec.Category), string(rec.Kind),
		rec.Source, exitCode, string(ctx), rec.Suggestion, formatTime(rec.DetectedAt))
	if err != nil {
		return fmt.Errorf("append error: %w", err)
	}
	return nil
}

// ListErrors returns a session's error log, newest-first, capped at limit
// (0 = all).
func (db *DB) ListErrors(sessionID string, limit int) ([]models.ErrorRecord, error) {
	query := `
		SELECT message, pattern, category, kind, source, exit_code, context,
			suggestion, detected_at
		FROM error_log WHERE session_id = ? ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	var records []models.ErrorRecord
	for rows.Next() {
		var rec models.ErrorRecord
		var detectedAt string
		var pattern, source, ctx, suggestion sql.NullString
		var exitCode sql.NullInt64

		err := rows.Scan(&rec.Message, &pattern, &rec.Category, &rec.Kind, &source,
			&exitCode, &ctx, &suggestion, &detectedAt)
		if err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}

		rec.Pattern = pattern.String
		rec.Source = source.String
		rec.Suggestion = suggestion.String
		rec.DetectedAt, _ = parseTime(detectedAt)
		if exitCode.Valid {
			v := int(exitCode.Int64)
			rec.ExitCode = &v
		}
		if ctx.Valid {
			json.Unmarshal([]byte(ctx.String), &rec.Context)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
