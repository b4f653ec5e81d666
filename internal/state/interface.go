package state

import (
	"time"

	"github.com/helmsman-dev/helmsman/pkg/models"
)

// Store is the persistence interface consumed by the session manager,
// checkpoint manager, recovery engine, and coordinator. *DB implements it;
// tests substitute fakes.
type Store interface {
	// Session records.
	CreateSession(s *models.Session) error
	GetSession(id string) (*models.Session, error)
	UpdateSession(s *models.Session) error
	QuerySessions(f SessionFilter) ([]models.Session, error)
	ListActiveSessions() ([]models.Session, error)

	// Checkpoint records and rollback history.
	CreateCheckpoint(cp *models.Checkpoint) error
	GetCheckpoint(sessionID, id string) (*models.Checkpoint, error)
	ListCheckpoints(sessionID string) ([]models.Checkpoint, error)
	MarkCheckpointUsed(sessionID, id string) error
	DeleteCheckpoint(sessionID, id string) error
	AppendRollback(op *models.RollbackOperation) error
	ListRollbacks(sessionID string) ([]models.RollbackOperation, error)

	// Parallel group records.
	SaveGroup(g *models.GroupMetadata) error
	GetGroup(sessionID, id string) (*models.GroupMetadata, error)
	ListGroups(sessionID string, status *models.GroupStatus) ([]models.GroupMetadata, error)

	// Error log.
	AppendError(sessionID string, rec *models.ErrorRecord) error
	ListErrors(sessionID string, limit int) ([]models.ErrorRecord, error)

	// Maintenance.
	PurgeOldSessions(olderThan time.Duration) (int64, error)
}

// Verify DB implements Store at compile time.
var _ Store = (*DB)(nil)
