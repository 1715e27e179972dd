package storage

import (
	"context"
	"errors"

	"github.com/agentloop/agentloop/core"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("storage: not found")

// RunStorage is the persistence contract for completed runs.
//
// Implementations must serialize conflicting writes themselves; the
// orchestrator treats storage as an external transactional boundary.
type RunStorage interface {
	// Upsert stores the run, replacing a previous record with the same run ID.
	Upsert(ctx context.Context, run *core.Run) error

	// Read returns the run with the given ID, or ErrNotFound.
	Read(ctx context.Context, runID string) (*core.Run, error)

	// SessionIDs returns the distinct session IDs with stored runs, most
	// recent first. An empty userID means all users.
	SessionIDs(ctx context.Context, userID string) ([]string, error)
}
