package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryDb is a volatile Db implementation storing memory rows in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral demo agents. Rows are copied on the way in and out to prevent
// external mutation of internal state.
type InMemoryDb struct {
	mu   sync.RWMutex
	rows map[string]MemoryRow
}

// NewInMemoryDb constructs an empty in-memory memory store.
func NewInMemoryDb() *InMemoryDb {
	return &InMemoryDb{rows: make(map[string]MemoryRow)}
}

// ReadMemories returns the rows for userID ordered by creation time.
func (db *InMemoryDb) ReadMemories(_ context.Context, userID string, limit int, order SortOrder) ([]MemoryRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows := make([]MemoryRow, 0, len(db.rows))
	for _, row := range db.rows {
		if userID == "" || row.UserID == userID {
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if order == SortAsc {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// UpsertMemory inserts or updates a row, enforcing optimistic versioning.
func (db *InMemoryDb) UpsertMemory(_ context.Context, row MemoryRow) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	if existing, ok := db.rows[row.ID]; ok {
		if row.Version != 0 && row.Version != existing.Version {
			return ErrVersionConflict
		}
		row.Version = existing.Version + 1
		row.CreatedAt = existing.CreatedAt
		row.UpdatedAt = now
	} else {
		row.Version = 1
		row.CreatedAt = now
		row.UpdatedAt = now
	}

	db.rows[row.ID] = row
	return nil
}

// DeleteMemory removes the row with the given ID. Deleting a missing row is
// not an error.
func (db *InMemoryDb) DeleteMemory(_ context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.rows, id)
	return nil
}

// Clear removes all rows.
func (db *InMemoryDb) Clear(_ context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rows = make(map[string]MemoryRow)
	return nil
}

// Len returns the number of stored rows.
func (db *InMemoryDb) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.rows)
}
