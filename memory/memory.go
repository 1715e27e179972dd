package memory

import (
	"errors"
	"time"
)

// SortOrder controls the ordering of ReadMemories results by creation time.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ErrVersionConflict is returned by Db.UpsertMemory when the row's version no
// longer matches the stored version, meaning another writer updated the row
// concurrently. Callers should re-read and retry.
var ErrVersionConflict = errors.New("memory: version conflict")

// Memory is the payload of a stored user memory.
type Memory struct {
	// Memory is the remembered fact, phrased in third person.
	Memory string `json:"memory"`
	// Input is the user message the memory was extracted from.
	Input string `json:"input,omitempty"`
	// Topic optionally categorizes the memory.
	Topic string `json:"topic,omitempty"`
}

// MemoryRow is a stored memory with its identity and versioning metadata.
// Rows are created, updated and deleted exclusively through the Manager's
// tool functions.
type MemoryRow struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Memory Memory `json:"memory"`
	// Version increments on every successful upsert. An upsert carrying a
	// non-zero version that does not match the stored row fails with
	// ErrVersionConflict.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
