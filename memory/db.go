package memory

import "context"

// Db is the storage contract for user memories.
//
// Implementations must support concurrent UpsertMemory and DeleteMemory calls
// from multiple Manager instances acting on the same user. Optimistic
// versioning on MemoryRow detects conflicting writes; a version mismatch is
// reported as ErrVersionConflict and is retryable.
type Db interface {
	// ReadMemories returns the memories for userID ordered by creation time.
	// A limit of 0 means no limit.
	ReadMemories(ctx context.Context, userID string, limit int, sort SortOrder) ([]MemoryRow, error)

	// UpsertMemory inserts the row, or updates it when a row with the same ID
	// exists. An empty row ID means insert with a generated ID.
	UpsertMemory(ctx context.Context, row MemoryRow) error

	// DeleteMemory removes the row with the given ID.
	DeleteMemory(ctx context.Context, id string) error

	// Clear removes all rows.
	Clear(ctx context.Context) error
}
