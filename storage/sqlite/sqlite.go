// Package sqlite provides a SQLite-backed run store and memory store using
// the pure-Go modernc.org/sqlite driver. A single file (or :memory:) database
// serves both tables, which keeps small agents deployable without an
// external database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/memory"
	"github.com/agentloop/agentloop/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	agent_id   TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs (session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_user ON runs (user_id);

CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	memory     TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories (user_id, created_at);
`

// DB wraps a sql.DB on a SQLite database holding the runs and memories
// tables. It implements both storage.RunStorage and memory.Db.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the underlying database handle.
func (s *DB) Close() error {
	return s.db.Close()
}

// Upsert stores the run as a JSON document keyed by run ID.
func (s *DB) Upsert(ctx context.Context, run *core.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("sqlite: encode run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, session_id, agent_id, user_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			session_id = excluded.session_id,
			agent_id   = excluded.agent_id,
			user_id    = excluded.user_id,
			data       = excluded.data`,
		run.RunID, run.SessionID, run.AgentID, run.UserID, string(data), run.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: upsert run %s: %w", run.RunID, err)
	}
	return nil
}

// Read returns the run with the given ID, or storage.ErrNotFound.
func (s *DB) Read(ctx context.Context, runID string) (*core.Run, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM runs WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read run %s: %w", runID, err)
	}

	var run core.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("sqlite: decode run %s: %w", runID, err)
	}
	return &run, nil
}

// SessionIDs returns the distinct session IDs with stored runs, most recent
// first.
func (s *DB) SessionIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT session_id FROM runs
		WHERE session_id != ''`
	args := []any{}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += `
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	return ids, nil
}

// ReadMemories returns the memory rows for userID ordered by creation time.
func (s *DB) ReadMemories(ctx context.Context, userID string, limit int, order memory.SortOrder) ([]memory.MemoryRow, error) {
	dir := "DESC"
	if order == memory.SortAsc {
		dir = "ASC"
	}

	query := `SELECT id, user_id, memory, version, created_at, updated_at FROM memories`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at ` + dir
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read memories: %w", err)
	}
	defer rows.Close()

	var out []memory.MemoryRow
	for rows.Next() {
		var (
			row                  memory.MemoryRow
			payload              string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&row.ID, &row.UserID, &payload, &row.Version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan memory row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &row.Memory); err != nil {
			return nil, fmt.Errorf("sqlite: decode memory %s: %w", row.ID, err)
		}
		row.CreatedAt = time.Unix(0, createdAt)
		row.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read memories: %w", err)
	}
	return out, nil
}

// UpsertMemory inserts or updates a memory row, enforcing optimistic
// versioning: an update carrying a stale non-zero version fails with
// memory.ErrVersionConflict.
func (s *DB) UpsertMemory(ctx context.Context, row memory.MemoryRow) error {
	payload, err := json.Marshal(row.Memory)
	if err != nil {
		return fmt.Errorf("sqlite: encode memory: %w", err)
	}

	now := time.Now().UnixNano()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin upsert: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM memories WHERE id = ?`, row.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memories (id, user_id, memory, version, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)`,
			row.ID, row.UserID, string(payload), now, now)
		if err != nil {
			return fmt.Errorf("sqlite: insert memory %s: %w", row.ID, err)
		}
	case err != nil:
		return fmt.Errorf("sqlite: read memory version %s: %w", row.ID, err)
	default:
		if row.Version != 0 && row.Version != current {
			return memory.ErrVersionConflict
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET user_id = ?, memory = ?, version = ?, updated_at = ?
			WHERE id = ?`,
			row.UserID, string(payload), current+1, now, row.ID)
		if err != nil {
			return fmt.Errorf("sqlite: update memory %s: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit upsert: %w", err)
	}
	return nil
}

// DeleteMemory removes the memory row with the given ID. Deleting a missing
// row is not an error.
func (s *DB) DeleteMemory(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete memory %s: %w", id, err)
	}
	return nil
}

// Clear removes all memory rows.
func (s *DB) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("sqlite: clear memories: %w", err)
	}
	return nil
}
