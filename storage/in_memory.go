package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentloop/agentloop/core"
)

// InMemoryStorage is a volatile RunStorage keeping runs in a process local
// map. It is safe for concurrent access and best suited for tests or
// ephemeral demo agents.
type InMemoryStorage struct {
	mu   sync.RWMutex
	runs map[string]*core.Run
}

// NewInMemoryStorage constructs an empty in-memory run store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{runs: make(map[string]*core.Run)}
}

// Upsert stores the run keyed by its run ID.
func (s *InMemoryStorage) Upsert(_ context.Context, run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

// Read returns the run with the given ID, or ErrNotFound.
func (s *InMemoryStorage) Read(_ context.Context, runID string) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return run, nil
}

// SessionIDs returns the distinct session IDs, most recently created first.
func (s *InMemoryStorage) SessionIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]time.Time)
	for _, run := range s.runs {
		if userID != "" && run.UserID != userID {
			continue
		}
		if run.SessionID == "" {
			continue
		}
		if ts, ok := latest[run.SessionID]; !ok || run.CreatedAt.After(ts) {
			latest[run.SessionID] = run.CreatedAt
		}
	}

	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return latest[ids[i]].After(latest[ids[j]])
	})
	return ids, nil
}

// Len returns the number of stored runs.
func (s *InMemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
