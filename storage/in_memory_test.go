package storage

import (
	"context"
	"testing"
	"time"

	"github.com/agentloop/agentloop/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var _ RunStorage = (*InMemoryStorage)(nil)

func newRun(sessionID, userID string, createdAt time.Time) *core.Run {
	run := core.NewRun(sessionID, "a1", userID, core.NewUserMessage("hi"))
	run.CreatedAt = createdAt
	return run
}

func TestInMemoryStorage_UpsertAndRead(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()

	run := newRun("s1", "u1", time.Now())
	require.NoError(t, s.Upsert(ctx, run))
	assert.Equal(t, 1, s.Len())

	got, err := s.Read(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)

	// Upserting the same run ID overwrites.
	run.Response.Content = "updated"
	require.NoError(t, s.Upsert(ctx, run))
	assert.Equal(t, 1, s.Len())
}

func TestInMemoryStorage_ReadNotFound(t *testing.T) {
	s := NewInMemoryStorage()
	_, err := s.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStorage_SessionIDs(t *testing.T) {
	s := NewInMemoryStorage()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.Upsert(ctx, newRun("s_old", "u1", base.Add(-2*time.Hour))))
	require.NoError(t, s.Upsert(ctx, newRun("s_new", "u1", base)))
	require.NoError(t, s.Upsert(ctx, newRun("s_mid", "u1", base.Add(-time.Hour))))
	require.NoError(t, s.Upsert(ctx, newRun("s_other", "u2", base.Add(-time.Minute))))

	// A second, older run in an existing session does not change its rank.
	require.NoError(t, s.Upsert(ctx, newRun("s_new", "u1", base.Add(-3*time.Hour))))

	ids, err := s.SessionIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s_new", "s_mid", "s_old"}, ids)

	all, err := s.SessionIDs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "s_new", all[0])
}
