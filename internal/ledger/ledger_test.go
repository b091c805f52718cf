package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(DefaultPath(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordUpsertsAndKeepsHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2020, 5, 6, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, Entry{Name: "S2A_X", ProductID: "uuid-1", State: StateKept, RunID: "r1", UpdatedAt: t0}))
	require.NoError(t, store.Record(ctx, Entry{Name: "S2A_X", State: StateOffline, Message: "re-run in 24 hours", RunID: "r1", UpdatedAt: t0.Add(time.Minute)}))

	e, ok, err := store.Get(ctx, "S2A_X")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateOffline, e.State)
	assert.Equal(t, "uuid-1", e.ProductID)
	assert.Equal(t, "re-run in 24 hours", e.Message)
	assert.Equal(t, t0.Add(time.Minute), e.UpdatedAt)

	history, err := store.History(ctx, "S2A_X")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, StateKept, history[0].State)
	assert.Equal(t, StateOffline, history[1].State)
}

func TestListByState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2020, 5, 6, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, Entry{Name: "b", State: StateOffline, UpdatedAt: base.Add(time.Second)}))
	require.NoError(t, store.Record(ctx, Entry{Name: "a", State: StateOffline, UpdatedAt: base}))
	require.NoError(t, store.Record(ctx, Entry{Name: "c", State: StateDownloaded, UpdatedAt: base}))

	offline, err := store.ListByState(ctx, StateOffline)
	require.NoError(t, err)
	require.Len(t, offline, 2)
	assert.Equal(t, "a", offline[0].Name)
	assert.Equal(t, "b", offline[1].Name)
}

func TestOpenAppliesPragmas(t *testing.T) {
	store := openTestStore(t)

	var mode string
	require.NoError(t, store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)
	_, ok, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordValidates(t *testing.T) {
	store := openTestStore(t)
	assert.Error(t, store.Record(context.Background(), Entry{State: StateKept}))
	assert.Error(t, store.Record(context.Background(), Entry{Name: "x"}))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
	assert.Equal(t, filepath.Join("out", ".s2batch", "ledger.db"), DefaultPath("out"))
}
