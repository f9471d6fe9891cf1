package livecalls

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Hour), mr
}

func TestPutListDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	entry := Entry{
		CallID:     "call-1",
		ClientName: "Customer 15551230000",
		Phone:      "+15551230000",
		Direction:  "inbound",
		Status:     "ringing",
		StartedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Put(ctx, entry))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "call-1", entries[0].CallID)
	assert.Equal(t, "ringing", entries[0].Status)

	require.NoError(t, store.Delete(ctx, "call-1"))
	entries, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSetConnectedUpdatesStatusAndAgent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Entry{CallID: "call-2", Status: "ringing"}))
	require.NoError(t, store.SetConnected(ctx, "call-2", "Dana"))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "connected", entries[0].Status)
	assert.Equal(t, "Dana", entries[0].AgentName)
}

func TestSetConnectedMissingEntryIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.SetConnected(context.Background(), "gone", "Dana"))
}

func TestListPrunesExpiredEntries(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Entry{CallID: "call-3", Status: "ringing"}))
	mr.FastForward(2 * time.Hour)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	// Second listing after prune must also succeed cleanly.
	entries, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPutIsIdempotentPerCall(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Entry{CallID: "call-4", Status: "ringing"}))
	require.NoError(t, store.Put(ctx, Entry{CallID: "call-4", Status: "connected"}))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "connected", entries[0].Status)
}
