package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/transcript"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	ctx := context.Background()

	store, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stamp := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveExchange(ctx, transcript.Exchange{
		SessionID: "sess-1", Agent: "front", Prompt: "Hi", Response: "Hello!", CreatedAt: stamp,
	}))
	require.NoError(t, store.SaveExchange(ctx, transcript.Exchange{
		SessionID: "sess-1", Agent: "front", Prompt: "Bye", Response: "Goodbye!",
	}))
	require.NoError(t, store.SaveExchange(ctx, transcript.Exchange{
		SessionID: "sess-2", Agent: "front", Prompt: "Other", Response: "Session",
	}))

	got, err := store.ListExchanges(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Hi", got[0].Prompt)
	assert.Equal(t, stamp.UnixMilli(), got[0].CreatedAt.UnixMilli())
	assert.Equal(t, "Goodbye!", got[1].Response)
	assert.False(t, got[1].CreatedAt.IsZero())

	other, err := store.ListExchanges(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	ctx := context.Background()

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveExchange(ctx, transcript.Exchange{
		SessionID: "sess-1", Agent: "front", Prompt: "Hi", Response: "Hello!",
	}))
	require.NoError(t, store.Close())

	// Reopening migrates idempotently and keeps the rows.
	reopened, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.ListExchanges(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Hello!", got[0].Response)
}

func TestStoreSearch(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveExchange(ctx, transcript.Exchange{
		SessionID: "sess-1", Prompt: "Where is order A-7?", Response: "It shipped.",
	}))
	require.NoError(t, store.SaveExchange(ctx, transcript.Exchange{
		SessionID: "sess-2", Prompt: "Refund order A-7", Response: "Refund issued.",
	}))

	matches, err := store.SearchExchanges(ctx, "order A-7", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "sess-1", matches[0].SessionID)

	capped, err := store.SearchExchanges(ctx, "issued", 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "sess-2", capped[0].SessionID)

	all, err := store.SearchExchanges(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStoreRejectsEmptySessionID(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	err = store.SaveExchange(context.Background(), transcript.Exchange{Prompt: "Hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session id")
}

func TestNewStoreMissingPath(t *testing.T) {
	_, err := NewStore("   ")
	require.Error(t, err)
}
