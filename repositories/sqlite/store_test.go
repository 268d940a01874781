package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "usage.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_InsertAndGetByRequestID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	failed := models.NewUsageRecord("req-1", 1, "anthropic", "claude-3-5-haiku-latest").Failed("transient")
	failed.Timestamp = base
	ok := models.NewUsageRecord("req-1", 2, "openai", "gpt-4o-mini").WithTokens(10, 5, 0).WithDuration(120 * time.Millisecond).Succeeded()
	ok.Timestamp = base.Add(time.Second)
	other := models.NewUsageRecord("req-2", 1, "gemini", "gemini-2.0-flash").Succeeded()

	// inserted out of order on purpose
	require.NoError(t, store.Insert(ctx, ok))
	require.NoError(t, store.Insert(ctx, failed))
	require.NoError(t, store.Insert(ctx, other))

	records, err := store.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, failed.ID, records[0].ID)
	assert.False(t, records[0].Success)
	assert.Equal(t, "transient", records[0].ErrorKind)
	assert.True(t, records[0].Timestamp.Equal(base))

	assert.Equal(t, ok.ID, records[1].ID)
	assert.True(t, records[1].Success)
	assert.Equal(t, 15, records[1].TotalTokens)
	assert.EqualValues(t, 120, records[1].DurationMs)
}

func TestStore_GetByRequestIDMissing(t *testing.T) {
	store := openTestStore(t)

	records, err := store.GetByRequestID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_ListRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := models.NewUsageRecord("req", i+1, "openai", "gpt-4o-mini").Succeeded()
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Insert(ctx, rec))
	}

	records, err := store.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 5, records[0].Attempt)
	assert.Equal(t, 4, records[1].Attempt)
	assert.Equal(t, 3, records[2].Attempt)
}

func TestStore_ConcurrentInserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, store.Insert(ctx, models.NewUsageRecord("req-c", n+1, "openai", "gpt-4o-mini").Succeeded()))
		}(i)
	}
	wg.Wait()

	records, err := store.GetByRequestID(ctx, "req-c")
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "usage.db")

	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Insert(context.Background(), models.NewUsageRecord("req-p", 1, "mistral", "mistral-small-latest").Succeeded()))
	require.NoError(t, store.Close())

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.GetByRequestID(context.Background(), "req-p")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "mistral", records[0].Provider)
}

func TestStore_HealthCheck(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}
