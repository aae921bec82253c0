package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
)

// The tests below need a scratch Redis database, e.g.
// LEDGER_TEST_REDIS_URL=redis://localhost:6379/15

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	url := os.Getenv("LEDGER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.URL = url
	cache, err := NewCache(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCache_FlushIntakesKeepsOtherKeys(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	info := intake.Info{ApplicationOpens: 1, ApplicationCloses: 5, MaxApplicants: 3, MaxAccepted: 1, Status: intake.StatusOngoing}
	require.NoError(t, cache.Set(ctx, IntakeKey("uni-1/1"), info, time.Minute))
	require.NoError(t, cache.Set(ctx, IntakeKey("uni-1/2"), info, time.Minute))
	require.NoError(t, cache.Set(ctx, LastIntakeKey("uni-1"), intake.NewID("uni-1", 2), time.Minute))
	require.NoError(t, cache.Set(ctx, "unrelated", "keep", time.Minute))
	t.Cleanup(func() { _ = cache.Delete(ctx, "unrelated") })

	require.NoError(t, cache.FlushIntakes(ctx))

	var got intake.Info
	assert.ErrorIs(t, cache.Get(ctx, IntakeKey("uni-1/1"), &got), ErrCacheMiss)
	assert.ErrorIs(t, cache.Get(ctx, IntakeKey("uni-1/2"), &got), ErrCacheMiss)
	var id intake.ID
	assert.ErrorIs(t, cache.Get(ctx, LastIntakeKey("uni-1"), &id), ErrCacheMiss)

	var kept string
	require.NoError(t, cache.Get(ctx, "unrelated", &kept))
	assert.Equal(t, "keep", kept)
}

func TestCache_DeleteByPatternRejectsEmpty(t *testing.T) {
	cache := &Cache{}
	assert.ErrorIs(t, cache.DeleteByPattern(context.Background(), ""), ErrCacheKeyEmpty)
}
