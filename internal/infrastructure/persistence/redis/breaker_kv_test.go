package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-chain/credential-ledger/pkg/circuitbreaker"
)

func TestBreakerKV_MissDoesNotTrip(t *testing.T) {
	kv := NewBreakerKV(newFakeKV(), circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(1)))
	ctx := context.Background()

	var dest string
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, kv.Get(ctx, "missing", &dest), ErrCacheMiss)
	}
	assert.Equal(t, circuitbreaker.StateClosed, kv.Breaker().State())

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, kv.Get(ctx, "k", &dest))
	assert.Equal(t, "v", dest)
}

func TestBreakerKV_OpenSkipsReadsButNotDeletes(t *testing.T) {
	fake := newFakeKV()
	fake.failGet = errors.New("i/o timeout")
	kv := NewBreakerKV(fake, circuitbreaker.New("test",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithCooldown(time.Hour),
	))
	ctx := context.Background()

	var dest string
	_ = kv.Get(ctx, "k", &dest)
	_ = kv.Get(ctx, "k", &dest)
	require.Equal(t, circuitbreaker.StateOpen, kv.Breaker().State())

	assert.ErrorIs(t, kv.Get(ctx, "k", &dest), circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, kv.Set(ctx, "k", "v", time.Minute), circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, fake.gets)

	fake.data["k"] = []byte{0x60}
	require.NoError(t, kv.Delete(ctx, "k"))
	assert.False(t, fake.has("k"))
}
