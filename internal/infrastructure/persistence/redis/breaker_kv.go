package redis

import (
	"context"
	"errors"
	"time"

	"github.com/edu-chain/credential-ledger/pkg/circuitbreaker"
)

// BreakerKV guards cache reads and writes with a circuit breaker, so an
// unreachable Redis costs one rejected call instead of a dial timeout per
// read. Deletes always go through: a skipped invalidation would leave a
// stale entry behind once Redis recovers.
type BreakerKV struct {
	kv      KV
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerKV wraps kv.
func NewBreakerKV(kv KV, breaker *circuitbreaker.CircuitBreaker) *BreakerKV {
	return &BreakerKV{kv: kv, breaker: breaker}
}

var _ KV = (*BreakerKV)(nil)

// Get implements KV. A miss is a healthy answer.
func (b *BreakerKV) Get(ctx context.Context, key string, dest any) error {
	var miss error
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		err := b.kv.Get(ctx, key, dest)
		if errors.Is(err, ErrCacheMiss) {
			miss = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return miss
}

// Set implements KV.
func (b *BreakerKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.kv.Set(ctx, key, value, ttl)
	})
}

// Delete implements KV.
func (b *BreakerKV) Delete(ctx context.Context, keys ...string) error {
	return b.kv.Delete(ctx, keys...)
}

// Breaker exposes the breaker for health reporting.
func (b *BreakerKV) Breaker() *circuitbreaker.CircuitBreaker {
	return b.breaker
}
