package messaging

import (
	"context"
	"fmt"

	rediscache "github.com/edu-chain/credential-ledger/internal/infrastructure/persistence/redis"
)

// RedisPubSub adapts the shared Redis cache client to RedisClient.
// The cache connection is owned by the caller.
type RedisPubSub struct {
	cache *rediscache.Cache
}

// NewRedisPubSub creates a RedisClient backed by cache.
func NewRedisPubSub(cache *rediscache.Cache) *RedisPubSub {
	return &RedisPubSub{cache: cache}
}

var _ RedisClient = (*RedisPubSub)(nil)

// Publish implements RedisClient.
func (p *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.cache.Publish(ctx, channel, payload)
}

// Subscribe implements RedisClient. The returned channel is closed when ctx
// is cancelled or the subscription ends.
func (p *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ps := p.cache.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation so no message published after
	// return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
