package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/pkg/circuitbreaker"
)

// KV is the subset of Cache the intake cache needs.
type KV interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var _ KV = (*Cache)(nil)

// IntakeCache is a read-through cache of intake metadata and last-intake
// pointers for the query path. It is only an intake.Reader: the lifecycle
// engine reads its store directly and reaches the cache through the store
// returned by Invalidating.
//
// A fill started before an invalidation is dropped, so a slow reader never
// writes a row back over a newer commit. Keys whose invalidation failed
// bypass the cache until a later delete of them succeeds.
type IntakeCache struct {
	intake.Reader

	kv     KV
	ttl    time.Duration
	logger *slog.Logger

	// mu orders fills against invalidations.
	mu    sync.RWMutex
	epoch uint64
	dirty map[string]uint64
}

// NewIntakeCache wraps reader with a cache. A non-positive ttl uses TTLIntakeCache.
func NewIntakeCache(reader intake.Reader, kv KV, ttl time.Duration, logger *slog.Logger) *IntakeCache {
	if ttl <= 0 {
		ttl = TTLIntakeCache
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeCache{
		Reader: reader,
		kv:     kv,
		ttl:    ttl,
		logger: logger.With("component", "intake_cache"),
		dirty:  make(map[string]uint64),
	}
}

var _ intake.Reader = (*IntakeCache)(nil)

// Intake implements intake.Reader.
func (c *IntakeCache) Intake(ctx context.Context, id intake.ID) (*intake.Info, error) {
	key := IntakeKey(id.String())

	var info intake.Info
	if c.lookup(ctx, key, &info) {
		return &info, nil
	}

	epoch := c.currentEpoch()
	got, err := c.Reader.Intake(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, got, epoch)
	return got, nil
}

// LastIntake implements intake.Reader.
func (c *IntakeCache) LastIntake(ctx context.Context, institution shared.InstitutionID) (intake.ID, error) {
	key := LastIntakeKey(institution.String())

	var id intake.ID
	if c.lookup(ctx, key, &id) {
		return id, nil
	}

	epoch := c.currentEpoch()
	id, err := c.Reader.LastIntake(ctx, institution)
	if err != nil {
		return intake.ID{}, err
	}
	c.fill(ctx, key, id, epoch)
	return id, nil
}

// Invalidate drops every key cs touched. It must run after cs is durable.
// On failure the keys stay marked and are served from the reader.
func (c *IntakeCache) Invalidate(ctx context.Context, cs *intake.Changeset) error {
	keys := invalidationKeys(cs)
	if len(keys) == 0 {
		return nil
	}

	c.mu.Lock()
	c.epoch++
	mark := c.epoch
	for _, k := range keys {
		c.dirty[k] = mark
	}
	c.mu.Unlock()

	if err := c.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate %d keys: %w", len(keys), err)
	}
	c.clear(mark, keys...)
	return nil
}

// Invalidating returns store with Commit extended to invalidate this cache.
// Hand the result to the engine; the engine never reads through the cache.
func (c *IntakeCache) Invalidating(store intake.Store) intake.Store {
	return &invalidatingStore{Store: store, cache: c}
}

type invalidatingStore struct {
	intake.Store
	cache *IntakeCache
}

// Commit implements intake.Store. The changeset is already durable when
// invalidation runs, so its failure is logged rather than returned.
func (s *invalidatingStore) Commit(ctx context.Context, cs *intake.Changeset) error {
	if err := s.Store.Commit(ctx, cs); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, cs); err != nil {
		s.cache.logger.Error("cache invalidation failed, keys bypass the cache", "error", err)
	}
	return nil
}

// lookup reads key into dest. A dirty key is never read; its delete is
// retried instead.
func (c *IntakeCache) lookup(ctx context.Context, key string, dest any) bool {
	c.mu.RLock()
	mark, dirty := c.dirty[key]
	c.mu.RUnlock()

	if dirty {
		if err := c.kv.Delete(ctx, key); err == nil {
			c.clear(mark, key)
		}
		return false
	}

	err := c.kv.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !quiet(err) {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}
	return false
}

// fill stores value unless an invalidation happened since epoch was read.
func (c *IntakeCache) fill(ctx context.Context, key string, value any, epoch uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.epoch != epoch {
		return
	}
	if _, dirty := c.dirty[key]; dirty {
		return
	}
	if err := c.kv.Set(ctx, key, value, c.ttl); err != nil && !quiet(err) {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *IntakeCache) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// clear unmarks keys still carrying mark; a newer failed invalidation keeps its own.
func (c *IntakeCache) clear(mark uint64, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if c.dirty[k] == mark {
			delete(c.dirty, k)
		}
	}
}

// quiet reports cache errors not worth a log line: misses and calls
// rejected by an open breaker.
func quiet(err error) bool {
	return errors.Is(err, ErrCacheMiss) ||
		errors.Is(err, circuitbreaker.ErrCircuitOpen) ||
		errors.Is(err, circuitbreaker.ErrTooManyTrials)
}

func invalidationKeys(cs *intake.Changeset) []string {
	var keys []string
	for _, id := range cs.Touched() {
		keys = append(keys, IntakeKey(id.String()))
	}
	for _, inst := range cs.TouchedInstitutions() {
		keys = append(keys, LastIntakeKey(inst.String()))
	}
	return keys
}
