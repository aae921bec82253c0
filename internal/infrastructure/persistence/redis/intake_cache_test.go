package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-chain/credential-ledger/internal/application/lifecycle"
	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/codec"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/persistence/memory"
)

// fakeKV stores CBOR payloads the way Cache does.
type fakeKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	gets    int
	failGet error
	failDel error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(_ context.Context, key string, dest any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGet != nil {
		return f.failGet
	}
	raw, ok := f.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return codec.Unmarshal(raw, dest)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := codec.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeKV) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel != nil {
		return f.failDel
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeKV) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

// countingStore counts reads that reach the backing store.
type countingStore struct {
	*memory.Store
	intakeReads int
	lastReads   int

	// afterIntakeRead runs between a store read and the cache fill.
	afterIntakeRead func()
}

func (s *countingStore) Intake(ctx context.Context, id intake.ID) (*intake.Info, error) {
	s.intakeReads++
	info, err := s.Store.Intake(ctx, id)
	if s.afterIntakeRead != nil {
		hook := s.afterIntakeRead
		s.afterIntakeRead = nil
		hook()
	}
	return info, err
}

func (s *countingStore) LastIntake(ctx context.Context, inst shared.InstitutionID) (intake.ID, error) {
	s.lastReads++
	return s.Store.LastIntake(ctx, inst)
}

type testCache struct {
	*IntakeCache
	store  *countingStore
	writes intake.Store
	kv     *fakeKV
}

func newTestCache(t *testing.T) *testCache {
	t.Helper()
	store := &countingStore{Store: memory.NewStore()}
	kv := newFakeKV()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewIntakeCache(store, kv, time.Minute, logger)
	return &testCache{IntakeCache: c, store: store, writes: c.Invalidating(store.Store), kv: kv}
}

func seed(t *testing.T, c *testCache, id intake.ID, status intake.Status) intake.Info {
	t.Helper()
	info := intake.Info{ApplicationOpens: 1, ApplicationCloses: 10, MaxApplicants: 4, MaxAccepted: 2, Status: status}
	require.NoError(t, c.writes.Commit(context.Background(), intake.NewChangeset().
		PutIntake(id, info).
		SetLastIntake(id.Institution, id)))
	return info
}

func TestIntakeCache_ReadThrough(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := intake.NewID("uni-1", 1)
	want := seed(t, c, id, intake.StatusOngoing)

	for i := 0; i < 3; i++ {
		got, err := c.Intake(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, *got)
	}
	assert.Equal(t, 1, c.store.intakeReads)
	assert.True(t, c.kv.has(IntakeKey("uni-1/1")))

	for i := 0; i < 2; i++ {
		last, err := c.LastIntake(ctx, "uni-1")
		require.NoError(t, err)
		assert.Equal(t, id, last)
	}
	assert.Equal(t, 1, c.store.lastReads)
}

func TestIntakeCache_MissesAreNotCached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Intake(ctx, intake.NewID("uni-1", 9))
	assert.ErrorIs(t, err, shared.ErrNoSuchIntake)
	_, err = c.LastIntake(ctx, "uni-9")
	assert.ErrorIs(t, err, shared.ErrNoSuchIntake)

	assert.Empty(t, c.kv.data)
	assert.Equal(t, 1, c.store.intakeReads)
}

func TestIntakeCache_CommitInvalidatesTouchedKeys(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := intake.NewID("uni-1", 1)
	other := intake.NewID("uni-2", 1)
	seed(t, c, id, intake.StatusOngoing)
	seed(t, c, other, intake.StatusOngoing)

	_, err := c.Intake(ctx, id)
	require.NoError(t, err)
	_, err = c.Intake(ctx, other)
	require.NoError(t, err)
	_, err = c.LastIntake(ctx, "uni-1")
	require.NoError(t, err)

	closed := intake.Info{ApplicationOpens: 1, ApplicationCloses: 10, MaxApplicants: 4, MaxAccepted: 2, Status: intake.StatusClosed}
	next := intake.NewID("uni-1", 2)
	require.NoError(t, c.writes.Commit(ctx, intake.NewChangeset().
		PutIntake(id, closed).
		PutIntake(next, closed).
		SetLastIntake("uni-1", next)))

	assert.False(t, c.kv.has(IntakeKey("uni-1/1")))
	assert.False(t, c.kv.has(LastIntakeKey("uni-1")))
	assert.True(t, c.kv.has(IntakeKey("uni-2/1")))

	got, err := c.Intake(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, intake.StatusClosed, got.Status)

	last, err := c.LastIntake(ctx, "uni-1")
	require.NoError(t, err)
	assert.Equal(t, next, last)
}

func TestIntakeCache_FailedCommitKeepsCache(t *testing.T) {
	c := newTestCache(t)
	id := intake.NewID("uni-1", 1)
	seed(t, c, id, intake.StatusOngoing)
	_, err := c.Intake(context.Background(), id)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.writes.Commit(ctx, intake.NewChangeset().PutIntake(id, intake.Info{Status: intake.StatusClosed}))
	assert.ErrorIs(t, err, shared.ErrStorage)
	assert.True(t, c.kv.has(IntakeKey("uni-1/1")))
}

func TestIntakeCache_ReadFailuresFallThrough(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := intake.NewID("uni-1", 1)
	want := seed(t, c, id, intake.StatusPending)

	c.kv.failGet = errors.New("connection refused")
	got, err := c.Intake(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.Equal(t, 1, c.store.intakeReads)
}

func TestIntakeCache_FailedInvalidationBypassesStaleEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := intake.NewID("uni-1", 1)
	seed(t, c, id, intake.StatusOngoing)
	_, err := c.Intake(ctx, id)
	require.NoError(t, err)

	c.kv.failDel = errors.New("connection refused")
	closed := intake.Info{ApplicationOpens: 1, ApplicationCloses: 10, MaxApplicants: 4, MaxAccepted: 2, Status: intake.StatusClosed}
	require.NoError(t, c.writes.Commit(ctx, intake.NewChangeset().PutIntake(id, closed)))
	require.True(t, c.kv.has(IntakeKey("uni-1/1")))

	got, err := c.Intake(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, intake.StatusClosed, got.Status)
	assert.True(t, c.kv.has(IntakeKey("uni-1/1")), "stale entry stays while deletes fail")

	c.kv.failDel = nil
	got, err = c.Intake(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, intake.StatusClosed, got.Status)

	var cached intake.Info
	require.NoError(t, c.kv.Get(ctx, IntakeKey("uni-1/1"), &cached))
	assert.Equal(t, intake.StatusClosed, cached.Status)
}

func TestIntakeCache_FillRacingACommitIsDropped(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := intake.NewID("uni-1", 1)
	seed(t, c, id, intake.StatusOngoing)

	closed := intake.Info{ApplicationOpens: 1, ApplicationCloses: 10, MaxApplicants: 4, MaxAccepted: 2, Status: intake.StatusClosed}
	c.store.afterIntakeRead = func() {
		require.NoError(t, c.writes.Commit(ctx, intake.NewChangeset().PutIntake(id, closed)))
	}

	got, err := c.Intake(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, intake.StatusOngoing, got.Status, "the racing read itself saw the old row")
	assert.False(t, c.kv.has(IntakeKey("uni-1/1")))

	got, err = c.Intake(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, intake.StatusClosed, got.Status)
}

type staticDirectory map[shared.InstitutionID]shared.AccountID

func (d staticDirectory) AdministratorOf(_ context.Context, institution shared.InstitutionID) (shared.AccountID, bool) {
	a, ok := d[institution]
	return a, ok
}

// lifecycleOverCache wires an engine and HTTP-side queries the way ledgerd does.
func lifecycleOverCache(t *testing.T, c *testCache, now *shared.BlockNumber) (*lifecycle.Engine, *lifecycle.Queries) {
	t.Helper()
	clock := lifecycle.BlockClockFunc(func() shared.BlockNumber { return *now })
	engine := lifecycle.NewEngine(c.writes, staticDirectory{"uni-1": "admin-1"}, clock, nil, lifecycle.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return engine, lifecycle.NewQueries(c.IntakeCache, clock)
}

func TestIntakeCache_EngineNeverSeesStaleStatus(t *testing.T) {
	params := intake.NewIntakeParams{ApplicationOpens: 10, ApplicationCloses: 20, MaxApplicants: 3, MaxAccepted: 1}
	id := intake.NewID("uni-1", 1)

	t.Run("query fill racing the sweep", func(t *testing.T) {
		c := newTestCache(t)
		ctx := context.Background()
		now := shared.BlockNumber(5)
		engine, queries := lifecycleOverCache(t, c, &now)
		require.NoError(t, engine.AnnounceIntake(ctx, "admin-1", id, "uni-1", params))

		now = 12
		c.store.afterIntakeRead = func() {
			now = 20
			_, err := engine.SweepExpired(ctx, 20)
			require.NoError(t, err)
		}
		_, err := queries.GetIntake(ctx, id)
		require.NoError(t, err)

		now = 21
		err = engine.ApplyForIntake(ctx, "student-a", id, intake.Application{})
		assert.ErrorIs(t, err, shared.ErrIntakeClosed)

		info, err := queries.GetIntake(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, intake.StatusClosed, info.Status)
	})

	t.Run("invalidation failing during the sweep", func(t *testing.T) {
		c := newTestCache(t)
		ctx := context.Background()
		now := shared.BlockNumber(5)
		engine, queries := lifecycleOverCache(t, c, &now)
		require.NoError(t, engine.AnnounceIntake(ctx, "admin-1", id, "uni-1", params))

		now = 12
		info, err := queries.GetIntake(ctx, id)
		require.NoError(t, err)
		require.Equal(t, intake.StatusOngoing, info.Status)

		c.kv.failDel = errors.New("connection refused")
		now = 20
		_, err = engine.SweepExpired(ctx, 20)
		require.NoError(t, err)

		now = 21
		err = engine.ApplyForIntake(ctx, "student-a", id, intake.Application{})
		assert.ErrorIs(t, err, shared.ErrIntakeClosed)

		info, err = queries.GetIntake(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, intake.StatusClosed, info.Status)
	})
}

func TestIntakeCache_PassThroughReads(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	id := intake.NewID("uni-1", 1)
	seed(t, c, id, intake.StatusOngoing)

	require.NoError(t, c.writes.Commit(ctx, intake.NewChangeset().
		PutApplication(id, intake.Application{Applicant: "student-a", AppliedOn: 2}).
		Accept(id, "student-a")))

	apps, err := c.Applications(ctx, id)
	require.NoError(t, err)
	assert.Len(t, apps, 1)

	ok, err := c.IsAccepted(ctx, id, "student-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, c.kv.gets)
}
