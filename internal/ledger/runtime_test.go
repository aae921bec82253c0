package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/codec"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/directory"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/persistence/memory"
)

func newTestRuntime(t *testing.T, cfg Config) (*Runtime, *memory.Store) {
	t.Helper()
	dir := directory.NewStatic()
	dir.Register("uni-1", "First University", "admin-1")
	store := memory.NewStore()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRuntime(store, dir, cfg), store
}

func announce(id intake.ID, opens, closes shared.BlockNumber) Extrinsic {
	return Extrinsic{
		Signer: "admin-1",
		Call: Call{
			Kind:        CallAnnounceIntake,
			Intake:      id,
			Institution: id.Institution,
			Params: &intake.NewIntakeParams{
				ApplicationOpens:  opens,
				ApplicationCloses: closes,
				MaxApplicants:     5,
				MaxAccepted:       2,
			},
		},
	}
}

func produce(t *testing.T, r *Runtime, n int) *Block {
	t.Helper()
	var b *Block
	for i := 0; i < n; i++ {
		var err error
		b, err = r.ProduceBlock(context.Background())
		require.NoError(t, err)
	}
	return b
}

func TestSubmit_RejectsMalformedCalls(t *testing.T) {
	r, _ := newTestRuntime(t, Config{})
	id := intake.NewID("uni-1", 1)

	tests := []struct {
		name string
		ext  Extrinsic
	}{
		{"unknown kind", Extrinsic{Signer: "a", Call: Call{Kind: "transfer", Intake: id}}},
		{"missing kind", Extrinsic{Signer: "a", Call: Call{Intake: id}}},
		{"missing intake", Extrinsic{Signer: "a", Call: Call{Kind: CallFinaliseIntake}}},
		{"announce without params", Extrinsic{Signer: "a", Call: Call{Kind: CallAnnounceIntake, Intake: id, Institution: "uni-1"}}},
		{"accept without applicant", Extrinsic{Signer: "a", Call: Call{Kind: CallAcceptApplication, Intake: id}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Submit(tt.ext)
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrMalformedCall)
		})
	}

	_, err := r.Submit(Extrinsic{Signer: " ", Call: Call{Kind: CallFinaliseIntake, Intake: id}})
	assert.ErrorIs(t, err, shared.ErrUnsignedOrigin)
	assert.Zero(t, r.Pending())
}

func TestSubmit_InvalidParamsAreDispatched(t *testing.T) {
	r, _ := newTestRuntime(t, Config{})
	ext := announce(intake.NewID("uni-1", 1), 10, 5)

	receipt, err := r.Submit(ext)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)
	assert.Equal(t, shared.BlockNumber(1), receipt.TargetBlock)

	b := produce(t, r, 1)
	require.Len(t, b.Extrinsics, 1)
	assert.False(t, b.Extrinsics[0].Success)
	assert.Equal(t, "InvalidParameter", b.Extrinsics[0].ErrorKind)
}

func TestProduceBlock_SweepRunsBeforeExtrinsics(t *testing.T) {
	r, _ := newTestRuntime(t, Config{})
	id := intake.NewID("uni-1", 1)

	_, err := r.Submit(announce(id, 0, 3))
	require.NoError(t, err)
	produce(t, r, 1)

	// Applying in the closing block itself fails: the sweep has already run.
	produce(t, r, 1)
	_, err = r.Submit(Extrinsic{Signer: "student-a", Call: Call{Kind: CallApplyForIntake, Intake: id}})
	require.NoError(t, err)
	b := produce(t, r, 1)

	require.Equal(t, shared.BlockNumber(3), b.Number)
	assert.Equal(t, []intake.ID{id}, b.Closed)
	require.Len(t, b.InitializationEvents, 1)
	assert.Equal(t, shared.EventIntakeClosed, b.InitializationEvents[0].Type)
	require.Len(t, b.Extrinsics, 1)
	assert.Equal(t, "IntakeClosed", b.Extrinsics[0].ErrorKind)
}

func TestProduceBlock_OrderedDispatchAndEvents(t *testing.T) {
	r, _ := newTestRuntime(t, Config{})
	id := intake.NewID("uni-1", 1)

	first, err := r.Submit(announce(id, 0, 10))
	require.NoError(t, err)
	second, err := r.Submit(Extrinsic{Signer: "student-a", Call: Call{Kind: CallApplyForIntake, Intake: id, Document: "ipfs://doc"}})
	require.NoError(t, err)
	_, err = r.Submit(Extrinsic{Signer: "student-a", Call: Call{Kind: CallApplyForIntake, Intake: id}})
	require.NoError(t, err)

	b := produce(t, r, 1)
	require.Len(t, b.Extrinsics, 3)
	assert.True(t, b.Extrinsics[0].Success)
	assert.True(t, b.Extrinsics[1].Success)
	assert.Equal(t, "DuplicateApplication", b.Extrinsics[2].ErrorKind)

	require.Len(t, b.Extrinsics[1].Events, 1)
	ev := b.Extrinsics[1].Events[0]
	assert.Equal(t, shared.EventApplicationSubmitted, ev.Type)
	assert.Equal(t, second.ID, ev.CorrelationID)
	assert.Equal(t, shared.BlockNumber(1), ev.Block)

	res, number, err := r.ExtrinsicResult(first.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.BlockNumber(1), number)
	assert.True(t, res.Success)

	events, err := r.Events(1)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	app, err := r.Engine().GetApplication(context.Background(), id, "student-a")
	require.NoError(t, err)
	assert.Equal(t, shared.BlockNumber(1), app.AppliedOn)
}

func TestProduceBlock_HashChain(t *testing.T) {
	r, _ := newTestRuntime(t, Config{InitialBlock: 100})

	b1 := produce(t, r, 1)
	b2 := produce(t, r, 1)

	assert.Equal(t, shared.BlockNumber(101), b1.Number)
	assert.True(t, b1.ParentHash.IsZero())
	assert.Equal(t, b1.Hash, b2.ParentHash)
	assert.NotEqual(t, b1.Hash, b2.Hash)
	assert.False(t, b1.StateRoot.IsZero())
	assert.Equal(t, shared.BlockNumber(102), r.Head())
	assert.Equal(t, shared.BlockNumber(102), r.CurrentBlock())
}

type headLog struct {
	numbers []shared.BlockNumber
	hashes  []codec.Hash
}

func (h *headLog) SaveHead(_ context.Context, number shared.BlockNumber, hash codec.Hash) error {
	h.numbers = append(h.numbers, number)
	h.hashes = append(h.hashes, hash)
	return nil
}

func TestProduceBlock_ResumesChain(t *testing.T) {
	heads := &headLog{}
	first, _ := newTestRuntime(t, Config{Heads: heads})
	produce(t, first, 2)
	require.Equal(t, []shared.BlockNumber{1, 2}, heads.numbers)

	resumed, _ := newTestRuntime(t, Config{InitialBlock: 2, ParentHash: heads.hashes[1], Heads: heads})
	b := produce(t, resumed, 1)

	assert.Equal(t, shared.BlockNumber(3), b.Number)
	assert.Equal(t, heads.hashes[1], b.ParentHash)
	assert.Equal(t, shared.BlockNumber(3), heads.numbers[2])
}

func TestProduceBlock_Deterministic(t *testing.T) {
	run := func() []*Block {
		r, _ := newTestRuntime(t, Config{})
		id := intake.NewID("uni-1", 1)
		_, err := r.Submit(announce(id, 0, 2))
		require.NoError(t, err)
		_, err = r.Submit(Extrinsic{Signer: "student-a", Call: Call{Kind: CallFinaliseIntake, Intake: id}})
		require.NoError(t, err)
		first := produce(t, r, 1)
		return []*Block{first, produce(t, r, 1)}
	}

	a, b := run(), run()
	require.NotEqual(t, a[0].Extrinsics[0].ID, b[0].Extrinsics[0].ID, "receipt IDs are node local")
	for i := range a {
		assert.Equal(t, a[i].StateRoot, b[i].StateRoot)
		assert.Equal(t, a[i].Closed, b[i].Closed)
		assert.Equal(t, a[i].Hash, b[i].Hash, "block %d", a[i].Number)
	}
}

// unsealableStore fails to produce a state root while broken is set.
type unsealableStore struct {
	*memory.Store
	broken bool
}

func (s *unsealableStore) StateRoot() (codec.Hash, error) {
	if s.broken {
		return codec.Hash{}, errors.New("snapshot failed")
	}
	return s.Store.StateRoot()
}

func TestProduceBlock_AbortAfterDispatchReportsReceipts(t *testing.T) {
	dir := directory.NewStatic()
	dir.Register("uni-1", "First University", "admin-1")
	store := &unsealableStore{Store: memory.NewStore(), broken: true}
	r := NewRuntime(store, dir, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	receipt, err := r.Submit(announce(intake.NewID("uni-1", 1), 0, 9))
	require.NoError(t, err)

	_, err = r.ProduceBlock(context.Background())
	require.Error(t, err)
	assert.Equal(t, shared.BlockNumber(0), r.Head())
	assert.Equal(t, shared.BlockNumber(0), r.CurrentBlock())

	_, number, err := r.ExtrinsicResult(receipt.ID)
	assert.ErrorIs(t, err, shared.ErrBlockAborted)
	assert.True(t, shared.IsUnavailable(err))
	assert.Equal(t, shared.BlockNumber(1), number)

	store.broken = false
	b := produce(t, r, 1)
	assert.Equal(t, shared.BlockNumber(1), b.Number)
	assert.Empty(t, b.Extrinsics)
}

func TestProduceBlock_CancelledContext(t *testing.T) {
	r, _ := newTestRuntime(t, Config{})
	_, err := r.Submit(announce(intake.NewID("uni-1", 1), 0, 9))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.ProduceBlock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, shared.BlockNumber(0), r.Head())
	assert.Equal(t, 1, r.Pending())
}

// cancellingDirectory cancels the block context on its first lookup, in
// the middle of dispatch.
type cancellingDirectory struct {
	*directory.Static
	cancel context.CancelFunc
}

func (d *cancellingDirectory) AdministratorOf(ctx context.Context, institution shared.InstitutionID) (shared.AccountID, bool) {
	d.cancel()
	return d.Static.AdministratorOf(ctx, institution)
}

func TestProduceBlock_StartedBlockIgnoresCancellation(t *testing.T) {
	static := directory.NewStatic()
	static.Register("uni-1", "First University", "admin-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := &cancellingDirectory{Static: static, cancel: cancel}
	r := NewRuntime(memory.NewStore(), dir, Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	for i := uint32(1); i <= 3; i++ {
		_, err := r.Submit(announce(intake.NewID("uni-1", i), 0, 9))
		require.NoError(t, err)
	}

	b, err := r.ProduceBlock(ctx)
	require.NoError(t, err)
	require.Len(t, b.Extrinsics, 3)
	for _, x := range b.Extrinsics {
		assert.True(t, x.Success, x.Error)
	}
}

func TestRuntime_HistoryAndLimits(t *testing.T) {
	r, _ := newTestRuntime(t, Config{History: 2, MaxQueue: 2, MaxExtrinsicsPerBlock: 1})
	id := intake.NewID("uni-1", 1)

	_, err := r.Submit(announce(id, 0, 50))
	require.NoError(t, err)
	receipt, err := r.Submit(Extrinsic{Signer: "s", Call: Call{Kind: CallApplyForIntake, Intake: id}})
	require.NoError(t, err)
	assert.Equal(t, shared.BlockNumber(2), receipt.TargetBlock)

	_, err = r.Submit(Extrinsic{Signer: "s", Call: Call{Kind: CallWithdrawApplication, Intake: id}})
	assert.ErrorIs(t, err, shared.ErrQueueFull)

	b1 := produce(t, r, 1)
	assert.Len(t, b1.Extrinsics, 1)
	assert.Equal(t, 1, r.Pending())

	produce(t, r, 2)
	_, err = r.Block(1)
	assert.ErrorIs(t, err, shared.ErrBlockNotFound)
	latest, err := r.LatestBlock()
	require.NoError(t, err)
	assert.Equal(t, shared.BlockNumber(3), latest.Number)

	r.Close()
	_, err = r.Submit(announce(intake.NewID("uni-1", 2), 0, 9))
	assert.ErrorIs(t, err, shared.ErrRuntimeStopped)
}

func TestRuntime_ForwardsSealedEvents(t *testing.T) {
	var got []shared.Event
	r, _ := newTestRuntime(t, Config{Publisher: shared.EventPublisherFunc(func(e shared.Event) error {
		got = append(got, e)
		return nil
	})})

	_, err := r.Submit(announce(intake.NewID("uni-1", 1), 0, 2))
	require.NoError(t, err)
	produce(t, r, 2)

	require.Len(t, got, 2)
	assert.Equal(t, shared.EventIntakeAnnounced, got[0].EventType())
	assert.Equal(t, shared.EventIntakeClosed, got[1].EventType())
	assert.Equal(t, shared.BlockNumber(2), got[1].Block())
	assert.Equal(t, "uni-1/1", got[1].AggregateID())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "NoSuchIntake", ErrorKind(shared.ErrNoSuchIntake))
	assert.Equal(t, "IntakeOngoing", ErrorKind(shared.ErrIntakeOngoing))
	assert.Equal(t, "InvalidParameter", ErrorKind(shared.WrapError("x", "y", shared.ErrInvalidParameter, "z", nil)))
	assert.Equal(t, "Other", ErrorKind(assert.AnError))
}
