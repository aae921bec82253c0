// Package ledger models the host runtime the intake engine executes in:
// an ordered extrinsic queue, one expiry sweep per block, and sealed blocks
// that record every outcome and event.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/edu-chain/credential-ledger/internal/application/lifecycle"
	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/codec"
)

// StateRooter is implemented by stores that can hash their full state.
type StateRooter interface {
	StateRoot() (codec.Hash, error)
}

// HeadRecorder persists the last sealed block.
type HeadRecorder interface {
	SaveHead(ctx context.Context, number shared.BlockNumber, hash codec.Hash) error
}

// Config holds runtime configuration.
type Config struct {
	// InitialBlock is the head at startup; the first produced block is InitialBlock+1.
	InitialBlock shared.BlockNumber

	// ParentHash is the hash of InitialBlock when resuming a chain.
	ParentHash codec.Hash

	// Heads records every sealed block. Optional.
	Heads HeadRecorder

	// MaxQueue bounds pending extrinsics.
	MaxQueue int

	// MaxExtrinsicsPerBlock bounds extrinsics dispatched per block. 0 means no limit.
	MaxExtrinsicsPerBlock int

	// History is the number of sealed blocks kept for lookup.
	History int

	// Engine options passed to the lifecycle engine.
	Engine lifecycle.Options

	// Publisher receives every event after its block is sealed. Optional.
	Publisher shared.EventPublisher

	Logger *slog.Logger
}

// DefaultConfig returns default runtime configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueue: 4096,
		History:  1024,
	}
}

type pendingExtrinsic struct {
	id  string
	ext Extrinsic
}

// Runtime executes extrinsics against the intake engine one block at a time.
type Runtime struct {
	cfg      Config
	logger   *slog.Logger
	validate *validator.Validate
	engine   *lifecycle.Engine
	store    intake.Store

	// current is the block being executed, or the head between blocks.
	current atomic.Uint64

	// produceMu serializes block production.
	produceMu sync.Mutex
	recorded  []shared.Event
	parent    codec.Hash

	queueMu sync.Mutex
	queue   []pendingExtrinsic
	stopped bool

	historyMu sync.RWMutex
	history   []*Block
	included  map[string]shared.BlockNumber
	aborted   map[string]shared.BlockNumber
}

// NewRuntime creates a runtime and the engine it drives. The runtime is the
// engine's block clock and event sink.
func NewRuntime(store intake.Store, directory intake.InstitutionDirectory, cfg Config) *Runtime {
	def := DefaultConfig()
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.Publisher == nil {
		cfg.Publisher = shared.NopPublisher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = logger
	}

	r := &Runtime{
		cfg:      cfg,
		logger:   logger.With("component", "ledger_runtime"),
		validate: validator.New(),
		store:    store,
		included: make(map[string]shared.BlockNumber),
		aborted:  make(map[string]shared.BlockNumber),
	}
	r.current.Store(uint64(cfg.InitialBlock))
	r.parent = cfg.ParentHash

	r.engine = lifecycle.NewEngine(store, directory, r, shared.EventPublisherFunc(r.record), cfg.Engine)
	return r
}

// Engine returns the engine for read-only queries.
func (r *Runtime) Engine() *lifecycle.Engine {
	return r.engine
}

// CurrentBlock implements lifecycle.BlockClock.
func (r *Runtime) CurrentBlock() shared.BlockNumber {
	return shared.BlockNumber(r.current.Load())
}

func (r *Runtime) record(event shared.Event) error {
	r.recorded = append(r.recorded, event)
	return nil
}

func (r *Runtime) drainRecorded() []shared.EventRecord {
	out := make([]shared.EventRecord, 0, len(r.recorded))
	for _, e := range r.recorded {
		out = append(out, shared.RecordOf(e))
	}
	r.recorded = r.recorded[:0]
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// Submission
// ══════════════════════════════════════════════════════════════════════════════

// Submit validates the extrinsic's shape and queues it for the next block.
func (r *Runtime) Submit(ext Extrinsic) (Receipt, error) {
	if ext.Signer.IsEmpty() {
		return Receipt{}, shared.ErrUnsignedOrigin
	}
	if err := r.validate.Struct(ext); err != nil {
		return Receipt{}, shared.WrapError("ledger", "Submit", shared.ErrMalformedCall, "invalid call", err)
	}
	if err := ext.Call.checkShape(); err != nil {
		return Receipt{}, err
	}

	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	if r.stopped {
		return Receipt{}, shared.ErrRuntimeStopped
	}
	if len(r.queue) >= r.cfg.MaxQueue {
		return Receipt{}, shared.ErrQueueFull
	}

	id := uuid.New().String()
	r.queue = append(r.queue, pendingExtrinsic{id: id, ext: ext})

	head := r.Head()
	target := head + 1 + shared.BlockNumber(r.blocksAhead(len(r.queue)))
	return Receipt{ID: id, QueuedAt: head, TargetBlock: target}, nil
}

// blocksAhead estimates how many extra blocks pass before the n-th queued
// extrinsic is dispatched.
func (r *Runtime) blocksAhead(n int) int {
	if r.cfg.MaxExtrinsicsPerBlock <= 0 || n <= 0 {
		return 0
	}
	return (n - 1) / r.cfg.MaxExtrinsicsPerBlock
}

// Pending returns the number of queued extrinsics.
func (r *Runtime) Pending() int {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	return len(r.queue)
}

// Close stops accepting extrinsics. Already queued extrinsics are still
// dispatched by subsequent blocks.
func (r *Runtime) Close() {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	r.stopped = true
}

func (r *Runtime) takeBatch() []pendingExtrinsic {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	n := len(r.queue)
	if limit := r.cfg.MaxExtrinsicsPerBlock; limit > 0 && n > limit {
		n = limit
	}
	batch := make([]pendingExtrinsic, n)
	copy(batch, r.queue[:n])
	r.queue = append(r.queue[:0], r.queue[n:]...)
	return batch
}

// ══════════════════════════════════════════════════════════════════════════════
// Block production
// ══════════════════════════════════════════════════════════════════════════════

// ProduceBlock executes the next block: the expiry sweep first, then queued
// extrinsics in submission order. A failing extrinsic is recorded in the block
// and does not affect the others. A storage failure in the sweep aborts the
// block and leaves the head unchanged.
//
// ctx is only checked before the block starts. Once started, a block runs to
// completion so that no extrinsic outcome depends on a deadline.
func (r *Runtime) ProduceBlock(ctx context.Context) (*Block, error) {
	r.produceMu.Lock()
	defer r.produceMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	head := r.Head()
	number := head + 1
	r.current.Store(uint64(number))
	r.recorded = r.recorded[:0]

	closed, err := r.engine.SweepExpired(ctx, number)
	if err != nil {
		r.current.Store(uint64(head))
		return nil, fmt.Errorf("produce block %d: %w", number, err)
	}

	block := &Block{
		Number:               number,
		ParentHash:           r.parent,
		Closed:               closed,
		InitializationEvents: r.drainRecorded(),
		Extrinsics:           []ExtrinsicResult{},
	}
	if block.Closed == nil {
		block.Closed = []intake.ID{}
	}

	batch := r.takeBatch()
	for _, p := range batch {
		callCtx := lifecycle.WithCorrelationID(ctx, p.id)
		err := r.dispatch(callCtx, p.ext)

		result := ExtrinsicResult{
			ID:        p.id,
			Extrinsic: p.ext,
			Success:   err == nil,
			Events:    r.drainRecorded(),
		}
		if err != nil {
			result.ErrorKind = ErrorKind(err)
			result.Error = err.Error()
			if shared.IsUnavailable(err) {
				r.logger.Error("extrinsic hit a storage failure",
					"block", number,
					"extrinsic_id", p.id,
					"error", err,
				)
			}
		}
		block.Extrinsics = append(block.Extrinsics, result)
	}

	if err := r.finalize(block); err != nil {
		r.current.Store(uint64(head))
		r.abort(number, batch, err)
		return nil, fmt.Errorf("produce block %d: %w", number, err)
	}
	r.parent = block.Hash
	r.appendHistory(block)

	if r.cfg.Heads != nil {
		if err := r.cfg.Heads.SaveHead(ctx, number, block.Hash); err != nil {
			r.logger.Error("failed to persist ledger head",
				"block", number,
				"error", err,
			)
		}
	}

	for _, rec := range block.Events() {
		if err := r.cfg.Publisher.Publish(rec.AsEvent()); err != nil {
			r.logger.Warn("failed to forward ledger event",
				"block", number,
				"event_type", rec.Type,
				"error", err,
			)
		}
	}

	r.logger.Debug("block produced",
		"block", number,
		"hash", block.Hash.String(),
		"extrinsics", len(block.Extrinsics),
		"closed", len(block.Closed),
	)
	return block, nil
}

// finalize sets the state root and seals the block.
func (r *Runtime) finalize(block *Block) error {
	if rooter, ok := r.store.(StateRooter); ok {
		root, err := rooter.StateRoot()
		if err != nil {
			return fmt.Errorf("state root: %w", err)
		}
		block.StateRoot = root
	}
	if err := block.seal(); err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	return nil
}

// abort records the receipts of a block that dispatched but could not be
// sealed. Their effects may be in the store, so lookups report
// ErrBlockAborted instead of leaving them pending forever.
func (r *Runtime) abort(number shared.BlockNumber, batch []pendingExtrinsic, cause error) {
	ids := make([]string, 0, len(batch))

	r.historyMu.Lock()
	for _, p := range batch {
		r.aborted[p.id] = number
		ids = append(ids, p.id)
	}
	r.historyMu.Unlock()

	r.logger.Error("block aborted after dispatch",
		"block", number,
		"extrinsic_ids", ids,
		"error", cause,
	)
}

func (r *Runtime) dispatch(ctx context.Context, ext Extrinsic) error {
	c := ext.Call
	switch c.Kind {
	case CallAnnounceIntake:
		return r.engine.AnnounceIntake(ctx, ext.Signer, c.Intake, c.Institution, *c.Params)
	case CallApplyForIntake:
		return r.engine.ApplyForIntake(ctx, ext.Signer, c.Intake, intake.Application{
			Applicant: c.Applicant,
			Document:  c.Document,
		})
	case CallWithdrawApplication:
		return r.engine.WithdrawApplication(ctx, ext.Signer, c.Intake)
	case CallAcceptApplication:
		return r.engine.AcceptApplication(ctx, ext.Signer, c.Intake, c.Applicant)
	case CallFinaliseIntake:
		return r.engine.FinaliseIntake(ctx, ext.Signer, c.Intake)
	default:
		return shared.ErrUnknownCall
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// History
// ══════════════════════════════════════════════════════════════════════════════

func (r *Runtime) appendHistory(b *Block) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()

	r.history = append(r.history, b)
	for _, x := range b.Extrinsics {
		r.included[x.ID] = b.Number
	}
	if over := len(r.history) - r.cfg.History; over > 0 {
		for _, old := range r.history[:over] {
			for _, x := range old.Extrinsics {
				delete(r.included, x.ID)
			}
		}
		r.history = append(r.history[:0], r.history[over:]...)
		first := r.history[0].Number
		for id, n := range r.aborted {
			if n < first {
				delete(r.aborted, id)
			}
		}
	}
}

// Head returns the number of the last sealed block.
func (r *Runtime) Head() shared.BlockNumber {
	r.historyMu.RLock()
	defer r.historyMu.RUnlock()

	if len(r.history) == 0 {
		return r.cfg.InitialBlock
	}
	return r.history[len(r.history)-1].Number
}

// Block returns a sealed block from recent history.
func (r *Runtime) Block(number shared.BlockNumber) (*Block, error) {
	r.historyMu.RLock()
	defer r.historyMu.RUnlock()

	if len(r.history) == 0 {
		return nil, shared.ErrBlockNotFound
	}
	first := r.history[0].Number
	if number < first || number > r.history[len(r.history)-1].Number {
		return nil, shared.ErrBlockNotFound
	}
	return r.history[number-first], nil
}

// LatestBlock returns the most recently sealed block.
func (r *Runtime) LatestBlock() (*Block, error) {
	r.historyMu.RLock()
	defer r.historyMu.RUnlock()

	if len(r.history) == 0 {
		return nil, shared.ErrBlockNotFound
	}
	return r.history[len(r.history)-1], nil
}

// Events returns every event deposited in a block.
func (r *Runtime) Events(number shared.BlockNumber) ([]shared.EventRecord, error) {
	b, err := r.Block(number)
	if err != nil {
		return nil, err
	}
	return b.Events(), nil
}

// ExtrinsicResult looks up the outcome of a submitted extrinsic by receipt ID.
// Returns ErrBlockNotFound while the extrinsic is still queued or once its
// block has left history, and ErrBlockAborted when its block was never sealed.
func (r *Runtime) ExtrinsicResult(id string) (*ExtrinsicResult, shared.BlockNumber, error) {
	r.historyMu.RLock()
	number, ok := r.included[id]
	abortedAt, aborted := r.aborted[id]
	r.historyMu.RUnlock()
	if aborted {
		return nil, abortedAt, shared.ErrBlockAborted
	}
	if !ok {
		return nil, 0, shared.ErrBlockNotFound
	}

	b, err := r.Block(number)
	if err != nil {
		return nil, 0, err
	}
	for i := range b.Extrinsics {
		if b.Extrinsics[i].ID == id {
			return &b.Extrinsics[i], number, nil
		}
	}
	return nil, 0, shared.ErrBlockNotFound
}
