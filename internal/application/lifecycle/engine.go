// Package lifecycle contains the intake lifecycle engine: the only writer of
// the intake stores. Every operation reads and validates first, then commits
// a single changeset and publishes its events.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// BlockClock reports the block currently being executed.
type BlockClock interface {
	CurrentBlock() shared.BlockNumber
}

// BlockClockFunc adapts a function to BlockClock.
type BlockClockFunc func() shared.BlockNumber

// CurrentBlock implements BlockClock.
func (f BlockClockFunc) CurrentBlock() shared.BlockNumber {
	return f()
}

// Options configures optional engine behaviour.
type Options struct {
	// EnforceAcceptanceCap rejects AcceptApplication once MaxAccepted
	// applicants have been accepted. Off by default.
	EnforceAcceptanceCap bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine orchestrates all intake operations.
type Engine struct {
	store     intake.Store
	directory intake.InstitutionDirectory
	clock     BlockClock
	publisher shared.EventPublisher
	validate  *validator.Validate
	logger    *slog.Logger
	queries   *Queries

	enforceAcceptanceCap bool
}

var _ intake.Provider = (*Engine)(nil)

// NewEngine creates a new Engine.
func NewEngine(
	store intake.Store,
	directory intake.InstitutionDirectory,
	clock BlockClock,
	publisher shared.EventPublisher,
	opts Options,
) *Engine {
	if publisher == nil {
		publisher = shared.NopPublisher
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:                store,
		directory:            directory,
		clock:                clock,
		publisher:            publisher,
		validate:             validator.New(),
		logger:               logger.With("component", "intake_lifecycle"),
		queries:              NewQueries(store, clock),
		enforceAcceptanceCap: opts.EnforceAcceptanceCap,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORIZATION
// ══════════════════════════════════════════════════════════════════════════════

// ensureInstitutionAdmin checks that caller is the recorded administrator of
// institution. Every institution-privileged operation goes through here.
func (e *Engine) ensureInstitutionAdmin(ctx context.Context, caller shared.AccountID, institution shared.InstitutionID) error {
	if caller.IsEmpty() {
		return shared.ErrInsufficientPermission
	}
	admin, ok := e.directory.AdministratorOf(ctx, institution)
	if !ok {
		return shared.ErrNoSuchInstitution
	}
	if admin != caller {
		return shared.ErrInsufficientPermission
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type correlationKey struct{}

// WithCorrelationID attaches an identifier that is copied onto every event
// the engine emits while serving ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func (e *Engine) now() shared.BlockNumber {
	return e.clock.CurrentBlock()
}

// reject logs a refused call and returns err unchanged.
func (e *Engine) reject(op string, id intake.ID, caller shared.AccountID, err error) error {
	e.logger.Debug("intake call rejected",
		"op", op,
		"intake", id.String(),
		"caller", caller.String(),
		"error", err,
	)
	return err
}

// commit applies cs, then publishes events in order. Events are only
// published after the changeset is durable.
func (e *Engine) commit(ctx context.Context, cs *intake.Changeset, events ...shared.Event) error {
	if err := e.store.Commit(ctx, cs); err != nil {
		return err
	}
	for _, event := range events {
		if err := e.publisher.Publish(event); err != nil {
			e.logger.Warn("failed to publish intake event",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
		}
	}
	return nil
}
