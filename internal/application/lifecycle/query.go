package lifecycle

import (
	"context"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// Queries answers intake reads as of the current block. The engine keeps one
// over its own store; the HTTP layer may use another over a cached reader,
// which the engine itself never reads from.
type Queries struct {
	reader intake.Reader
	clock  BlockClock
}

// NewQueries creates read-only queries over reader.
func NewQueries(reader intake.Reader, clock BlockClock) *Queries {
	return &Queries{reader: reader, clock: clock}
}

var _ intake.Provider = (*Queries)(nil)

// GetIntake returns the intake metadata with its status as of the current block.
func (q *Queries) GetIntake(ctx context.Context, id intake.ID) (*intake.Info, error) {
	info, err := q.reader.Intake(ctx, id)
	if err != nil {
		return nil, err
	}
	current := info.At(q.clock.CurrentBlock())
	return &current, nil
}

// IntakeInfo implements intake.Provider for other modules.
func (q *Queries) IntakeInfo(ctx context.Context, id intake.ID) (*intake.Info, error) {
	return q.GetIntake(ctx, id)
}

// GetApplication returns an applicant's application. Applications are purged
// on finalisation, after which this returns ErrNoSuchApplication.
func (q *Queries) GetApplication(ctx context.Context, id intake.ID, applicant shared.AccountID) (*intake.Application, error) {
	return q.reader.Application(ctx, id, applicant)
}

// Applications lists the remaining applications of an intake.
func (q *Queries) Applications(ctx context.Context, id intake.ID) ([]intake.Application, error) {
	if _, err := q.reader.Intake(ctx, id); err != nil {
		return nil, err
	}
	return q.reader.Applications(ctx, id)
}

// IsAccepted reports whether applicant was accepted into the intake.
func (q *Queries) IsAccepted(ctx context.Context, id intake.ID, applicant shared.AccountID) (bool, error) {
	return q.reader.IsAccepted(ctx, id, applicant)
}

// LastIntake returns the most recently announced intake of institution.
func (q *Queries) LastIntake(ctx context.Context, institution shared.InstitutionID) (intake.ID, error) {
	return q.reader.LastIntake(ctx, institution)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE READ SIDE
// ══════════════════════════════════════════════════════════════════════════════

// GetIntake reads the engine's own store.
func (e *Engine) GetIntake(ctx context.Context, id intake.ID) (*intake.Info, error) {
	return e.queries.GetIntake(ctx, id)
}

// IntakeInfo implements intake.Provider.
func (e *Engine) IntakeInfo(ctx context.Context, id intake.ID) (*intake.Info, error) {
	return e.queries.IntakeInfo(ctx, id)
}

// GetApplication reads the engine's own store.
func (e *Engine) GetApplication(ctx context.Context, id intake.ID, applicant shared.AccountID) (*intake.Application, error) {
	return e.queries.GetApplication(ctx, id, applicant)
}

// Applications reads the engine's own store.
func (e *Engine) Applications(ctx context.Context, id intake.ID) ([]intake.Application, error) {
	return e.queries.Applications(ctx, id)
}

// IsAccepted reads the engine's own store.
func (e *Engine) IsAccepted(ctx context.Context, id intake.ID, applicant shared.AccountID) (bool, error) {
	return e.queries.IsAccepted(ctx, id, applicant)
}

// LastIntake reads the engine's own store.
func (e *Engine) LastIntake(ctx context.Context, institution shared.InstitutionID) (intake.ID, error) {
	return e.queries.LastIntake(ctx, institution)
}
