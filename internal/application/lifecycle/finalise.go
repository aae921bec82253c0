package lifecycle

import (
	"context"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// FinaliseIntake moves a Closed intake to Finalised and purges every
// remaining application. Acceptance markers live in a separate store and
// stay queryable.
func (e *Engine) FinaliseIntake(ctx context.Context, caller shared.AccountID, id intake.ID) error {
	const op = "FinaliseIntake"

	if err := e.ensureInstitutionAdmin(ctx, caller, id.Institution); err != nil {
		return e.reject(op, id, caller, err)
	}

	now := e.now()

	info, err := e.store.Intake(ctx, id)
	if err != nil {
		return e.reject(op, id, caller, err)
	}
	if info.EffectiveStatus(now) != intake.StatusClosed {
		return e.reject(op, id, caller, shared.ErrIntakeNotClosed)
	}

	remaining, err := e.store.Applications(ctx, id)
	if err != nil {
		return err
	}

	updated := *info
	if err := updated.Transition(now, intake.StatusFinalised); err != nil {
		return err
	}

	cs := intake.NewChangeset().
		PutIntake(id, updated).
		PurgeApplicationsOf(id)

	event := shared.NewIntakeFinalisedEvent(id.String(), len(remaining), now)
	event.BaseEvent = event.WithCorrelationID(correlationID(ctx))

	if err := e.commit(ctx, cs, event); err != nil {
		return err
	}

	e.logger.Info("intake finalised",
		"intake", id.String(),
		"purged_applications", len(remaining),
		"block", now,
	)
	return nil
}
