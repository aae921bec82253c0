package lifecycle

import (
	"context"
	"errors"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// AnnounceIntake opens a new admission window for institution.
//
// Checks, in order: caller is the institution administrator, the intake id is
// unused, and the window and capacity bounds are valid. The initial status is
// Ongoing when the current block has reached ApplicationOpens, Pending otherwise.
func (e *Engine) AnnounceIntake(
	ctx context.Context,
	caller shared.AccountID,
	id intake.ID,
	institution shared.InstitutionID,
	params intake.NewIntakeParams,
) error {
	const op = "AnnounceIntake"

	if err := e.ensureInstitutionAdmin(ctx, caller, institution); err != nil {
		return e.reject(op, id, caller, err)
	}

	_, err := e.store.Intake(ctx, id)
	switch {
	case err == nil:
		return e.reject(op, id, caller, shared.ErrIntakeAlreadyExists)
	case !errors.Is(err, shared.ErrNoSuchIntake):
		return err
	}

	if err := e.validateParams(id, institution, params); err != nil {
		return e.reject(op, id, caller, err)
	}

	now := e.now()
	info := intake.NewInfo(params, now)

	cs := intake.NewChangeset().
		PutIntake(id, info).
		IndexClose(info.ApplicationCloses, id).
		SetLastIntake(institution, id)

	event := shared.NewIntakeAnnouncedEvent(id.String(), id.Institution, id.Index, now)
	event.BaseEvent = event.WithCorrelationID(correlationID(ctx))

	if err := e.commit(ctx, cs, event); err != nil {
		return err
	}

	e.logger.Info("intake announced",
		"intake", id.String(),
		"status", info.Status,
		"opens", info.ApplicationOpens,
		"closes", info.ApplicationCloses,
		"block", now,
	)
	return nil
}

func (e *Engine) validateParams(id intake.ID, institution shared.InstitutionID, params intake.NewIntakeParams) error {
	if id.Institution != institution {
		return shared.WrapError("intake", "AnnounceIntake", shared.ErrInvalidParameter,
			"intake id belongs to another institution", nil)
	}
	if err := e.validate.Struct(params); err != nil {
		return shared.WrapError("intake", "AnnounceIntake", shared.ErrInvalidParameter,
			"window or capacity bounds are invalid", err)
	}
	return nil
}
