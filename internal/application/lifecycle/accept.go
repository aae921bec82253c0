package lifecycle

import (
	"context"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// AcceptApplication records applicant as accepted. The intake must be Closed:
// Pending or Ongoing yields ErrIntakeOngoing, Finalised yields ErrIntakeNotClosed.
func (e *Engine) AcceptApplication(ctx context.Context, caller shared.AccountID, id intake.ID, applicant shared.AccountID) error {
	const op = "AcceptApplication"

	if err := e.ensureInstitutionAdmin(ctx, caller, id.Institution); err != nil {
		return e.reject(op, id, caller, err)
	}

	now := e.now()

	info, err := e.store.Intake(ctx, id)
	if err != nil {
		return e.reject(op, id, caller, err)
	}
	switch status := info.EffectiveStatus(now); {
	case status == intake.StatusClosed:
	case status.IsTerminal():
		return e.reject(op, id, caller, shared.ErrIntakeNotClosed)
	default:
		return e.reject(op, id, caller, shared.ErrIntakeOngoing)
	}

	if _, err := e.store.Application(ctx, id, applicant); err != nil {
		return e.reject(op, id, caller, err)
	}

	accepted, err := e.store.IsAccepted(ctx, id, applicant)
	if err != nil {
		return err
	}
	if accepted {
		return e.reject(op, id, caller, shared.ErrDuplicateAcceptance)
	}

	if e.enforceAcceptanceCap {
		count, err := e.store.AcceptedCount(ctx, id)
		if err != nil {
			return err
		}
		if count >= int(info.MaxAccepted) {
			return e.reject(op, id, caller, shared.ErrAcceptanceLimitReached)
		}
	}

	cs := intake.NewChangeset().Accept(id, applicant)

	event := shared.NewApplicationAcceptedEvent(id.String(), applicant, now)
	event.BaseEvent = event.WithCorrelationID(correlationID(ctx))

	if err := e.commit(ctx, cs, event); err != nil {
		return err
	}

	e.logger.Info("application accepted",
		"intake", id.String(),
		"applicant", applicant.String(),
		"block", now,
	)
	return nil
}
