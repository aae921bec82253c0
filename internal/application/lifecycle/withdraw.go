package lifecycle

import (
	"context"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// WithdrawApplication removes caller's application. Only allowed while the
// intake is still accepting applications.
func (e *Engine) WithdrawApplication(ctx context.Context, caller shared.AccountID, id intake.ID) error {
	const op = "WithdrawApplication"

	if caller.IsEmpty() {
		return e.reject(op, id, caller, shared.ErrInsufficientPermission)
	}

	if _, err := e.store.Application(ctx, id, caller); err != nil {
		return e.reject(op, id, caller, err)
	}

	now := e.now()

	info, err := e.store.Intake(ctx, id)
	if err != nil {
		return e.reject(op, id, caller, err)
	}
	if !info.AcceptsApplications(now) {
		return e.reject(op, id, caller, shared.ErrIntakeClosed)
	}

	cs := intake.NewChangeset().DeleteApplication(id, caller)

	event := shared.NewApplicationWithdrawnEvent(id.String(), caller, now)
	event.BaseEvent = event.WithCorrelationID(correlationID(ctx))

	if err := e.commit(ctx, cs, event); err != nil {
		return err
	}

	e.logger.Info("application withdrawn",
		"intake", id.String(),
		"applicant", caller.String(),
		"block", now,
	)
	return nil
}
