package lifecycle

import (
	"context"
	"errors"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// ApplyForIntake submits caller's application to an ongoing intake.
//
// The applicant is always the caller; a non-empty Applicant that differs is
// refused. AppliedOn is stamped with the current block and any value in the
// input is ignored.
func (e *Engine) ApplyForIntake(ctx context.Context, caller shared.AccountID, id intake.ID, application intake.Application) error {
	const op = "ApplyForIntake"

	if caller.IsEmpty() {
		return e.reject(op, id, caller, shared.ErrInsufficientPermission)
	}
	if !application.Applicant.IsEmpty() && application.Applicant != caller {
		return e.reject(op, id, caller, shared.ErrInsufficientPermission)
	}

	now := e.now()

	info, err := e.store.Intake(ctx, id)
	if err != nil {
		return e.reject(op, id, caller, err)
	}
	if !info.AcceptsApplications(now) {
		return e.reject(op, id, caller, shared.ErrIntakeClosed)
	}

	_, err = e.store.Application(ctx, id, caller)
	switch {
	case err == nil:
		return e.reject(op, id, caller, shared.ErrDuplicateApplication)
	case !errors.Is(err, shared.ErrNoSuchApplication):
		return err
	}
	if !application.Document.IsValid() {
		return e.reject(op, id, caller, shared.WrapError("intake", op, shared.ErrInvalidParameter,
			"document reference exceeds maximum length", nil))
	}

	app := intake.NewApplication(caller, application.Document, now)
	cs := intake.NewChangeset().PutApplication(id, app)

	event := shared.NewApplicationSubmittedEvent(id.String(), caller, now)
	event.BaseEvent = event.WithCorrelationID(correlationID(ctx))

	if err := e.commit(ctx, cs, event); err != nil {
		return err
	}

	e.logger.Info("application submitted",
		"intake", id.String(),
		"applicant", caller.String(),
		"block", now,
	)
	return nil
}
