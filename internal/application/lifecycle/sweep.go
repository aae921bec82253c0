package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// SweepExpired closes every intake whose closing block is at or before now.
// The host calls it once per block, before any extrinsic of that block.
//
// Each drained closing-index entry is removed exactly once. An entry whose
// intake no longer exists, or is already past Ongoing, is dropped without
// effect. Only storage failures are returned; the whole sweep commits as one
// changeset.
func (e *Engine) SweepExpired(ctx context.Context, now shared.BlockNumber) ([]intake.ID, error) {
	due, err := e.store.DueForClosing(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("sweep: load closing index: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	cs := intake.NewChangeset()
	closed := make([]intake.ID, 0, len(due))
	events := make([]shared.Event, 0, len(due))

	for _, entry := range due {
		cs.UnindexClose(entry)

		info, err := e.store.Intake(ctx, entry.Intake)
		if errors.Is(err, shared.ErrNoSuchIntake) {
			e.logger.Warn("closing index points at missing intake",
				"intake", entry.Intake.String(),
				"block", entry.Block,
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sweep: load intake %s: %w", entry.Intake, err)
		}

		updated := *info
		if err := updated.Transition(now, intake.StatusClosed); err != nil {
			continue
		}

		cs.PutIntake(entry.Intake, updated)
		closed = append(closed, entry.Intake)
		events = append(events, shared.NewIntakeClosedEvent(entry.Intake.String(), now))
	}

	if err := e.commit(ctx, cs, events...); err != nil {
		return nil, fmt.Errorf("sweep: commit: %w", err)
	}

	if len(closed) > 0 {
		e.logger.Info("intakes closed", "count", len(closed), "block", now)
	}
	return closed, nil
}
