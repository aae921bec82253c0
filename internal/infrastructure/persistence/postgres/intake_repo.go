package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/pkg/retry"
)

// IntakeRepository implements intake.Store for PostgreSQL.
type IntakeRepository struct {
	conn *Connection
}

// NewIntakeRepository creates a new IntakeRepository.
func NewIntakeRepository(conn *Connection) *IntakeRepository {
	return &IntakeRepository{conn: conn}
}

var _ intake.Store = (*IntakeRepository)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Intake returns stored intake metadata.
func (r *IntakeRepository) Intake(ctx context.Context, id intake.ID) (*intake.Info, error) {
	query := `
		SELECT application_opens, application_closes, max_applicants, max_accepted, status
		FROM intakes
		WHERE institution = $1 AND intake_index = $2
	`

	var info intake.Info
	var opens, closes, maxApplicants, maxAccepted int64
	var status string

	err := r.conn.QueryRow(ctx, query, string(id.Institution), int64(id.Index)).
		Scan(&opens, &closes, &maxApplicants, &maxAccepted, &status)
	if IsNoRows(err) {
		return nil, shared.ErrNoSuchIntake
	}
	if err != nil {
		return nil, storageError("Intake", err)
	}

	info.ApplicationOpens = shared.BlockNumber(opens)
	info.ApplicationCloses = shared.BlockNumber(closes)
	info.MaxApplicants = uint32(maxApplicants)
	info.MaxAccepted = uint32(maxAccepted)
	info.Status = intake.Status(status)

	return &info, nil
}

// Application returns one applicant's application.
func (r *IntakeRepository) Application(ctx context.Context, id intake.ID, applicant shared.AccountID) (*intake.Application, error) {
	query := `
		SELECT applicant, applied_on, document
		FROM applications
		WHERE institution = $1 AND intake_index = $2 AND applicant = $3
	`

	app, err := scanApplication(r.conn.QueryRow(ctx, query, string(id.Institution), int64(id.Index), string(applicant)))
	if IsNoRows(err) {
		return nil, shared.ErrNoSuchApplication
	}
	if err != nil {
		return nil, storageError("Application", err)
	}
	return app, nil
}

// Applications returns every remaining application of an intake, ordered by applicant.
func (r *IntakeRepository) Applications(ctx context.Context, id intake.ID) ([]intake.Application, error) {
	query := `
		SELECT applicant, applied_on, document
		FROM applications
		WHERE institution = $1 AND intake_index = $2
		ORDER BY applicant
	`

	rows, err := r.conn.Query(ctx, query, string(id.Institution), int64(id.Index))
	if err != nil {
		return nil, storageError("Applications", err)
	}
	defer rows.Close()

	apps := []intake.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, storageError("Applications", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("Applications", err)
	}

	return apps, nil
}

// IsAccepted reports whether the applicant holds an acceptance mark.
func (r *IntakeRepository) IsAccepted(ctx context.Context, id intake.ID, applicant shared.AccountID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM acceptances
			WHERE institution = $1 AND intake_index = $2 AND applicant = $3
		)
	`

	var exists bool
	err := r.conn.QueryRow(ctx, query, string(id.Institution), int64(id.Index), string(applicant)).Scan(&exists)
	if err != nil {
		return false, storageError("IsAccepted", err)
	}
	return exists, nil
}

// AcceptedCount returns the number of acceptance marks of an intake.
func (r *IntakeRepository) AcceptedCount(ctx context.Context, id intake.ID) (int, error) {
	query := `SELECT COUNT(*) FROM acceptances WHERE institution = $1 AND intake_index = $2`

	var count int
	err := r.conn.QueryRow(ctx, query, string(id.Institution), int64(id.Index)).Scan(&count)
	if err != nil {
		return 0, storageError("AcceptedCount", err)
	}
	return count, nil
}

// LastIntake returns the institution's most recently announced intake.
func (r *IntakeRepository) LastIntake(ctx context.Context, institution shared.InstitutionID) (intake.ID, error) {
	query := `SELECT intake_index FROM last_intakes WHERE institution = $1`

	var index int64
	err := r.conn.QueryRow(ctx, query, string(institution)).Scan(&index)
	if IsNoRows(err) {
		return intake.ID{}, shared.ErrNoSuchIntake
	}
	if err != nil {
		return intake.ID{}, storageError("LastIntake", err)
	}
	return intake.NewID(institution, uint32(index)), nil
}

// DueForClosing returns closing index entries up to and including upTo.
func (r *IntakeRepository) DueForClosing(ctx context.Context, upTo shared.BlockNumber) ([]intake.ClosingEntry, error) {
	query := `
		SELECT block, institution, intake_index
		FROM intake_closing
		WHERE block <= $1
		ORDER BY block, institution, intake_index
	`

	rows, err := r.conn.Query(ctx, query, int64(upTo))
	if err != nil {
		return nil, storageError("DueForClosing", err)
	}
	defer rows.Close()

	var entries []intake.ClosingEntry
	for rows.Next() {
		var block, index int64
		var institution string
		if err := rows.Scan(&block, &institution, &index); err != nil {
			return nil, storageError("DueForClosing", err)
		}
		entries = append(entries, intake.ClosingEntry{
			Block:  shared.BlockNumber(block),
			Intake: intake.NewID(shared.InstitutionID(institution), uint32(index)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("DueForClosing", err)
	}

	return entries, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Commit
// ─────────────────────────────────────────────────────────────────────────────

// Commit applies the changeset in one transaction. Statements are queued in
// a single batch in the changeset's group order. A transaction that loses a
// serialization conflict is re-run from scratch.
func (r *IntakeRepository) Commit(ctx context.Context, cs *intake.Changeset) error {
	if cs.IsEmpty() {
		return nil
	}

	err := retry.Commit().Do(ctx, func(ctx context.Context) error {
		batch := buildBatch(cs)
		return classifyCommit(r.conn.WithTx(ctx, CommitTxOptions(), func(tx pgx.Tx) error {
			results := tx.SendBatch(ctx, batch)
			for i := 0; i < batch.Len(); i++ {
				if _, err := results.Exec(); err != nil {
					_ = results.Close()
					return fmt.Errorf("statement %d: %w", i, err)
				}
			}
			return results.Close()
		}))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shared.ErrDuplicateAcceptance):
		return err
	default:
		return storageError("Commit", err)
	}
}

// classifyCommit marks serialization conflicts for retry and reports an
// acceptance already on record as ErrDuplicateAcceptance. Acceptances are the
// only plain inserts in a changeset, so no other statement can violate a key.
func classifyCommit(err error) error {
	switch {
	case err == nil:
		return nil
	case IsSerializationFailure(err):
		return retry.Transient(err)
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %w", shared.ErrDuplicateAcceptance, err)
	default:
		return err
	}
}

func buildBatch(cs *intake.Changeset) *pgx.Batch {
	batch := &pgx.Batch{}

	for _, rec := range cs.Intakes {
		batch.Queue(`
			INSERT INTO intakes (
				institution, intake_index, application_opens, application_closes,
				max_applicants, max_accepted, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (institution, intake_index) DO UPDATE SET
				application_opens = EXCLUDED.application_opens,
				application_closes = EXCLUDED.application_closes,
				max_applicants = EXCLUDED.max_applicants,
				max_accepted = EXCLUDED.max_accepted,
				status = EXCLUDED.status
		`,
			string(rec.ID.Institution),
			int64(rec.ID.Index),
			int64(rec.Info.ApplicationOpens),
			int64(rec.Info.ApplicationCloses),
			int64(rec.Info.MaxApplicants),
			int64(rec.Info.MaxAccepted),
			string(rec.Info.Status),
		)
	}

	for _, e := range cs.IndexClosing {
		batch.Queue(`
			INSERT INTO intake_closing (block, institution, intake_index)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, int64(e.Block), string(e.Intake.Institution), int64(e.Intake.Index))
	}

	for _, e := range cs.UnindexClosing {
		batch.Queue(`
			DELETE FROM intake_closing
			WHERE block = $1 AND institution = $2 AND intake_index = $3
		`, int64(e.Block), string(e.Intake.Institution), int64(e.Intake.Index))
	}

	for _, rec := range cs.LastIntakes {
		batch.Queue(`
			INSERT INTO last_intakes (institution, intake_index)
			VALUES ($1, $2)
			ON CONFLICT (institution) DO UPDATE SET intake_index = EXCLUDED.intake_index
		`, string(rec.Institution), int64(rec.Intake.Index))
	}

	for _, rec := range cs.PutApplications {
		batch.Queue(`
			INSERT INTO applications (institution, intake_index, applicant, applied_on, document)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (institution, intake_index, applicant) DO UPDATE SET
				applied_on = EXCLUDED.applied_on,
				document = EXCLUDED.document
		`,
			string(rec.Intake.Institution),
			int64(rec.Intake.Index),
			string(rec.Application.Applicant),
			int64(rec.Application.AppliedOn),
			string(rec.Application.Document),
		)
	}

	for _, k := range cs.DeleteApplications {
		batch.Queue(`
			DELETE FROM applications
			WHERE institution = $1 AND intake_index = $2 AND applicant = $3
		`, string(k.Intake.Institution), int64(k.Intake.Index), string(k.Applicant))
	}

	for _, id := range cs.PurgeApplications {
		batch.Queue(`
			DELETE FROM applications WHERE institution = $1 AND intake_index = $2
		`, string(id.Institution), int64(id.Index))
	}

	for _, k := range cs.Accepted {
		batch.Queue(`
			INSERT INTO acceptances (institution, intake_index, applicant)
			VALUES ($1, $2, $3)
		`, string(k.Intake.Institution), int64(k.Intake.Index), string(k.Applicant))
	}

	return batch
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanApplication scans a single application from a row.
func scanApplication(row pgx.Row) (*intake.Application, error) {
	var applicant, document string
	var appliedOn int64

	if err := row.Scan(&applicant, &appliedOn, &document); err != nil {
		return nil, err
	}

	return &intake.Application{
		Applicant: shared.AccountID(applicant),
		AppliedOn: shared.BlockNumber(appliedOn),
		Document:  shared.DocumentRef(document),
	}, nil
}

func storageError(op string, err error) error {
	return shared.WrapError("postgres", op, shared.ErrStorage, "query failed", err)
}
