package jobs

import (
	"context"
	"log/slog"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORT STATUS JOB
// ══════════════════════════════════════════════════════════════════════════════

// LedgerStatus exposes the runtime's head and queue depth.
type LedgerStatus interface {
	Head() shared.BlockNumber
	Pending() int
}

// Sizer reports a queue length, such as the dispatcher's dead letter queue.
type Sizer interface {
	Size() int
}

// StatusReport is one periodic snapshot of node progress.
type StatusReport struct {
	Head          shared.BlockNumber `json:"head"`
	BlocksSince   uint64             `json:"blocks_since"`
	Pending       int                `json:"pending"`
	DeadLetters   int                `json:"dead_letters"`
	PreviousHead  shared.BlockNumber `json:"previous_head"`
	HeadAdvancing bool               `json:"head_advancing"`
}

// ReportStatusJob logs head progress, queue depth and dead letters.
// A head that stops advancing while extrinsics are queued is logged as a warning.
type ReportStatusJob struct {
	status      LedgerStatus
	deadLetters Sizer
	logger      *slog.Logger

	seen     bool
	lastHead shared.BlockNumber
}

// NewReportStatusJob creates a status report job. deadLetters may be nil.
func NewReportStatusJob(status LedgerStatus, deadLetters Sizer, logger *slog.Logger) *ReportStatusJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportStatusJob{
		status:      status,
		deadLetters: deadLetters,
		logger:      logger.With("job", "report_status"),
	}
}

// Name returns the job name.
func (j *ReportStatusJob) Name() string {
	return "report_status"
}

// Description returns a human-readable description.
func (j *ReportStatusJob) Description() string {
	return "Logs ledger head, extrinsic queue depth and dead-lettered events"
}

// Run logs one report. The scheduler never runs it concurrently with itself.
func (j *ReportStatusJob) Run(ctx context.Context) error {
	report := j.Report()

	attrs := []any{
		"head", report.Head,
		"blocks_since", report.BlocksSince,
		"pending", report.Pending,
		"dead_letters", report.DeadLetters,
	}
	if !report.HeadAdvancing && report.Pending > 0 {
		j.logger.WarnContext(ctx, "ledger head is not advancing", attrs...)
		return nil
	}
	j.logger.InfoContext(ctx, "ledger status", attrs...)
	return nil
}

// Report takes a snapshot and remembers the head for the next one.
func (j *ReportStatusJob) Report() StatusReport {
	head := j.status.Head()
	r := StatusReport{
		Head:          head,
		Pending:       j.status.Pending(),
		PreviousHead:  j.lastHead,
		HeadAdvancing: !j.seen || head > j.lastHead,
	}
	if j.seen && head > j.lastHead {
		r.BlocksSince = uint64(head - j.lastHead)
	}
	if j.deadLetters != nil {
		r.DeadLetters = j.deadLetters.Size()
	}

	j.seen = true
	j.lastHead = head
	return r
}
