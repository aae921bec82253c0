// Package jobs contains the node's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/edu-chain/credential-ledger/internal/ledger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRODUCE BLOCK JOB
// ══════════════════════════════════════════════════════════════════════════════

// BlockProducer executes and seals the next block.
type BlockProducer interface {
	ProduceBlock(ctx context.Context) (*ledger.Block, error)
}

// ProduceBlockJob produces one block per run. Scheduled on the block interval.
type ProduceBlockJob struct {
	producer BlockProducer
	logger   *slog.Logger

	produced atomic.Int64
	last     atomic.Pointer[ledger.Block]
}

// NewProduceBlockJob creates a block production job.
func NewProduceBlockJob(producer BlockProducer, logger *slog.Logger) *ProduceBlockJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProduceBlockJob{
		producer: producer,
		logger:   logger.With("job", "produce_block"),
	}
}

// Name returns the job name.
func (j *ProduceBlockJob) Name() string {
	return "produce_block"
}

// Description returns a human-readable description.
func (j *ProduceBlockJob) Description() string {
	return "Runs the expiry sweep and dispatches queued extrinsics into a new block"
}

// Run produces one block.
func (j *ProduceBlockJob) Run(ctx context.Context) error {
	block, err := j.producer.ProduceBlock(ctx)
	if err != nil {
		return fmt.Errorf("produce block: %w", err)
	}

	j.produced.Add(1)
	j.last.Store(block)

	failed := 0
	for _, x := range block.Extrinsics {
		if !x.Success {
			failed++
		}
	}

	if len(block.Extrinsics) > 0 || len(block.Closed) > 0 {
		j.logger.Info("block sealed",
			"block", block.Number,
			"hash", block.Hash.String(),
			"extrinsics", len(block.Extrinsics),
			"failed", failed,
			"closed", len(block.Closed),
		)
	}
	return nil
}

// Produced returns the number of blocks this job has sealed.
func (j *ProduceBlockJob) Produced() int64 {
	return j.produced.Load()
}

// LastBlock returns the last block this job sealed, or nil.
func (j *ProduceBlockJob) LastBlock() *ledger.Block {
	return j.last.Load()
}
