package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/edu-chain/credential-ledger/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRODUCTION MONITOR
// ══════════════════════════════════════════════════════════════════════════════

// ProductionMonitor turns produce_block results into a health check. Register
// Observe with Scheduler.OnJobComplete so manual and timed-out runs count too.
type ProductionMonitor struct {
	job         *ProduceBlockJob
	maxFailures int

	mu          sync.Mutex
	consecutive int
	lastErr     error
}

// NewProductionMonitor reports unhealthy after maxFailures failed runs in a row.
func NewProductionMonitor(job *ProduceBlockJob, maxFailures int) *ProductionMonitor {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &ProductionMonitor{job: job, maxFailures: maxFailures}
}

// Observe records a job result. Results of other jobs are ignored.
func (m *ProductionMonitor) Observe(result scheduler.JobResult) {
	if result.JobName != m.job.Name() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if result.Success {
		m.consecutive = 0
		m.lastErr = nil
		return
	}
	m.consecutive++
	m.lastErr = result.Error
}

// Check is a health check func.
func (m *ProductionMonitor) Check(ctx context.Context) error {
	m.mu.Lock()
	consecutive, lastErr := m.consecutive, m.lastErr
	m.mu.Unlock()

	if consecutive < m.maxFailures {
		return nil
	}
	if last := m.job.LastBlock(); last != nil {
		return fmt.Errorf("%d consecutive failures after block %d (%d produced): %w",
			consecutive, last.Number, m.job.Produced(), lastErr)
	}
	return fmt.Errorf("%d consecutive failures, no block produced: %w", consecutive, lastErr)
}
