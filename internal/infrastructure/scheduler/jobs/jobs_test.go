package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/directory"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/persistence/memory"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/scheduler"
	"github.com/edu-chain/credential-ledger/internal/ledger"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRuntime(t *testing.T) *ledger.Runtime {
	t.Helper()
	dir := directory.NewStatic()
	dir.Register("uni-1", "First University", "admin-1")
	return ledger.NewRuntime(memory.NewStore(), dir, ledger.Config{Logger: discard()})
}

func TestProduceBlockJob_SealsBlocks(t *testing.T) {
	rt := newRuntime(t)
	job := NewProduceBlockJob(rt, discard())
	ctx := context.Background()

	_, err := rt.Submit(ledger.Extrinsic{
		Signer: "admin-1",
		Call: ledger.Call{
			Kind:        ledger.CallAnnounceIntake,
			Intake:      intake.NewID("uni-1", 1),
			Institution: "uni-1",
			Params: &intake.NewIntakeParams{
				ApplicationOpens:  2,
				ApplicationCloses: 3,
				MaxApplicants:     5,
				MaxAccepted:       1,
			},
		},
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, job.Run(ctx))
	}

	assert.Equal(t, int64(4), job.Produced())
	require.NotNil(t, job.LastBlock())
	assert.Equal(t, shared.BlockNumber(4), job.LastBlock().Number)
	assert.Equal(t, shared.BlockNumber(4), rt.Head())

	info, err := rt.Engine().GetIntake(ctx, intake.NewID("uni-1", 1))
	require.NoError(t, err)
	assert.Equal(t, intake.StatusClosed, info.Status)
}

type failingProducer struct{}

func (failingProducer) ProduceBlock(context.Context) (*ledger.Block, error) {
	return nil, errors.New("store offline")
}

func TestProduceBlockJob_PropagatesFailure(t *testing.T) {
	job := NewProduceBlockJob(failingProducer{}, discard())

	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "store offline")
	assert.Zero(t, job.Produced())
	assert.Nil(t, job.LastBlock())
}

type fixedStatus struct {
	head    shared.BlockNumber
	pending int
}

func (s *fixedStatus) Head() shared.BlockNumber { return s.head }
func (s *fixedStatus) Pending() int             { return s.pending }

type fixedSize int

func (s fixedSize) Size() int { return int(s) }

func TestReportStatusJob_TracksHeadProgress(t *testing.T) {
	status := &fixedStatus{head: 10}
	job := NewReportStatusJob(status, fixedSize(2), discard())

	first := job.Report()
	assert.True(t, first.HeadAdvancing)
	assert.Zero(t, first.BlocksSince)
	assert.Equal(t, 2, first.DeadLetters)

	status.head = 15
	second := job.Report()
	assert.True(t, second.HeadAdvancing)
	assert.Equal(t, uint64(5), second.BlocksSince)
	assert.Equal(t, shared.BlockNumber(10), second.PreviousHead)

	status.pending = 3
	stalled := job.Report()
	assert.False(t, stalled.HeadAdvancing)
	assert.Equal(t, 3, stalled.Pending)

	require.NoError(t, job.Run(context.Background()))
}

func TestReportStatusJob_WithoutDeadLetters(t *testing.T) {
	job := NewReportStatusJob(&fixedStatus{head: 1}, nil, discard())
	assert.Zero(t, job.Report().DeadLetters)
	assert.Equal(t, "report_status", job.Name())
}

func TestProductionMonitor(t *testing.T) {
	rt := newRuntime(t)
	job := NewProduceBlockJob(rt, discard())
	monitor := NewProductionMonitor(job, 2)
	ctx := context.Background()

	failure := scheduler.JobResult{JobName: job.Name(), Error: errors.New("store offline")}

	monitor.Observe(failure)
	assert.NoError(t, monitor.Check(ctx), "one failure stays within budget")

	monitor.Observe(scheduler.JobResult{JobName: "report_status", Error: errors.New("ignored")})
	assert.NoError(t, monitor.Check(ctx), "other jobs do not count")

	monitor.Observe(failure)
	err := monitor.Check(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no block produced")
	assert.ErrorContains(t, err, "store offline")

	require.NoError(t, job.Run(ctx))
	monitor.Observe(scheduler.JobResult{JobName: job.Name(), Success: true})
	assert.NoError(t, monitor.Check(ctx), "a sealed block resets the count")

	monitor.Observe(failure)
	monitor.Observe(failure)
	assert.ErrorContains(t, monitor.Check(ctx), "after block 1 (1 produced)")
}

func TestProductionMonitor_ThroughScheduler(t *testing.T) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: discard()})
	job := NewProduceBlockJob(failingProducer{}, discard())
	monitor := NewProductionMonitor(job, 1)
	sched.OnJobComplete(monitor.Observe)
	require.NoError(t, sched.Register(job, scheduler.NewIntervalSchedule(time.Hour)))

	_, err := sched.RunNow(context.Background(), job.Name())
	require.Error(t, err)
	assert.ErrorContains(t, monitor.Check(context.Background()), "store offline")
}
