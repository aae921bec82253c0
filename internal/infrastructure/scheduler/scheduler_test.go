package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Description() string           { return "test job " + j.name }
func (j *funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func testScheduler(cfg SchedulerConfig) *Scheduler {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.EnableMetrics = true
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 5 * time.Millisecond
	}
	return NewScheduler(cfg)
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := testScheduler(SchedulerConfig{})
	job := &funcJob{name: "a", run: func(context.Context) error { return nil }}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)

	assert.ErrorIs(t, s.EnableJob("missing"), ErrJobNotFound)
	assert.ErrorIs(t, s.DisableJob("missing"), ErrJobNotFound)
	assert.Len(t, s.ListJobs(), 1)
}

func TestScheduler_RunsIntervalJobs(t *testing.T) {
	s := testScheduler(SchedulerConfig{})

	var runs atomic.Int32
	require.NoError(t, s.Register(&funcJob{name: "tick", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	info, err := s.GetJobInfo("tick")
	require.NoError(t, err)
	assert.Equal(t, int64(runs.Load()), info.RunCount)
	assert.Zero(t, info.FailCount)
	assert.Equal(t, "@every 10ms", info.Schedule)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := testScheduler(SchedulerConfig{})

	release := make(chan struct{})
	var active, maxActive, runs atomic.Int32
	require.NoError(t, s.Register(&funcJob{name: "slow", run: func(ctx context.Context) error {
		runs.Add(1)
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}, NewIntervalSchedule(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return s.GetMetrics().Snapshot().TotalSkipped >= 3
	}, 2*time.Second, 5*time.Millisecond)

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobInProgress)

	close(release)
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), maxActive.Load())
	info, err := s.GetJobInfo("slow")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.SkipCount, int64(3))
	assert.False(t, info.Running)
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := testScheduler(SchedulerConfig{JobTimeout: 20 * time.Millisecond})
	require.NoError(t, s.Register(&funcJob{name: "hang", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "hang")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.True(t, result.Manual)
	assert.GreaterOrEqual(t, result.Duration, 20*time.Millisecond)
}

func TestScheduler_ConcurrencyLimit(t *testing.T) {
	s := testScheduler(SchedulerConfig{MaxConcurrentJobs: 1})

	var active, maxActive, runs atomic.Int32
	work := func(context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		runs.Add(1)
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Register(&funcJob{name: name, run: work}, NewIntervalSchedule(5*time.Millisecond)))
	}

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 6 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestScheduler_HistoryAndHook(t *testing.T) {
	s := testScheduler(SchedulerConfig{MaxHistorySize: 2})

	var completed []string
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r.JobName) })

	failing := errors.New("boom")
	require.NoError(t, s.Register(&funcJob{name: "ok", run: func(context.Context) error { return nil }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(&funcJob{name: "bad", run: func(context.Context) error { return failing }}, NewIntervalSchedule(time.Hour)))

	ctx := context.Background()
	_, err := s.RunNow(ctx, "ok")
	require.NoError(t, err)
	_, err = s.RunNow(ctx, "bad")
	assert.ErrorIs(t, err, failing)
	_, err = s.RunNow(ctx, "ok")
	require.NoError(t, err)
	_, err = s.RunNow(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Equal(t, []string{"ok", "bad", "ok"}, completed)

	history := s.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, "bad", history[0].JobName)
	assert.Equal(t, "ok", history[1].JobName)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "bad", jobs[0].Name)
	assert.Equal(t, int64(1), jobs[0].FailCount)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(3), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalFailures)
}

func TestScheduler_DisabledJobDoesNotRun(t *testing.T) {
	s := testScheduler(SchedulerConfig{})

	var runs atomic.Int32
	require.NoError(t, s.Register(&funcJob{name: "off", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, NewIntervalSchedule(5*time.Millisecond)))
	require.NoError(t, s.DisableJob("off"))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Zero(t, runs.Load())
}

func TestIntervalSchedule_NonPositiveNeverRuns(t *testing.T) {
	now := time.Now()
	assert.True(t, NewIntervalSchedule(0).Next(now).IsZero())
	assert.Equal(t, now.Add(time.Second), NewIntervalSchedule(time.Second).Next(now))
}

func TestCronExpression_Next(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC) // Saturday

	tests := []struct {
		expr string
		want time.Time
	}{
		{EveryMinute, time.Date(2026, 3, 14, 10, 8, 0, 0, time.UTC)},
		{Every5Minutes, time.Date(2026, 3, 14, 10, 10, 0, 0, time.UTC)},
		{EveryHour, time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)},
		{"30 9 * * *", time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)},
		{"0 0 * * 1", time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)},
		{"0 12 1 * *", time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
		{"10-20/5 * * * *", time.Date(2026, 3, 14, 10, 10, 0, 0, time.UTC)},
		{"5,50 * * * *", time.Date(2026, 3, 14, 10, 50, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(base))
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"*/0 * * * *",
		"20-10 * * * *",
		"a * * * *",
	} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}
}
