package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/messaging"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/scheduler"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/scheduler/jobs"
	"github.com/edu-chain/credential-ledger/internal/ledger"
	"github.com/edu-chain/credential-ledger/pkg/circuitbreaker"
)

var operator = map[string]string{"X-API-Key": "secret"}

func TestServer_AdminJobs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: logger, EnableMetrics: true})

	n := newTestNode(t, func(cfg *Config, deps *Dependencies) {
		cfg.APIKeys = []string{"secret"}
		deps.Jobs = sched
	})
	produce := jobs.NewProduceBlockJob(n.runtime, logger)
	require.NoError(t, sched.Register(produce, scheduler.NewIntervalSchedule(time.Hour)))

	code, _ := n.do(t, http.MethodGet, "/api/v1/admin/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code, "admin routes need a key")

	code, resp := n.do(t, http.MethodGet, "/api/v1/admin/jobs", "", operator)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Running bool          `json:"running"`
		Jobs    []jobResponse `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.False(t, list.Running)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "produce_block", list.Jobs[0].Name)
	assert.True(t, list.Jobs[0].Enabled)

	n.submit(t, "admin-1", announceBody)
	code, resp = n.do(t, http.MethodPost, "/api/v1/admin/jobs/produce_block/run", "", operator)
	require.Equal(t, http.StatusOK, code, string(resp.Data))
	var run jobResultResponse
	require.NoError(t, json.Unmarshal(resp.Data, &run))
	assert.True(t, run.Success)
	assert.True(t, run.Manual)
	assert.Equal(t, shared.BlockNumber(1), n.runtime.Head())
	assert.Zero(t, n.runtime.Pending())

	code, resp = n.do(t, http.MethodGet, "/api/v1/admin/jobs/produce_block?limit=5", "", operator)
	require.Equal(t, http.StatusOK, code)
	var job jobResponse
	require.NoError(t, json.Unmarshal(resp.Data, &job))
	assert.Equal(t, int64(1), job.RunCount)
	require.Len(t, job.History, 1)
	require.NotNil(t, job.LastResult)
	assert.True(t, job.LastResult.Success)

	code, resp = n.do(t, http.MethodPost, "/api/v1/admin/jobs/produce_block/disable", "", operator)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &job))
	assert.False(t, job.Enabled)

	code, resp = n.do(t, http.MethodPost, "/api/v1/admin/jobs/produce_block/enable", "", operator)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &job))
	assert.True(t, job.Enabled)

	code, _ = n.do(t, http.MethodPost, "/api/v1/admin/jobs/missing/run", "", operator)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = n.do(t, http.MethodGet, "/api/v1/admin/jobs/produce_block?limit=0", "", operator)
	assert.Equal(t, http.StatusBadRequest, code)
}

type failingJob struct{}

func (failingJob) Name() string              { return "flaky" }
func (failingJob) Description() string       { return "always fails" }
func (failingJob) Run(context.Context) error { return errors.New("store offline") }

func TestServer_AdminRunReportsJobFailure(t *testing.T) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, sched.Register(failingJob{}, scheduler.NewIntervalSchedule(time.Hour)))
	n := newTestNode(t, func(_ *Config, deps *Dependencies) { deps.Jobs = sched })

	code, resp := n.do(t, http.MethodPost, "/api/v1/admin/jobs/flaky/run", "", nil)
	require.Equal(t, http.StatusOK, code)
	var run jobResultResponse
	require.NoError(t, json.Unmarshal(resp.Data, &run))
	assert.False(t, run.Success)
	assert.Equal(t, "store offline", run.Error)
}

func TestServer_AdminRoutesAbsentWithoutDependencies(t *testing.T) {
	n := newTestNode(t, nil)
	for _, path := range []string{"/api/v1/admin/jobs", "/api/v1/admin/dead-letters", "/api/v1/admin/cache/breaker"} {
		rec := httptest.NewRecorder()
		n.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestServer_AdminDeadLetters(t *testing.T) {
	dlq := messaging.NewDeadLetterQueue(10)
	n := newTestNode(t, func(_ *Config, deps *Dependencies) { deps.DeadLetters = dlq })

	dlq.Add(messaging.DeadLetterEntry{HandlerName: "audit_log", Error: "boom", Attempts: 3, FailedAt: time.Now()})
	dlq.Add(messaging.DeadLetterEntry{HandlerName: "audit_log", Error: "again", Attempts: 3, FailedAt: time.Now()})

	code, resp := n.do(t, http.MethodGet, "/api/v1/admin/dead-letters", "", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Count   int                         `json:"count"`
		Entries []messaging.DeadLetterEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, 2, list.Count)

	code, resp = n.do(t, http.MethodPost, "/api/v1/admin/dead-letters/pop", "", nil)
	require.Equal(t, http.StatusOK, code)
	var popped messaging.DeadLetterEntry
	require.NoError(t, json.Unmarshal(resp.Data, &popped))
	assert.Equal(t, "boom", popped.Error, "oldest first")
	assert.Equal(t, 1, dlq.Size())

	n.do(t, http.MethodPost, "/api/v1/admin/dead-letters/pop", "", nil)
	code, _ = n.do(t, http.MethodPost, "/api/v1/admin/dead-letters/pop", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_AdminCacheBreaker(t *testing.T) {
	breaker := circuitbreaker.New("redis-cache", circuitbreaker.WithFailureThreshold(1))
	n := newTestNode(t, func(_ *Config, deps *Dependencies) { deps.CacheBreaker = breaker })

	_ = breaker.Execute(context.Background(), func(context.Context) error { return errors.New("dial tcp: refused") })
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	code, resp := n.do(t, http.MethodGet, "/api/v1/admin/cache/breaker", "", nil)
	require.Equal(t, http.StatusOK, code)
	var status breakerResponse
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, "open", status.State)
	assert.Equal(t, 1, status.Counts.Failures)

	code, resp = n.do(t, http.MethodPost, "/api/v1/admin/cache/breaker/reset", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, "closed", status.State)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestServer_RequestTimeout(t *testing.T) {
	n := newTestNode(t, func(cfg *Config, _ *Dependencies) {
		cfg.RequestTimeout = 20 * time.Millisecond
	})
	n.server.router.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	code, resp := n.do(t, http.MethodGet, "/slow", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "timeout", resp.Error.Code)

	code, _ = n.do(t, http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

// abortedLedger reports every extrinsic as lost in an aborted block.
type abortedLedger struct {
	*ledger.Runtime
}

func (abortedLedger) ExtrinsicResult(string) (*ledger.ExtrinsicResult, shared.BlockNumber, error) {
	return nil, 4, shared.ErrBlockAborted
}

func TestServer_ExtrinsicInAbortedBlock(t *testing.T) {
	n := newTestNode(t, func(_ *Config, deps *Dependencies) {
		deps.Ledger = abortedLedger{Runtime: deps.Ledger.(*ledger.Runtime)}
	})

	code, resp := n.do(t, http.MethodGet, "/api/v1/extrinsics/some-id", "", nil)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "block_aborted", resp.Error.Code)
	assert.Equal(t, "block 4", resp.Error.Details)
}
