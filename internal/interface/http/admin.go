package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/edu-chain/credential-ledger/internal/infrastructure/scheduler"
	"github.com/edu-chain/credential-ledger/internal/interface/http/handlers"
	"github.com/edu-chain/credential-ledger/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Jobs is the operator view of the scheduler.
type Jobs interface {
	IsRunning() bool
	ListJobs() []scheduler.JobInfo
	GetJobInfo(name string) (*scheduler.JobInfo, error)
	GetHistory(limit int) []scheduler.JobResult
	GetMetrics() *scheduler.SchedulerMetrics
	RunNow(ctx context.Context, name string) (*scheduler.JobResult, error)
	EnableJob(name string) error
	DisableJob(name string) error
}

// Breaker is the operator view of a circuit breaker.
type Breaker interface {
	Name() string
	State() circuitbreaker.State
	Counts() circuitbreaker.Counts
	Reset()
}

var (
	_ Jobs    = (*scheduler.Scheduler)(nil)
	_ Breaker = (*circuitbreaker.CircuitBreaker)(nil)
)

// defaultHistoryLimit bounds GET /api/v1/admin/jobs/{name} history.
const defaultHistoryLimit = 20

func (s *Server) setupAdminRoutes() {
	admin := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, handlers.ChainHandler(h, s.apiKeys.Middleware))
	}

	if s.deps.Jobs != nil {
		admin("GET /api/v1/admin/jobs", s.handleListJobs)
		admin("GET /api/v1/admin/jobs/{name}", s.handleGetJob)
		admin("POST /api/v1/admin/jobs/{name}/run", s.handleRunJob)
		admin("POST /api/v1/admin/jobs/{name}/enable", s.handleToggleJob(true))
		admin("POST /api/v1/admin/jobs/{name}/disable", s.handleToggleJob(false))
	}
	if s.deps.DeadLetters != nil {
		admin("GET /api/v1/admin/dead-letters", s.handleListDeadLetters)
		admin("POST /api/v1/admin/dead-letters/pop", s.handlePopDeadLetter)
	}
	if s.deps.CacheBreaker != nil {
		admin("GET /api/v1/admin/cache/breaker", s.handleGetBreaker)
		admin("POST /api/v1/admin/cache/breaker/reset", s.handleResetBreaker)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type jobResultResponse struct {
	Job         string    `json:"job"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Manual      bool      `json:"manual"`
}

func newJobResultResponse(r scheduler.JobResult) jobResultResponse {
	resp := jobResultResponse{
		Job:         r.JobName,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.Duration.Milliseconds(),
		Success:     r.Success,
		Manual:      r.Manual,
	}
	if r.Error != nil {
		resp.Error = r.Error.Error()
	}
	return resp
}

type jobResponse struct {
	scheduler.JobInfo
	LastResult *jobResultResponse  `json:"last_result,omitempty"`
	History    []jobResultResponse `json:"history,omitempty"`
}

func newJobResponse(info scheduler.JobInfo) jobResponse {
	resp := jobResponse{JobInfo: info}
	if info.LastResult != nil {
		last := newJobResultResponse(*info.LastResult)
		resp.LastResult = &last
	}
	return resp
}

// handleListJobs handles GET /api/v1/admin/jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	infos := s.deps.Jobs.ListJobs()
	jobs := make([]jobResponse, 0, len(infos))
	for _, info := range infos {
		jobs = append(jobs, newJobResponse(info))
	}

	resp := map[string]any{
		"running": s.deps.Jobs.IsRunning(),
		"jobs":    jobs,
	}
	if m := s.deps.Jobs.GetMetrics(); m != nil {
		resp["metrics"] = m.Snapshot()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleGetJob handles GET /api/v1/admin/jobs/{name}?limit=N. History is
// shared by all jobs and filtered here, so limit bounds the scan.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, err := s.deps.Jobs.GetJobInfo(name)
	if err != nil {
		s.writeJobError(w, err)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
	}

	resp := newJobResponse(*info)
	for _, result := range s.deps.Jobs.GetHistory(limit) {
		if result.JobName == name {
			resp.History = append(resp.History, newJobResultResponse(result))
		}
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleRunJob handles POST /api/v1/admin/jobs/{name}/run. A failed run is
// reported in the result, not as a request error.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Jobs.RunNow(r.Context(), r.PathValue("name"))
	if result == nil {
		s.writeJobError(w, err)
		return
	}
	s.logger.Info("job run manually",
		"job", result.JobName,
		"success", result.Success,
		"request_id", getRequestID(r.Context()),
	)
	s.writeJSON(w, r, http.StatusOK, newJobResultResponse(*result))
}

func (s *Server) handleToggleJob(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		toggle := s.deps.Jobs.DisableJob
		if enable {
			toggle = s.deps.Jobs.EnableJob
		}
		if err := toggle(name); err != nil {
			s.writeJobError(w, err)
			return
		}
		info, err := s.deps.Jobs.GetJobInfo(name)
		if err != nil {
			s.writeJobError(w, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, newJobResponse(*info))
	}
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduler.ErrJobInProgress):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Error("job request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER & CACHE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListDeadLetters handles GET /api/v1/admin/dead-letters.
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.DeadLetters.Entries()
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handlePopDeadLetter handles POST /api/v1/admin/dead-letters/pop: it removes
// and returns the oldest entry once an operator has dealt with it.
func (s *Server) handlePopDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.deps.DeadLetters.Pop()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", "dead letter queue is empty")
		return
	}
	s.writeJSON(w, r, http.StatusOK, entry)
}

type breakerResponse struct {
	Name   string                `json:"name"`
	State  string                `json:"state"`
	Counts circuitbreaker.Counts `json:"counts"`
}

func (s *Server) breakerStatus() breakerResponse {
	b := s.deps.CacheBreaker
	return breakerResponse{Name: b.Name(), State: b.State().String(), Counts: b.Counts()}
}

// handleGetBreaker handles GET /api/v1/admin/cache/breaker.
func (s *Server) handleGetBreaker(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.breakerStatus())
}

// handleResetBreaker handles POST /api/v1/admin/cache/breaker/reset.
func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	s.deps.CacheBreaker.Reset()
	s.logger.Warn("cache breaker reset by operator", "breaker", s.deps.CacheBreaker.Name())
	s.writeJSON(w, r, http.StatusOK, s.breakerStatus())
}
