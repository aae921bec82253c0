package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/messaging"
	"github.com/edu-chain/credential-ledger/internal/interface/http/handlers"
	"github.com/edu-chain/credential-ledger/internal/ledger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type healthResponse struct {
	handlers.HealthStatus
	Ledger      ledgerStatus                       `json:"ledger"`
	Events      *messaging.EventBusMetricsSnapshot `json:"events,omitempty"`
	DeadLetters int                                `json:"dead_letters"`
}

type ledgerStatus struct {
	Head    shared.BlockNumber `json:"head"`
	Pending int                `json:"pending"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checker := s.deps.HealthChecker
	if checker == nil {
		checker = handlers.NewCompositeHealthChecker(s.deps.Version)
	}

	resp := healthResponse{HealthStatus: checker.Check(r.Context())}
	if s.deps.Ledger != nil {
		resp.Ledger = ledgerStatus{Head: s.deps.Ledger.Head(), Pending: s.deps.Ledger.Pending()}
	}
	if s.deps.EventMetrics != nil {
		snap := s.deps.EventMetrics.Snapshot()
		resp.Events = &snap
	}
	if s.deps.DeadLetters != nil {
		resp.DeadLetters = s.deps.DeadLetters.Size()
	}

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, status, resp)
}

// handleReady handles the readiness check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness check.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// INTAKE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type intakeResponse struct {
	ID string `json:"id"`
	intake.Info
}

type applicationResponse struct {
	Intake      string              `json:"intake"`
	Applicant   shared.AccountID    `json:"applicant"`
	Accepted    bool                `json:"accepted"`
	Application *intake.Application `json:"application,omitempty"`
}

// handleGetIntake handles GET /api/v1/intakes/{institution}/{index}.
func (s *Server) handleGetIntake(w http.ResponseWriter, r *http.Request) {
	id, ok := s.intakeID(w, r)
	if !ok {
		return
	}

	info, err := s.deps.Intakes.GetIntake(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, intakeResponse{ID: id.String(), Info: *info})
}

// handleListApplications handles GET /api/v1/intakes/{institution}/{index}/applications.
func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	id, ok := s.intakeID(w, r)
	if !ok {
		return
	}

	apps, err := s.deps.Intakes.Applications(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"intake":       id.String(),
		"applications": apps,
		"count":        len(apps),
	})
}

// handleGetApplication handles
// GET /api/v1/intakes/{institution}/{index}/applications/{applicant}.
// Applications are purged on finalisation; acceptances are not, so an
// accepted applicant of a finalised intake is reported without an application.
func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := s.intakeID(w, r)
	if !ok {
		return
	}
	applicant := shared.AccountID(r.PathValue("applicant"))
	ctx := r.Context()

	if _, err := s.deps.Intakes.GetIntake(ctx, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	accepted, err := s.deps.Intakes.IsAccepted(ctx, id, applicant)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	app, err := s.deps.Intakes.GetApplication(ctx, id, applicant)
	switch {
	case errors.Is(err, shared.ErrNoSuchApplication) && accepted:
		app = nil
	case err != nil:
		s.writeDomainError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, applicationResponse{
		Intake:      id.String(),
		Applicant:   applicant,
		Accepted:    accepted,
		Application: app,
	})
}

// handleLastIntake handles GET /api/v1/institutions/{institution}/last-intake.
func (s *Server) handleLastIntake(w http.ResponseWriter, r *http.Request) {
	institution := shared.InstitutionID(r.PathValue("institution"))
	if !institution.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid institution id")
		return
	}

	id, err := s.deps.Intakes.LastIntake(r.Context(), institution)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	info, err := s.deps.Intakes.GetIntake(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, intakeResponse{ID: id.String(), Info: *info})
}

func (s *Server) intakeID(w http.ResponseWriter, r *http.Request) (intake.ID, bool) {
	id, err := intake.ParseID(r.PathValue("institution") + "/" + r.PathValue("index"))
	if err != nil {
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_request",
			"intake must be an institution id and an unsigned 32-bit index", err.Error())
		return intake.ID{}, false
	}
	return id, true
}

// ══════════════════════════════════════════════════════════════════════════════
// BLOCK & EXTRINSIC HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleLatestBlock handles GET /api/v1/blocks/latest.
func (s *Server) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.deps.Ledger.LatestBlock()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, block)
}

// handleGetBlock handles GET /api/v1/blocks/{number}.
func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	number, err := shared.ParseBlockNumber(r.PathValue("number"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "block number must be an unsigned integer")
		return
	}

	block, err := s.deps.Ledger.Block(number)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, block)
}

type submitExtrinsicRequest struct {
	Call ledger.Call `json:"call"`
}

// handleSubmitExtrinsic handles POST /api/v1/extrinsics. The signer comes
// from the account header, never from the body.
func (s *Server) handleSubmitExtrinsic(w http.ResponseWriter, r *http.Request) {
	signer := shared.AccountID(r.Header.Get(s.config.AccountHeader))
	if signer.IsEmpty() {
		s.writeDomainError(w, r, shared.ErrUnsignedOrigin)
		return
	}

	var req submitExtrinsicRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return
		}
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_request", "malformed extrinsic body", err.Error())
		return
	}

	receipt, err := s.deps.Ledger.Submit(ledger.Extrinsic{Signer: signer, Call: req.Call})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Debug("extrinsic queued",
		"extrinsic_id", receipt.ID,
		"kind", req.Call.Kind,
		"signer", signer,
		"target_block", receipt.TargetBlock,
	)
	s.writeJSON(w, r, http.StatusAccepted, receipt)
}

type extrinsicResponse struct {
	Block shared.BlockNumber `json:"block"`
	*ledger.ExtrinsicResult
}

// handleGetExtrinsic handles GET /api/v1/extrinsics/{id}.
func (s *Server) handleGetExtrinsic(w http.ResponseWriter, r *http.Request) {
	result, number, err := s.deps.Ledger.ExtrinsicResult(r.PathValue("id"))
	if errors.Is(err, shared.ErrBlockAborted) {
		writeJSONErrorWithDetails(w, http.StatusConflict, "block_aborted", err.Error(), "block "+number.String())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "extrinsic is pending, unknown, or no longer in history")
		return
	}
	s.writeJSON(w, r, http.StatusOK, extrinsicResponse{Block: number, ExtrinsicResult: result})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// errorStatus maps a domain error kind to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unsigned_origin"
	case shared.IsForbidden(err):
		return http.StatusForbidden, "forbidden"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsAlreadyExists(err), shared.IsInvalidState(err):
		return http.StatusConflict, "conflict"
	case shared.IsUnavailable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", getRequestID(r.Context()),
			"error", err,
		)
		if status == http.StatusInternalServerError {
			writeJSONError(w, status, code, "An unexpected error occurred")
			return
		}
	}
	kind := ledger.ErrorKind(err)
	if kind == "Other" {
		kind = ""
	}
	writeJSONErrorWithDetails(w, status, code, err.Error(), kind)
}
