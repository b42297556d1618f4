package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dshills/optisweep-go/sweep"
	"github.com/dshills/optisweep-go/sweep/emit"
)

const (
	headerSharedSecret = "x-opt-shared-secret"
	headerOwnerID      = "x-owner-id"
)

// Server is the HTTP adapter over a sweep.Core.
//
// Routes:
//
//	POST /internal/optimizations             create job
//	GET  /internal/optimizations             list owner's jobs (?limit)
//	GET  /internal/optimizations/{id}        snapshot
//	GET  /internal/optimizations/{id}/status status report
//	POST /internal/optimizations/{id}/cancel cancel
//	POST /internal/optimizations/{id}/export Top-N bundle
//	GET  /internal/health                    liveness
//
// Error responses always carry {"detail":{"code","message","details"}}.
type Server struct {
	core    *sweep.Core
	cfg     ServerConfig
	logger  *emit.Logger
	limiter *ownerLimiter
	mux     *http.ServeMux
}

// NewServer wires the adapter. logger may be nil.
func NewServer(core *sweep.Core, cfg ServerConfig, logger *emit.Logger) *Server {
	cfg = cfg.sanitize()
	s := &Server{core: core, cfg: cfg, logger: logger}
	if cfg.RateLimit.Enabled {
		s.limiter = newOwnerLimiter(cfg.RateLimit)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal/optimizations", s.handleCreate)
	mux.HandleFunc("GET /internal/optimizations", s.handleList)
	mux.HandleFunc("GET /internal/optimizations/{id}", s.handleSnapshot)
	mux.HandleFunc("GET /internal/optimizations/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /internal/optimizations/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /internal/optimizations/{id}/export", s.handleExport)
	mux.HandleFunc("GET /internal/health", s.handleHealth)
	s.mux = mux
	return s
}

// ServeHTTP applies the gates (panic guard, shared secret, rate limit) before
// routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			writeError(w, sweep.NewError(sweep.CodeInternal, "internal error", nil))
		}
	}()

	if s.cfg.SharedSecret != "" && r.Header.Get(headerSharedSecret) != s.cfg.SharedSecret {
		writeError(w, sweep.NewError(sweep.CodeForbidden, "invalid shared secret", nil))
		return
	}
	if s.limiter != nil {
		key := r.Header.Get(headerOwnerID) + ":" + r.URL.Path + ":" + r.Method
		if ok, resetAt := s.limiter.allow(key); !ok {
			writeError(w, sweep.NewError(sweep.CodeRateLimited, "rate limit exceeded", map[string]any{
				"resetAt": resetAt.UTC().Format(time.RFC3339),
			}))
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

type createRequest struct {
	OwnerID          string                 `json:"ownerId"`
	VersionID        string                 `json:"versionId"`
	ParamSpace       sweep.ParamSpace       `json:"paramSpace"`
	ConcurrencyLimit int                    `json:"concurrencyLimit"`
	EarlyStopPolicy  *sweep.EarlyStopPolicy `json:"earlyStopPolicy"`
	Estimate         int                    `json:"estimate"`
	SourceJobID      string                 `json:"sourceJobId"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, sweep.NewError(sweep.CodeParamInvalid, "invalid request body", map[string]any{
			"error": err.Error(),
		}))
		return
	}
	if req.OwnerID != "" && req.OwnerID != ownerID {
		writeError(w, sweep.NewError(sweep.CodeForbidden, "ownerId does not match x-owner-id header", nil))
		return
	}
	if req.VersionID == "" {
		writeError(w, sweep.NewError(sweep.CodeParamInvalid, "versionId is required", nil))
		return
	}

	receipt, err := s.core.CreateJob(r.Context(), sweep.CreateRequest{
		OwnerID:          ownerID,
		VersionID:        req.VersionID,
		ParamSpace:       req.ParamSpace,
		ConcurrencyLimit: req.ConcurrencyLimit,
		EarlyStopPolicy:  req.EarlyStopPolicy,
		Estimate:         req.Estimate,
		SourceJobID:      req.SourceJobID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Enqueue(receipt.ID, ownerID)
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, sweep.NewError(sweep.CodeParamInvalid, "limit must be an integer", map[string]any{
				"limit": raw,
			}))
			return
		}
		limit = parsed
	}
	snapshots, err := s.core.ListJobs(r.Context(), ownerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	snapshot, err := s.core.JobSnapshot(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	report, err := s.core.JobStatus(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		// Cancel takes an optional body; decode failures mean no reason.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	report, err := s.core.CancelJob(r.Context(), r.PathValue("id"), ownerID, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	bundle, err := s.core.ExportTopN(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("health probe", map[string]any{"path": r.URL.Path})
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "optimizer",
		"status":  "up",
		"details": map[string]string{"worker": "unknown", "queue": "unknown"},
		"ts":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := r.Header.Get(headerOwnerID)
	if ownerID == "" {
		writeError(w, sweep.NewError(sweep.CodeParamInvalid, "x-owner-id header is required", nil))
		return "", false
	}
	return ownerID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError shapes any error into the {"detail":{...}} body. Errors without
// a sweep code become 500 E.INTERNAL without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	se, ok := sweep.AsError(err)
	if !ok {
		se = sweep.NewError(sweep.CodeInternal, "internal error", nil)
	}
	detail := map[string]any{
		"code":    se.Code,
		"message": se.Message,
	}
	if se.Details != nil {
		detail["details"] = se.Details
	}
	writeJSON(w, se.HTTPStatus(), map[string]any{"detail": detail})
}
