package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"report-pipeline/internal/artifact"
	"report-pipeline/internal/config"
	"report-pipeline/internal/download"
	"report-pipeline/internal/models"
	"report-pipeline/internal/orchestrator"
	"report-pipeline/internal/queue"
	"report-pipeline/internal/ratelimit"
	"report-pipeline/internal/report"
	"report-pipeline/internal/store"
	"report-pipeline/internal/telemetry"
)

// Server wires the HTTP surface: report submission, job status, downloads,
// the public redirect, and operational endpoints. Auth-principal extraction
// is out of scope; owner and scope arrive as headers.
type Server struct {
	cfg       config.Config
	store     *store.Store
	orch      *orchestrator.Orchestrator
	downloads *download.Service
	artifacts artifact.Store
	queue     *queue.DispatchQueue
	limiter   *ratelimit.TokenBucket
	logger    zerolog.Logger
}

func New(cfg config.Config, st *store.Store, orch *orchestrator.Orchestrator, downloads *download.Service,
	artifacts artifact.Store, q *queue.DispatchQueue, limiter *ratelimit.TokenBucket, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		orch:      orch,
		downloads: downloads,
		artifacts: artifacts,
		queue:     q,
		limiter:   limiter,
		logger:    logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/reports", s.handleSubmit)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/download", s.handleDirectDownload)
	r.Get("/r/{token}", s.handleRedirect)
	r.Put("/thresholds/{reportType}", s.handleUpsertThreshold)
	r.Get("/dlq", s.handleDLQ)
	return r
}

type submitRequest struct {
	ReportType string          `json:"report_type"`
	Criteria   json.RawMessage `json:"criteria"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ReportType == "" {
		httpError(w, http.StatusBadRequest, "report_type is required")
		return
	}

	owner := ownerFromRequest(r)
	scope := scopeFromRequest(r)

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), "rl:owner:"+owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			httpError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	res, err := s.orch.Submit(r.Context(), req.ReportType, req.Criteria, owner, scope)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	code := http.StatusOK
	if res.Status == orchestrator.StatusQueued {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var verr *report.ValidationError
	var unsupported *report.UnsupportedTypeError
	var gerr *report.GenerationError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &unsupported):
		httpError(w, http.StatusBadRequest, unsupported.Error())
	case errors.As(err, &gerr):
		httpError(w, http.StatusInternalServerError, gerr.Error())
	default:
		s.logger.Error().Err(err).Msg("submit failed")
		httpError(w, http.StatusInternalServerError, "report submission failed")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("load job failed")
		httpError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDirectDownload streams the artifact to its owner, the authenticated
// alternative to the public redirect.
func (s *Server) handleDirectDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.OwnerID != ownerFromRequest(r) {
		httpError(w, http.StatusForbidden, "not your job")
		return
	}
	if job.Status != models.StatusCompleted || job.ArtifactLocation == nil {
		httpError(w, http.StatusConflict, "job has no downloadable artifact")
		return
	}

	body, contentType, err := s.artifacts.Get(r.Context(), *job.ArtifactLocation)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("artifact fetch failed")
		httpError(w, http.StatusInternalServerError, "failed to fetch artifact")
		return
	}

	filename := "report"
	if job.Filename != nil {
		filename = *job.Filename
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleRedirect is the public, unauthenticated redemption endpoint. The
// response for unknown and expired handles is identical on purpose.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	target, err := s.downloads.Redeem(r.Context(), token)
	if err != nil {
		telemetry.RedirectRejected.Inc()
		if !errors.Is(err, download.ErrLinkInvalid) {
			s.logger.Error().Err(err).Msg("redirect redemption failed")
		}
		httpError(w, http.StatusGone, "link invalid or expired")
		return
	}
	telemetry.RedirectRedeemed.Inc()
	http.Redirect(w, r, target, http.StatusFound)
}

type thresholdRequest struct {
	MaxRecords    int64  `json:"max_records"`
	MaxDurationMS int64  `json:"max_duration_ms"`
	Description   string `json:"description"`
}

func (s *Server) handleUpsertThreshold(w http.ResponseWriter, r *http.Request) {
	reportType := chi.URLParam(r, "reportType")
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MaxRecords <= 0 || req.MaxDurationMS <= 0 {
		httpError(w, http.StatusBadRequest, "max_records and max_duration_ms must be positive")
		return
	}

	err := s.store.UpsertThreshold(r.Context(), models.ThresholdConfig{
		ReportType:  reportType,
		MaxRecords:  req.MaxRecords,
		MaxDuration: time.Duration(req.MaxDurationMS) * time.Millisecond,
		Description: req.Description,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("report_type", reportType).Msg("threshold upsert failed")
		httpError(w, http.StatusInternalServerError, "failed to store threshold")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.DLQPeek(r.Context(), 100)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to read dlq")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func ownerFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Owner-ID"); v != "" {
		return v
	}
	return "anonymous"
}

func scopeFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Scope-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
