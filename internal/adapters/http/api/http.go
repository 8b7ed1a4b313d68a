// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/calmmind/internal/domain/dedupe"
	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/pkg/logger"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// IdempotencyHeader carries the client key of a tuning submission.
const IdempotencyHeader = "Idempotency-Key"

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper

	// SubmitTuning folds a submission into its cohort.
	SubmitTuning(ctx context.Context, p model.CohortPayload) (model.TuningResponse, error)

	// Cohort returns the stored stats of one cohort.
	Cohort(ctx context.Context, cohortID string) (model.CohortStats, error)

	// Weekly evaluates days and summarizes them. A nil cfg means the
	// server's configured ScoringConfig.
	Weekly(ctx context.Context, days []model.DailyMetrics, weather []model.EnvironmentMetrics, cfg *model.ScoringConfig) model.WeeklySummary
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	tuningHandler *TuningHandler
	cohortHandler *CohortHandler
	weeklyHandler *WeeklyHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		tuningHandler: NewTuningHandler(deps),
		cohortHandler: NewCohortHandler(deps),
		weeklyHandler: NewWeeklyHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /tuning", MetricsMiddleware(s.tuningHandler.HandlePostTuning, "tuning"))
	mux.HandleFunc("GET /cohorts/{id}", MetricsMiddleware(s.cohortHandler.HandleGetCohort, "cohorts"))
	mux.HandleFunc("POST /weekly", MetricsMiddleware(s.weeklyHandler.HandlePostWeekly, "weekly"))
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and error code. Errors without a known
// kind are treated as ErrInternal; internal causes are logged and never
// echoed to the client.
func writeError(ctx context.Context, w http.ResponseWriter, log logger.Logger, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
	case errors.Is(err, ErrDuplicate):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "duplicate_submission"})
	default:
		if !errors.Is(err, ErrInternal) {
			err = WrapKind("api", ErrInternal, err)
		}
		log.Error(ctx, "request failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
