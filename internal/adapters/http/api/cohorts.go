package api

import (
	"errors"
	"net/http"

	"github.com/okian/calmmind/internal/domain/tuning"
	"github.com/okian/calmmind/pkg/logger"
)

// CohortHandler serves stored cohort statistics.
type CohortHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewCohortHandler creates a new cohort handler.
func NewCohortHandler(deps Dependencies) *CohortHandler {
	return &CohortHandler{deps: deps, log: logger.Get().Named("api.cohorts")}
}

// HandleGetCohort handles GET /cohorts/{id} requests.
func (h *CohortHandler) HandleGetCohort(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_cohort"
	ctx := r.Context()

	stats, err := h.deps.Cohort(ctx, r.PathValue("id"))
	if errors.Is(err, tuning.ErrNotFound) {
		writeError(ctx, w, h.log, WrapKind(op, ErrNotFound, err))
		return
	}
	if err != nil {
		writeError(ctx, w, h.log, WrapKind(op, ErrInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
