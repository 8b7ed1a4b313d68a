package api

import (
	"errors"
	"net/http"

	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/pkg/logger"
)

var errThresholdRange = errors.New("riskThreshold outside [0,1]")

// weeklyRequest mirrors the OpenAPI schema for POST /weekly.
type weeklyRequest struct {
	Days    []model.DailyMetrics       `json:"days"`
	Weather []model.EnvironmentMetrics `json:"weather"`
	Config  *model.ScoringConfig       `json:"config,omitempty"`
}

// WeeklyHandler builds weekly summaries on request.
type WeeklyHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewWeeklyHandler creates a new weekly handler.
func NewWeeklyHandler(deps Dependencies) *WeeklyHandler {
	return &WeeklyHandler{deps: deps, log: logger.Get().Named("api.weekly")}
}

// HandlePostWeekly handles POST /weekly requests.
func (h *WeeklyHandler) HandlePostWeekly(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_weekly"
	ctx := r.Context()

	var req weeklyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, h.log, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Config != nil && (req.Config.RiskThreshold < 0 || req.Config.RiskThreshold > 1) {
		writeError(ctx, w, h.log, WrapKind(op, ErrBadRequest, errThresholdRange))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Weekly(ctx, req.Days, req.Weather, req.Config))
}
