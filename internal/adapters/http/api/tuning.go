package api

import (
	"net/http"

	"github.com/okian/calmmind/internal/domain/tuning"
	"github.com/okian/calmmind/pkg/logger"
	"github.com/okian/calmmind/pkg/metrics"
)

// TuningHandler handles cohort tuning submissions.
type TuningHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewTuningHandler creates a new tuning handler.
func NewTuningHandler(deps Dependencies) *TuningHandler {
	return &TuningHandler{deps: deps, log: logger.Get().Named("api.tuning")}
}

// HandlePostTuning handles POST /tuning requests.
//
// With an Idempotency-Key header a replayed key returns the cached
// response, or 409 when it is no longer cached or still in flight.
func (h *TuningHandler) HandlePostTuning(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_tuning"
	ctx := r.Context()

	var req tuning.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, h.log, WrapKind(op, ErrBadRequest, err))
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	if key != "" && h.deps.SeenAndRecord(ctx, key) {
		metrics.RecordDuplicateSubmission()
		if resp, ok := h.deps.Lookup(ctx, key); ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeError(ctx, w, h.log, NewKind(op, ErrDuplicate))
		return
	}

	resp, err := h.deps.SubmitTuning(ctx, req.Payload())
	if err != nil {
		if key != "" {
			h.deps.Unrecord(ctx, key)
		}
		writeError(ctx, w, h.log, WrapKind(op, ErrInternal, err))
		return
	}
	if key != "" {
		h.deps.Remember(ctx, key, resp)
	}
	writeJSON(w, http.StatusOK, resp)
}
