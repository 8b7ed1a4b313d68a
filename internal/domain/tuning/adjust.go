package tuning

import (
	"fmt"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/internal/domain/scoring"
)

// OfflineNote is the context note of a locally computed estimate.
const OfflineNote = "Offline mode: using local tuning estimates."

const pendingNote = "Cloud tuning ready when data comes in."

// Weights derives coefficients from the submitted averages.
func Weights(p model.CohortPayload) model.TuningWeights {
	w := model.TuningWeights{ScreenMinutes: 0.3, LongestSessionMinutes: 0.2, PressureDrop: 0.15}
	switch {
	case p.AvgScreenMinutes > 360:
		w.ScreenMinutes = 0.4
	case p.AvgScreenMinutes > 300:
		w.ScreenMinutes = 0.35
	}
	if p.AvgLongestSession > 120 {
		w.LongestSessionMinutes = 0.25
	}
	if p.AvgPressureDrop > 8 {
		w.PressureDrop = 0.2
	}
	return w
}

// BiasDelta is the bias shift recommended for p.
func BiasDelta(p model.CohortPayload) float64 {
	if p.AvgScreenMinutes > 400 {
		return 0.05
	}
	return 0
}

// Trigger names the dominant pattern of committed stats.
func Trigger(s model.CohortStats) string {
	switch {
	case s.AvgScreenMinutes > 360:
		return "late-night screen spikes"
	case s.AvgPressureDrop > 8:
		return "pressure swings"
	default:
		return "balanced usage"
	}
}

// ContextNote describes committed stats; nil stats yield the pending note.
func ContextNote(cohortID string, s *model.CohortStats) string {
	if s == nil {
		return pendingNote
	}
	return fmt.Sprintf("Cloud spotted %s across %d samples in %s.", Trigger(*s), s.Count, cohortID)
}

// Accumulate folds p into the running averages of cur.
func Accumulate(cur model.CohortStats, p model.CohortPayload) model.CohortStats {
	n := float64(cur.Count)
	next := cur.Count + 1
	avg := func(old, v float64) float64 {
		return scoring.Round2((old*n + v) / float64(next))
	}
	return model.CohortStats{
		Count:             next,
		AvgScreenMinutes:  avg(cur.AvgScreenMinutes, p.AvgScreenMinutes),
		AvgLongestSession: avg(cur.AvgLongestSession, p.AvgLongestSession),
		AvgPressureDrop:   avg(cur.AvgPressureDrop, p.AvgPressureDrop),
	}
}

// LocalEstimate is the client-side fallback when the tuning endpoint
// cannot be reached. It never carries cohort stats.
func LocalEstimate(p model.CohortPayload, now time.Time) model.TuningResponse {
	w := model.TuningWeights{ScreenMinutes: 0.3, PressureDrop: 0.15}
	if p.AvgScreenMinutes > 360 {
		w.ScreenMinutes = 0.38
	}
	if p.AvgPressureDrop > 8 {
		w.PressureDrop = 0.2
	}
	bias := 0.0
	if p.AvgScreenMinutes > 400 {
		bias = 0.07
	}
	return model.TuningResponse{
		CohortID:    p.CohortID,
		Updated:     now.UTC(),
		Weights:     w,
		BiasDelta:   bias,
		ContextNote: OfflineNote,
	}
}
