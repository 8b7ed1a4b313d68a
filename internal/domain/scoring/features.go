// Package scoring turns one day of telemetry into a risk insight.
//
// Every function here is pure. An Engine holds only immutable inputs and
// is safe to share between goroutines.
package scoring

import (
	"math"

	"github.com/okian/calmmind/internal/domain/model"
)

// Feature keys, in canonical order.
const (
	KeyScreenMinutes         = "screenMinutes"
	KeyLongestSessionMinutes = "longestSessionMinutes"
	KeyPickups               = "pickups"
	KeyNotifications         = "notifications"
	KeyBedtimeModeUsed       = "bedtimeModeUsed"
	KeyDNDMinutes            = "dndMinutes"
	KeyStressMeetings        = "stressMeetings"
	KeyPressureDrop          = "pressureDrop"
	KeyStormAlert            = "stormAlert"
)

// Normalization baselines.
const (
	baselineScreenMinutes  = 240
	baselineSessionMinutes = 60
	baselinePickups        = 60
	baselineNotifications  = 180
	baselineDNDMinutes     = 60
	baselineMeetings       = 4
	pressureDropScaleHpa   = 10
)

// Feature is one normalized signal.
type Feature struct {
	Key   string
	Value float64
}

// FeatureVector keeps features in canonical key order so ranking ties
// resolve the same way on every run.
type FeatureVector []Feature

// Get returns the value for key, or 0 if the key is absent.
func (v FeatureVector) Get(key string) float64 {
	for _, f := range v {
		if f.Key == key {
			return f.Value
		}
	}
	return 0
}

// Map returns the vector as a map, mostly for logging and JSON.
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, len(v))
	for _, f := range v {
		out[f.Key] = f.Value
	}
	return out
}

// MatchWeather finds the weather record whose date equals date exactly.
func MatchWeather(series []model.EnvironmentMetrics, date string) (model.EnvironmentMetrics, bool) {
	for _, w := range series {
		if w.Date == date {
			return w, true
		}
	}
	return model.EnvironmentMetrics{}, false
}

// PressureDrop returns the drop in hPa from the first record of series to
// matched, clamped at zero. It is 0 when there is no match or no baseline.
func PressureDrop(series []model.EnvironmentMetrics, matched model.EnvironmentMetrics, ok bool) float64 {
	if !ok || len(series) == 0 {
		return 0
	}
	return math.Max(0, series[0].PressureHpa-matched.PressureHpa)
}

// ExtractFeatures normalizes day and its matched weather record.
// Missing weather yields zero pressure and storm features.
func ExtractFeatures(day model.DailyMetrics, series []model.EnvironmentMetrics, matched model.EnvironmentMetrics, ok bool) FeatureVector {
	storm := 0.0
	if ok && matched.StormAlert {
		storm = 1
	}
	return FeatureVector{
		{KeyScreenMinutes, day.ScreenMinutes / baselineScreenMinutes},
		{KeyLongestSessionMinutes, day.LongestSessionMinutes / baselineSessionMinutes},
		{KeyPickups, day.Pickups / baselinePickups},
		{KeyNotifications, day.Notifications / baselineNotifications},
		{KeyBedtimeModeUsed, boolFeature(day.BedtimeModeUsed)},
		{KeyDNDMinutes, day.DNDMinutes / baselineDNDMinutes},
		{KeyStressMeetings, day.StressMeetings / baselineMeetings},
		{KeyPressureDrop, PressureDrop(series, matched, ok) / pressureDropScaleHpa},
		{KeyStormAlert, storm},
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
