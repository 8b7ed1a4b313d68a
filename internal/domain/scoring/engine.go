package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
)

// Engine evaluates days against a fixed config and weather series.
// It copies its inputs, so a new config needs a new Engine.
type Engine struct {
	cfg     model.ScoringConfig
	weather []model.EnvironmentMetrics
}

// NewEngine creates an Engine. The weather series is expected in date
// order; its first element is the pressure baseline.
func NewEngine(cfg model.ScoringConfig, weather []model.EnvironmentMetrics) *Engine {
	series := make([]model.EnvironmentMetrics, len(weather))
	copy(series, weather)
	return &Engine{cfg: cfg.Clone(), weather: series}
}

// Config returns a copy of the engine's config.
func (e *Engine) Config() model.ScoringConfig {
	return e.cfg.Clone()
}

// Features returns the normalized vector for day and the raw pressure
// drop in hPa against the series baseline.
func (e *Engine) Features(day model.DailyMetrics) (FeatureVector, float64) {
	matched, ok := MatchWeather(e.weather, day.Date)
	return ExtractFeatures(day, e.weather, matched, ok), PressureDrop(e.weather, matched, ok)
}

// Evaluate scores one day.
func (e *Engine) Evaluate(day model.DailyMetrics) model.RiskInsight {
	features, _ := e.Features(day)
	raw := RawScore(features, e.cfg)
	drivers := AttributeDrivers(features, e.cfg, raw)
	action := SelectAction(day, raw)

	return model.RiskInsight{
		Date:           day.Date,
		Score:          Round2(raw),
		Drivers:        drivers,
		Recommendation: Recommendation(drivers, action),
		Action:         action,
	}
}

// Recommendation builds the sentence shown alongside an insight.
func Recommendation(drivers []string, action model.Action) string {
	summary := BaselineLabel
	if len(drivers) > 0 {
		summary = strings.Join(drivers, ", ")
	}
	return fmt.Sprintf("Drivers: %s. %s", summary, ActionPhrase(action))
}

// FormatInsight renders an insight as a single log-friendly line.
func FormatInsight(in model.RiskInsight) string {
	date := in.Date
	if t, err := time.Parse(time.DateOnly, in.Date); err == nil {
		date = t.Format("Jan 2")
	}
	return fmt.Sprintf("[%s] Score %v → %s", date, in.Score, in.Recommendation)
}
