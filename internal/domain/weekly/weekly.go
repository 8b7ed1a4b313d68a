// Package weekly rolls a run of daily insights into a recap.
package weekly

import (
	"fmt"

	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/internal/domain/scoring"
)

var automationLabels = map[model.Action]string{
	model.ActionDimScreen:       "Screen dimming shield",
	model.ActionEnableDND:       "Focus bubble",
	model.ActionHydrateReminder: "Hydration cue",
}

// fallbackAction is reported when no action was ever taken.
const fallbackAction = model.ActionHydrateReminder

// Evaluator scores a single day.
type Evaluator interface {
	Evaluate(day model.DailyMetrics) model.RiskInsight
}

// AutomationLabel returns the user-facing name of an action.
func AutomationLabel(a model.Action) string {
	if l, ok := automationLabels[a]; ok {
		return l
	}
	return string(a)
}

// Build evaluates days in order and summarizes them. When eval is nil an
// engine is built from cfg and weather.
func Build(days []model.DailyMetrics, weather []model.EnvironmentMetrics, cfg model.ScoringConfig, eval Evaluator) model.WeeklySummary {
	if eval == nil {
		eval = scoring.NewEngine(cfg, weather)
	}

	insights := make([]model.RiskInsight, 0, len(days))
	for _, day := range days {
		insights = append(insights, eval.Evaluate(day))
	}
	return Summarize(insights, cfg.RiskThreshold)
}

// Summarize computes the recap for already evaluated insights.
// An insight scoring exactly threshold counts as an intervention.
func Summarize(insights []model.RiskInsight, threshold float64) model.WeeklySummary {
	var (
		interventions int
		drivers       tally
		automations   tally
	)
	for _, in := range insights {
		if in.Score >= threshold {
			interventions++
		}
		for _, d := range in.Drivers {
			drivers.add(d)
		}
		automations.add(string(in.Action))
	}

	strongest, ok := drivers.top()
	if !ok {
		strongest = scoring.BaselineLabel
	}
	favorite := fallbackAction
	if key, ok := automations.top(); ok {
		favorite = model.Action(key)
	}
	favoriteLabel := AutomationLabel(favorite)

	if insights == nil {
		insights = []model.RiskInsight{}
	}
	return model.WeeklySummary{
		InterventionCount:  interventions,
		StrongestDriver:    strongest,
		FavoriteAutomation: favoriteLabel,
		Recap: fmt.Sprintf("CalmMind quietly intervened %d times this week. Biggest trigger: %s. Most helpful automation: %s.",
			interventions, strongest, favoriteLabel),
		Insights: insights,
	}
}

// tally counts labels and remembers the order they were first seen.
type tally struct {
	order  []string
	counts map[string]int
}

func (t *tally) add(label string) {
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, seen := t.counts[label]; !seen {
		t.order = append(t.order, label)
	}
	t.counts[label]++
}

// top returns the most frequent label; ties go to the earliest seen.
func (t *tally) top() (string, bool) {
	best, bestCount := "", 0
	for _, label := range t.order {
		if c := t.counts[label]; c > bestCount {
			best, bestCount = label, c
		}
	}
	return best, bestCount > 0
}
