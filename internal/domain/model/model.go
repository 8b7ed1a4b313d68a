// Package model contains domain models passed between layers.
package model

import "time"

// DailyMetrics is one calendar day of device telemetry.
// Fields mirror the wellbeing fixture schema.
type DailyMetrics struct {
	Date                  string  `json:"date"`                  // YYYY-MM-DD
	ScreenMinutes         float64 `json:"screenMinutes"`         // total screen-on time
	LongestSessionMinutes float64 `json:"longestSessionMinutes"` // longest continuous session
	Pickups               float64 `json:"pickups"`               // device unlocks
	Notifications         float64 `json:"notifications"`         // notifications received
	BedtimeModeUsed       bool    `json:"bedtimeModeUsed"`       // bedtime mode was active
	DNDMinutes            float64 `json:"dndMinutes"`            // do-not-disturb minutes
	StressMeetings        float64 `json:"stressMeetings"`        // meetings tagged as stressful
}

// EnvironmentMetrics is one calendar day of weather signal.
type EnvironmentMetrics struct {
	Date        string  `json:"date"`
	PressureHpa float64 `json:"pressureHpa"`
	Humidity    float64 `json:"humidity"`
	StormAlert  bool    `json:"stormAlert"`
}

// ScoringConfig holds the static model coefficients.
type ScoringConfig struct {
	Weights       map[string]float64 `json:"weights" koanf:"weights"`
	Bias          float64            `json:"bias" koanf:"bias"`
	RiskThreshold float64            `json:"riskThreshold" koanf:"risk_threshold"`
}

// Clone returns a deep copy so callers can't mutate a shared weights map.
func (c ScoringConfig) Clone() ScoringConfig {
	out := ScoringConfig{Bias: c.Bias, RiskThreshold: c.RiskThreshold}
	out.Weights = make(map[string]float64, len(c.Weights))
	for k, v := range c.Weights {
		out.Weights[k] = v
	}
	return out
}

// Action is the single mitigation picked for a day.
type Action string

// Supported actions.
const (
	ActionDimScreen       Action = "dim_screen"
	ActionEnableDND       Action = "enable_dnd"
	ActionHydrateReminder Action = "hydrate_reminder"
)

// Actions lists every action in declaration order.
var Actions = []Action{ActionDimScreen, ActionEnableDND, ActionHydrateReminder}

// Valid reports whether a is one of the declared actions.
func (a Action) Valid() bool {
	switch a {
	case ActionDimScreen, ActionEnableDND, ActionHydrateReminder:
		return true
	}
	return false
}

// RiskInsight is the evaluation of one day.
type RiskInsight struct {
	Date           string   `json:"date"`
	Score          float64  `json:"score"`
	Drivers        []string `json:"drivers"`
	Recommendation string   `json:"recommendation"`
	Action         Action   `json:"action"`
}

// WeeklySummary rolls a batch of insights into a recap.
type WeeklySummary struct {
	InterventionCount  int           `json:"interventionCount"`
	StrongestDriver    string        `json:"strongestDriver"`
	FavoriteAutomation string        `json:"favoriteAutomation"`
	Recap              string        `json:"recap"`
	Insights           []RiskInsight `json:"insights"`
}

// CohortPayload is one anonymized tuning submission.
type CohortPayload struct {
	CohortID          string  `json:"cohortId" bson:"cohortId"`
	AvgScreenMinutes  float64 `json:"avgScreenMinutes" bson:"avgScreenMinutes"`
	AvgLongestSession float64 `json:"avgLongestSession" bson:"avgLongestSession"`
	AvgPressureDrop   float64 `json:"avgPressureDrop" bson:"avgPressureDrop"`
}

// CohortStats is the persisted running average for a cohort.
type CohortStats struct {
	Count             int64   `json:"count" bson:"count"`
	AvgScreenMinutes  float64 `json:"avgScreenMinutes" bson:"avgScreenMinutes"`
	AvgLongestSession float64 `json:"avgLongestSession" bson:"avgLongestSession"`
	AvgPressureDrop   float64 `json:"avgPressureDrop" bson:"avgPressureDrop"`
}

// TuningWeights are the coefficients recommended back to clients.
type TuningWeights struct {
	ScreenMinutes         float64 `json:"screenMinutes" bson:"screenMinutes"`
	LongestSessionMinutes float64 `json:"longestSessionMinutes,omitempty" bson:"longestSessionMinutes"`
	PressureDrop          float64 `json:"pressureDrop" bson:"pressureDrop"`
}

// TuningResponse is returned for every tuning submission.
// CohortStats is nil when the stats were not produced by the server.
type TuningResponse struct {
	CohortID    string        `json:"cohortId" bson:"cohortId"`
	Updated     time.Time     `json:"updated" bson:"updated"`
	Weights     TuningWeights `json:"weights" bson:"weights"`
	BiasDelta   float64       `json:"biasDelta" bson:"biasDelta"`
	ContextNote string        `json:"contextNote" bson:"contextNote"`
	CohortStats *CohortStats  `json:"cohortStats" bson:"cohortStats"`
}

// SubmissionRecord is the audit document written once per accepted submission.
type SubmissionRecord struct {
	ID         string         `json:"id" bson:"_id"`
	Payload    CohortPayload  `json:"payload" bson:"payload"`
	Response   TuningResponse `json:"response" bson:"response"`
	ReceivedAt time.Time      `json:"receivedAt" bson:"receivedAt"`
}
