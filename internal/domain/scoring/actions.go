package scoring

import "github.com/okian/calmmind/internal/domain/model"

// Action thresholds.
const (
	dimScreenScore          = 0.9
	dimScreenSessionMinutes = 120
	dndPickups              = 100
)

// SelectAction picks exactly one action. Rules are checked in order and
// the first match wins.
func SelectAction(day model.DailyMetrics, score float64) model.Action {
	switch {
	case score >= dimScreenScore || day.LongestSessionMinutes > dimScreenSessionMinutes:
		return model.ActionDimScreen
	case !day.BedtimeModeUsed || day.Pickups > dndPickups:
		return model.ActionEnableDND
	default:
		return model.ActionHydrateReminder
	}
}
