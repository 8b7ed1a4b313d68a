package scoring

import "github.com/okian/calmmind/internal/domain/model"

// BedtimeLabel is appended when a calm day is credited to bedtime mode.
const BedtimeLabel = "consistent bedtime mode"

// BaselineLabel stands in when no driver was identified.
const BaselineLabel = "baseline stability"

var driverLabels = map[string]string{
	KeyScreenMinutes:         "extended screen time",
	KeyLongestSessionMinutes: "long continuous session",
	KeyPickups:               "frequent pickups",
	KeyNotifications:         "high notification load",
	KeyStressMeetings:        "packed meeting schedule",
	KeyPressureDrop:          "pressure drop",
	KeyStormAlert:            "incoming storm",
}

var actionPhrases = map[model.Action]string{
	model.ActionDimScreen:       "Let me dim the display and lower blue light exposure.",
	model.ActionEnableDND:       "I’ll enable DND + bedtime mode for the next hour.",
	model.ActionHydrateReminder: "Take a water break and stretch for two minutes.",
}

// DriverLabel maps a feature key to its display label, or the key itself.
func DriverLabel(key string) string {
	if l, ok := driverLabels[key]; ok {
		return l
	}
	return key
}

// ActionPhrase returns the recommendation sentence for a.
func ActionPhrase(a model.Action) string {
	return actionPhrases[a]
}
