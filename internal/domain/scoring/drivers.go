package scoring

import (
	"math"
	"sort"

	"github.com/okian/calmmind/internal/domain/model"
)

const maxRankedDrivers = 3

// mitigating features lower risk and never rank as drivers.
var mitigating = map[string]bool{
	KeyBedtimeModeUsed: true,
	KeyDNDMinutes:      true,
}

// AttributeDrivers ranks risk features by weight·|value| and returns up to
// three labels, plus the bedtime label when rawScore is under the
// threshold and bedtime mode was used.
func AttributeDrivers(v FeatureVector, cfg model.ScoringConfig, rawScore float64) []string {
	ranked := make([]Feature, 0, len(v))
	for _, f := range v {
		if !mitigating[f.Key] {
			ranked = append(ranked, f)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return contribution(ranked[i], cfg) > contribution(ranked[j], cfg)
	})
	if len(ranked) > maxRankedDrivers {
		ranked = ranked[:maxRankedDrivers]
	}

	drivers := make([]string, 0, maxRankedDrivers+1)
	for _, f := range ranked {
		drivers = append(drivers, DriverLabel(f.Key))
	}
	if rawScore < cfg.RiskThreshold && v.Get(KeyBedtimeModeUsed) >= 1 {
		drivers = append(drivers, BedtimeLabel)
	}
	return drivers
}

func contribution(f Feature, cfg model.ScoringConfig) float64 {
	return cfg.Weights[f.Key] * math.Abs(f.Value)
}
