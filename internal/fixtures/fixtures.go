// Package fixtures loads wellbeing, weather and risk config JSON files.
// Day files hold {"days": [...]}; the risk file is a bare ScoringConfig.
package fixtures

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
)

// ErrInvalidFixture is wrapped by every decode or validation failure.
var ErrInvalidFixture = errors.New("invalid fixture")

//go:embed data/*.json
var bundled embed.FS

type dayFile[T any] struct {
	Days []T `json:"days"`
}

// DecodeWellbeing reads a wellbeing day file.
func DecodeWellbeing(r io.Reader) ([]model.DailyMetrics, error) {
	days, err := decodeDays[model.DailyMetrics](r)
	if err != nil {
		return nil, err
	}
	for i, d := range days {
		if err := checkDate(d.Date); err != nil {
			return nil, fmt.Errorf("%w: wellbeing day %d: %v", ErrInvalidFixture, i, err)
		}
	}
	return days, nil
}

// DecodeWeather reads a weather day file.
func DecodeWeather(r io.Reader) ([]model.EnvironmentMetrics, error) {
	days, err := decodeDays[model.EnvironmentMetrics](r)
	if err != nil {
		return nil, err
	}
	for i, d := range days {
		if err := checkDate(d.Date); err != nil {
			return nil, fmt.Errorf("%w: weather day %d: %v", ErrInvalidFixture, i, err)
		}
	}
	return days, nil
}

// DecodeRiskConfig reads a scoring config.
func DecodeRiskConfig(r io.Reader) (model.ScoringConfig, error) {
	var cfg model.ScoringConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return model.ScoringConfig{}, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	if cfg.RiskThreshold < 0 || cfg.RiskThreshold > 1 {
		return model.ScoringConfig{}, fmt.Errorf("%w: riskThreshold %v outside [0,1]", ErrInvalidFixture, cfg.RiskThreshold)
	}
	if cfg.Weights == nil {
		cfg.Weights = map[string]float64{}
	}
	return cfg, nil
}

func decodeDays[T any](r io.Reader) ([]T, error) {
	var f dayFile[T]
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	if f.Days == nil {
		f.Days = []T{}
	}
	return f.Days, nil
}

func checkDate(s string) error {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fmt.Errorf("date %q: want YYYY-MM-DD", s)
	}
	return nil
}

// LoadWellbeing reads the wellbeing file at path.
func LoadWellbeing(path string) ([]model.DailyMetrics, error) {
	return load(path, DecodeWellbeing)
}

// LoadWeather reads the weather file at path.
func LoadWeather(path string) ([]model.EnvironmentMetrics, error) {
	return load(path, DecodeWeather)
}

// LoadRiskConfig reads the risk config file at path.
func LoadRiskConfig(path string) (model.ScoringConfig, error) {
	return load(path, DecodeRiskConfig)
}

func load[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	v, err := decode(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Set is one wellbeing series with its weather and config.
type Set struct {
	Wellbeing []model.DailyMetrics
	Weather   []model.EnvironmentMetrics
	Risk      model.ScoringConfig
}

// Bundled returns the sample week shipped with the binary.
func Bundled() (Set, error) {
	var (
		s   Set
		err error
	)
	if s.Wellbeing, err = loadBundled("data/wellbeing.json", DecodeWellbeing); err != nil {
		return Set{}, err
	}
	if s.Weather, err = loadBundled("data/weather.json", DecodeWeather); err != nil {
		return Set{}, err
	}
	if s.Risk, err = loadBundled("data/risk_thresholds.json", DecodeRiskConfig); err != nil {
		return Set{}, err
	}
	return s, nil
}

func loadBundled[T any](name string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := bundled.Open(name)
	if err != nil {
		return zero, fmt.Errorf("open bundled fixture: %w", err)
	}
	defer f.Close()
	return decode(f)
}

// Paths names fixture files; empty fields use the bundled sample.
type Paths struct {
	Wellbeing string
	Weather   string
	Risk      string
}

// Load reads the files named in p, falling back to the bundled sample for
// each empty path.
func Load(p Paths) (Set, error) {
	s, err := Bundled()
	if err != nil {
		return Set{}, err
	}
	if p.Wellbeing != "" {
		if s.Wellbeing, err = LoadWellbeing(p.Wellbeing); err != nil {
			return Set{}, err
		}
	}
	if p.Weather != "" {
		if s.Weather, err = LoadWeather(p.Weather); err != nil {
			return Set{}, err
		}
	}
	if p.Risk != "" {
		if s.Risk, err = LoadRiskConfig(p.Risk); err != nil {
			return Set{}, err
		}
	}
	return s, nil
}

// Day returns the wellbeing day with date.
func (s Set) Day(date string) (model.DailyMetrics, bool) {
	for _, d := range s.Wellbeing {
		if d.Date == date {
			return d, true
		}
	}
	return model.DailyMetrics{}, false
}
