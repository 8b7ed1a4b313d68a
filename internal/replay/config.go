package replay

import (
	"runtime"
	"time"
)

// Defaults.
const (
	DefaultBaseURL = "http://localhost:9080"
	DefaultCount   = 10
	DefaultTimeout = 5 * time.Second

	concurrencyMultiplier = 2
)

// Config holds configuration for a replay run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Count       int           // Rounds over the whole series
	Concurrency int           // Parallel submissions
	Timeout     time.Duration // Per-request timeout
	Verbose     bool          // Log every submission
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Count < 1 {
		c.Count = DefaultCount
	}
	if c.Concurrency < 1 {
		c.Concurrency = runtime.NumCPU() * concurrencyMultiplier
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// CohortCheck compares the server's count for a cohort with what this run
// sent to it.
type CohortCheck struct {
	CohortID string `json:"cohortId"`
	Before   int64  `json:"before"`
	After    int64  `json:"after"`
	Accepted int64  `json:"accepted"`
}

// Consistent reports whether every accepted submission landed exactly once.
func (c CohortCheck) Consistent() bool { return c.After-c.Before == c.Accepted }

// Stats holds run statistics.
type Stats struct {
	Submitted int64         `json:"submitted"`
	Remote    int64         `json:"remote"`
	Fallback  int64         `json:"fallback"`
	Cohorts   []CohortCheck `json:"cohorts"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
}
