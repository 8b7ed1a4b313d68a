// Package replay drives a running CalmMind service with the tuning payloads
// of a wellbeing series and checks that every accepted submission is
// reflected in the cohort counts.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/internal/domain/scoring"
	"github.com/okian/calmmind/internal/domain/tuning"
	"github.com/okian/calmmind/internal/fixtures"
	"github.com/okian/calmmind/internal/tuningclient"
	"github.com/okian/calmmind/pkg/logger"
)

const maxResponseBytes = 1 << 20

// Payloads builds one tuning payload per wellbeing day.
func Payloads(set fixtures.Set) []model.CohortPayload {
	engine := scoring.NewEngine(set.Risk, set.Weather)
	out := make([]model.CohortPayload, 0, len(set.Wellbeing))
	for _, day := range set.Wellbeing {
		_, drop := engine.Features(day)
		out = append(out, tuning.BuildPayload(day, drop))
	}
	return out
}

// Run replays the payloads of set cfg.Count times against the service.
func Run(ctx context.Context, cfg Config, set fixtures.Set) (*Stats, error) {
	cfg = cfg.withDefaults()
	log := logger.Get().Named("replay")
	stats := &Stats{StartTime: time.Now()}

	payloads := Payloads(set)
	if len(payloads) == 0 {
		return nil, ErrNoDays
	}

	log.Info(ctx, "starting replay",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("days", len(payloads)),
		logger.Int("count", cfg.Count),
		logger.Int("concurrency", cfg.Concurrency),
		logger.Duration("timeout", cfg.Timeout))

	httpClient := &http.Client{Timeout: cfg.Timeout}

	if err := checkServiceHealth(ctx, httpClient, cfg.BaseURL); err != nil {
		return nil, err
	}

	cohorts := cohortIDs(payloads)
	before := make(map[string]int64, len(cohorts))
	for _, id := range cohorts {
		n, err := cohortCount(ctx, httpClient, cfg.BaseURL, id)
		if err != nil {
			return nil, err
		}
		before[id] = n
	}

	accepted, err := submit(ctx, cfg, httpClient, payloads, stats, log)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	var mismatch []error
	for _, id := range cohorts {
		after, err := cohortCount(ctx, httpClient, cfg.BaseURL, id)
		if err != nil {
			return nil, err
		}
		check := CohortCheck{CohortID: id, Before: before[id], After: after, Accepted: accepted[id]}
		stats.Cohorts = append(stats.Cohorts, check)
		if !check.Consistent() {
			mismatch = append(mismatch, fmt.Errorf("%w: %s: %d -> %d, accepted %d",
				ErrInconsistent, id, check.Before, check.After, check.Accepted))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	logFinalStats(ctx, log, stats)

	if len(mismatch) > 0 {
		return stats, errors.Join(mismatch...)
	}
	return stats, nil
}

func submit(ctx context.Context, cfg Config, httpClient *http.Client, payloads []model.CohortPayload,
	stats *Stats, log logger.Logger) (map[string]int64, error) {
	tc := tuningclient.New(cfg.BaseURL+"/tuning",
		tuningclient.WithHTTPClient(httpClient),
		tuningclient.WithTimeout(cfg.Timeout),
		tuningclient.WithLogger(log))

	var (
		mu       sync.Mutex
		accepted = make(map[string]int64)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for round := range cfg.Count {
		for _, p := range payloads {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				res := tc.SubmitWithKey(gctx, uuid.NewString(), p)
				atomic.AddInt64(&stats.Submitted, 1)
				if !res.Remote() {
					atomic.AddInt64(&stats.Fallback, 1)
					return nil
				}
				atomic.AddInt64(&stats.Remote, 1)
				mu.Lock()
				accepted[p.CohortID]++
				mu.Unlock()
				if cfg.Verbose {
					log.Debug(gctx, "submission accepted",
						logger.Int("round", round),
						logger.String("cohortId", p.CohortID),
						logger.String("contextNote", res.Response.ContextNote))
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return accepted, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *http.Client, baseURL string) error {
	res, err := get(ctx, client, baseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, res.StatusCode)
	}
	return nil
}

// cohortCount returns the stored submission count; an unknown cohort is 0.
func cohortCount(ctx context.Context, client *http.Client, baseURL, id string) (int64, error) {
	res, err := get(ctx, client, baseURL+"/cohorts/"+url.PathEscape(id))
	if err != nil {
		return 0, fmt.Errorf("get cohort %s: %w", id, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		var stats model.CohortStats
		if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&stats); err != nil {
			return 0, fmt.Errorf("decode cohort %s: %w", id, err)
		}
		return stats.Count, nil
	case http.StatusNotFound:
		return 0, nil
	default:
		return 0, fmt.Errorf("get cohort %s: status %d", id, res.StatusCode)
	}
}

func get(ctx context.Context, client *http.Client, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func cohortIDs(payloads []model.CohortPayload) []string {
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if !slices.Contains(ids, p.CohortID) {
			ids = append(ids, p.CohortID)
		}
	}
	slices.Sort(ids)
	return ids
}

func logFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int64("submitted", stats.Submitted),
		logger.Int64("remote", stats.Remote),
		logger.Int64("fallback", stats.Fallback),
		logger.Int("cohorts", len(stats.Cohorts)),
		logger.Duration("duration", stats.Duration),
		logger.Float64("submissionsPerSecond", perSecond))
}
