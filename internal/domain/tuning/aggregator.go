// Package tuning keeps running per-cohort statistics and derives the
// coefficient adjustments returned to clients.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/calmmind/internal/adapters/repository"
	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/pkg/logger"
	"github.com/okian/calmmind/pkg/metrics"
)

// Defaults.
const (
	DefaultMaxRetries  = 64
	defaultBackoffBase = time.Millisecond
	defaultBackoffMax  = 20 * time.Millisecond
)

// Submission outcomes recorded in metrics.
const (
	outcomeCommitted = "committed"
	outcomeExhausted = "exhausted"
	outcomeFailed    = "failed"
)

// AuditPublisher accepts submission records without blocking. It returns
// false when the record was dropped.
type AuditPublisher interface {
	Enqueue(ctx context.Context, rec model.SubmissionRecord) bool
}

// Aggregator applies submissions to cohort statistics. Updates to one
// cohort are serialized by optimistic commits against the store; a
// conflicting commit is retried from a fresh read.
type Aggregator struct {
	store       repository.CohortStore
	audit       AuditPublisher
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	now         func() time.Time
	newID       func() string
	log         logger.Logger
	tracer      trace.Tracer
}

// NewAggregator creates an Aggregator over store.
func NewAggregator(store repository.CohortStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:       store,
		maxRetries:  DefaultMaxRetries,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		now:         time.Now,
		newID:       uuid.NewString,
		tracer:      otel.Tracer("github.com/okian/calmmind/internal/domain/tuning"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Get().Named("tuning")
	}
	return a
}

// Submit folds p into its cohort and returns the tuning response built
// from the committed stats. An empty cohort ID means the default cohort.
func (a *Aggregator) Submit(ctx context.Context, p model.CohortPayload) (model.TuningResponse, error) {
	if p.CohortID == "" {
		p.CohortID = DefaultCohortID
	}

	ctx, span := a.tracer.Start(ctx, "tuning.Submit", trace.WithAttributes(attribute.String("cohort.id", p.CohortID)))
	defer span.End()

	start := time.Now()
	committed, attempts, err := a.commit(ctx, p)
	span.SetAttributes(attribute.Int("commit.attempts", attempts))
	if err != nil {
		outcome := outcomeFailed
		if errors.Is(err, ErrRetriesExhausted) {
			outcome = outcomeExhausted
		}
		metrics.RecordTuningSubmission(p.CohortID, outcome)
		metrics.RecordErrorByComponent("tuning", outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		a.log.Error(ctx, "tuning submission failed",
			logger.String("cohort", p.CohortID), logger.Int("attempts", attempts), logger.Error(err))
		return model.TuningResponse{}, err
	}
	metrics.RecordCommit(attempts, float64(time.Since(start).Microseconds())/1000)
	metrics.RecordTuningSubmission(p.CohortID, outcomeCommitted)

	now := a.now().UTC()
	resp := model.TuningResponse{
		CohortID:    p.CohortID,
		Updated:     now,
		Weights:     Weights(p),
		BiasDelta:   BiasDelta(p),
		ContextNote: ContextNote(p.CohortID, &committed),
		CohortStats: &committed,
	}
	a.publish(ctx, model.SubmissionRecord{ID: a.newID(), Payload: p, Response: resp, ReceivedAt: now})
	return resp, nil
}

// commit runs the read-modify-write loop and returns the stored stats.
func (a *Aggregator) commit(ctx context.Context, p model.CohortPayload) (model.CohortStats, int, error) {
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		cur, version, _, err := a.store.Read(ctx, p.CohortID)
		if err != nil {
			return model.CohortStats{}, attempt, fmt.Errorf("read cohort %s: %w", p.CohortID, err)
		}

		next := Accumulate(cur, p)
		err = a.store.Commit(ctx, p.CohortID, version, next)
		if err == nil {
			return next, attempt, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return model.CohortStats{}, attempt, fmt.Errorf("commit cohort %s: %w", p.CohortID, err)
		}

		metrics.RecordCommitConflict()
		a.log.Debug(ctx, "cohort commit conflict, retrying",
			logger.String("cohort", p.CohortID), logger.Int64("version", version), logger.Int("attempt", attempt))
		if err := a.wait(ctx, attempt); err != nil {
			return model.CohortStats{}, attempt, err
		}
	}
	return model.CohortStats{}, a.maxRetries, fmt.Errorf("%w: cohort %s after %d attempts", ErrRetriesExhausted, p.CohortID, a.maxRetries)
}

// wait sleeps a jittered, growing delay unless ctx ends first.
func (a *Aggregator) wait(ctx context.Context, attempt int) error {
	if a.backoffBase <= 0 {
		return ctx.Err()
	}
	d := a.backoffBase * time.Duration(attempt)
	if d > a.backoffMax {
		d = a.backoffMax
	}
	d = d/2 + time.Duration(rand.Int64N(int64(d/2)+1))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Aggregator) publish(ctx context.Context, rec model.SubmissionRecord) {
	if a.audit == nil {
		return
	}
	if !a.audit.Enqueue(ctx, rec) {
		metrics.RecordAuditDropped()
		a.log.Warn(ctx, "audit record dropped",
			logger.String("id", rec.ID), logger.String("cohort", rec.Payload.CohortID))
	}
}

// Cohort returns the stored stats of cohortID, or ErrNotFound.
func (a *Aggregator) Cohort(ctx context.Context, cohortID string) (model.CohortStats, error) {
	stats, _, found, err := a.store.Read(ctx, cohortID)
	if err != nil {
		return model.CohortStats{}, fmt.Errorf("read cohort %s: %w", cohortID, err)
	}
	if !found {
		return model.CohortStats{}, fmt.Errorf("%w: %s", ErrNotFound, cohortID)
	}
	return stats, nil
}

// Snapshot returns the stats of every cohort.
func (a *Aggregator) Snapshot(ctx context.Context) (map[string]model.CohortStats, error) {
	return a.store.Snapshot(ctx)
}
