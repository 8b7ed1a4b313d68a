// Package repository stores per-cohort running statistics behind a
// versioned compare-and-swap contract, plus the submission audit sinks.
package repository

import (
	"context"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/pkg/metrics"
)

// CohortStore reads and conditionally replaces cohort statistics.
//
// An absent cohort has version 0. A successful Commit stores next under
// version expectedVersion+1; if the stored version differs from
// expectedVersion, Commit returns ErrConflict and changes nothing.
type CohortStore interface {
	Read(ctx context.Context, cohortID string) (stats model.CohortStats, version int64, found bool, err error)
	Commit(ctx context.Context, cohortID string, expectedVersion int64, next model.CohortStats) error
	Snapshot(ctx context.Context) (map[string]model.CohortStats, error)
}

// AuditSink persists one record per accepted tuning submission.
type AuditSink interface {
	WriteSubmission(ctx context.Context, rec model.SubmissionRecord) error
}

func observe(backend, op string, start time.Time) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
}
