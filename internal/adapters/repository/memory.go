package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/pkg/metrics"
)

const backendMemory = "memory"

type versioned struct {
	stats   model.CohortStats
	version int64
}

type memoryShard struct {
	mu      sync.RWMutex
	cohorts map[string]versioned
}

// MemoryStore is an in-process CohortStore. Cohorts are spread over
// shards by key hash so different cohorts rarely share a lock.
type MemoryStore struct {
	shards                []*memoryShard
	shardCount            int
	metricsUpdateInterval time.Duration

	wg        sync.WaitGroup
	stopChan  chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a MemoryStore and starts its metrics updater,
// which runs until ctx is done or Close is called.
func NewMemoryStore(ctx context.Context, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shardCount:            16,
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.shards = make([]*memoryShard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &memoryShard{cohorts: make(map[string]versioned)}
	}

	s.startMetricsUpdater(ctx)
	return s
}

func (s *MemoryStore) shard(cohortID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(cohortID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Read returns the stats and version of cohortID.
func (s *MemoryStore) Read(_ context.Context, cohortID string) (model.CohortStats, int64, bool, error) {
	defer observe(backendMemory, "read", time.Now())

	sh := s.shard(cohortID)
	sh.mu.RLock()
	v, ok := sh.cohorts[cohortID]
	sh.mu.RUnlock()
	return v.stats, v.version, ok, nil
}

// Commit stores next if cohortID is still at expectedVersion.
func (s *MemoryStore) Commit(_ context.Context, cohortID string, expectedVersion int64, next model.CohortStats) error {
	defer observe(backendMemory, "commit", time.Now())

	sh := s.shard(cohortID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.cohorts[cohortID].version != expectedVersion {
		return ErrConflict
	}
	sh.cohorts[cohortID] = versioned{stats: next, version: expectedVersion + 1}
	return nil
}

// Snapshot copies every cohort's stats.
func (s *MemoryStore) Snapshot(_ context.Context) (map[string]model.CohortStats, error) {
	defer observe(backendMemory, "snapshot", time.Now())

	out := make(map[string]model.CohortStats)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, v := range sh.cohorts {
			out[id] = v.stats
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

// Count returns the number of stored cohorts.
func (s *MemoryStore) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.cohorts)
		sh.mu.RUnlock()
	}
	return n
}

// Close stops the background updater.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateCohortsTracked(s.Count())
			}
		}
	}()
}

// DefaultAuditLimit caps the records kept by in-memory and Redis sinks.
const DefaultAuditLimit = 10_000

// MemoryAuditSink keeps the most recent submission records in a fixed
// ring; older records are overwritten.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []model.SubmissionRecord
	next    int
	full    bool
	written int64
}

// NewMemoryAuditSink creates an empty sink holding at most limit records;
// limit < 1 means DefaultAuditLimit.
func NewMemoryAuditSink(limit int) *MemoryAuditSink {
	if limit < 1 {
		limit = DefaultAuditLimit
	}
	return &MemoryAuditSink{records: make([]model.SubmissionRecord, limit)}
}

// WriteSubmission stores rec, evicting the oldest record when full.
func (m *MemoryAuditSink) WriteSubmission(_ context.Context, rec model.SubmissionRecord) error {
	m.mu.Lock()
	m.records[m.next] = rec
	m.next++
	if m.next == len(m.records) {
		m.next = 0
		m.full = true
	}
	m.written++
	m.mu.Unlock()
	return nil
}

// Records returns a copy of the retained records, oldest first.
func (m *MemoryAuditSink) Records() []model.SubmissionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		out := make([]model.SubmissionRecord, m.next)
		copy(out, m.records[:m.next])
		return out
	}
	out := make([]model.SubmissionRecord, 0, len(m.records))
	out = append(out, m.records[m.next:]...)
	return append(out, m.records[:m.next]...)
}

// Len returns the number of retained records.
func (m *MemoryAuditSink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return len(m.records)
	}
	return m.next
}

// Written returns the number of records ever written.
func (m *MemoryAuditSink) Written() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}
