package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/calmmind/internal/domain/model"
)

const (
	backendRedis     = "redis"
	defaultKeyPrefix = "calmmind:cohort:"
	defaultAuditKey  = "calmmind:cohort_insights"
	scanBatch        = 100
)

// RedisStore keeps each cohort as a JSON value and commits with
// WATCH/MULTI, so a concurrent writer aborts the transaction. As an
// AuditSink it keeps the newest records in a capped list.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	auditKey   string
	auditLimit int64
}

// storedCohort is the JSON value kept under a cohort key.
type storedCohort struct {
	Version int64             `json:"version"`
	Stats   model.CohortStats `json:"stats"`
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		prefix:     defaultKeyPrefix,
		auditKey:   defaultAuditKey,
		auditLimit: DefaultAuditLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(cohortID string) string {
	return s.prefix + cohortID
}

func (s *RedisStore) cohortID(key string) string {
	return strings.TrimPrefix(key, s.prefix)
}

func encodeCohort(version int64, stats model.CohortStats) ([]byte, error) {
	return json.Marshal(storedCohort{Version: version, Stats: stats})
}

func decodeCohort(raw []byte) (storedCohort, error) {
	var sc storedCohort
	if err := json.Unmarshal(raw, &sc); err != nil {
		return storedCohort{}, fmt.Errorf("decode cohort: %w", err)
	}
	return sc, nil
}

// read loads a key through c, which is either the client or a WATCH tx.
func read(ctx context.Context, c redis.Cmdable, key string) (storedCohort, bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storedCohort{}, false, nil
	}
	if err != nil {
		return storedCohort{}, false, err
	}
	sc, err := decodeCohort(raw)
	return sc, err == nil, err
}

// Read returns the stats and version of cohortID.
func (s *RedisStore) Read(ctx context.Context, cohortID string) (model.CohortStats, int64, bool, error) {
	defer observe(backendRedis, "read", time.Now())

	sc, ok, err := read(ctx, s.client, s.key(cohortID))
	if err != nil {
		return model.CohortStats{}, 0, false, fmt.Errorf("redis read %s: %w", cohortID, err)
	}
	return sc.Stats, sc.Version, ok, nil
}

// Commit stores next if cohortID is still at expectedVersion.
func (s *RedisStore) Commit(ctx context.Context, cohortID string, expectedVersion int64, next model.CohortStats) error {
	defer observe(backendRedis, "commit", time.Now())

	key := s.key(cohortID)
	payload, err := encodeCohort(expectedVersion+1, next)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, _, err := read(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	default:
		return fmt.Errorf("redis commit %s: %w", cohortID, err)
	}
}

// Snapshot scans every cohort key.
func (s *RedisStore) Snapshot(ctx context.Context) (map[string]model.CohortStats, error) {
	defer observe(backendRedis, "snapshot", time.Now())

	out := make(map[string]model.CohortStats)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sc, ok, err := read(ctx, s.client, key)
		if err != nil {
			return nil, fmt.Errorf("redis snapshot %s: %w", key, err)
		}
		if ok {
			out[s.cohortID(key)] = sc.Stats
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

// WriteSubmission pushes rec onto the audit list and trims it to the
// configured limit in one transaction.
func (s *RedisStore) WriteSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	defer observe(backendRedis, "audit", time.Now())

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode submission %s: %w", rec.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.auditKey, raw)
		p.LTrim(ctx, s.auditKey, 0, s.auditLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis audit %s: %w", rec.ID, err)
	}
	return nil
}

// Submissions returns the retained audit records, newest first.
func (s *RedisStore) Submissions(ctx context.Context) ([]model.SubmissionRecord, error) {
	raws, err := s.client.LRange(ctx, s.auditKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis audit range: %w", err)
	}
	out := make([]model.SubmissionRecord, 0, len(raws))
	for _, raw := range raws {
		var rec model.SubmissionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
