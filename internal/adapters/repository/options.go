package repository

import "time"

// MemoryOption applies a configuration option to the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithShardCount sets the number of lock shards.
func WithShardCount(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces cohort keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithAuditLimit caps the Redis audit list; n < 1 keeps the default.
func WithAuditLimit(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.auditLimit = int64(n)
		}
	}
}

// MongoOption configures a MongoStore.
type MongoOption func(*mongoOptions)

type mongoOptions struct {
	cohorts string
	audit   string
}

// WithCollections overrides the cohort and audit collection names.
func WithCollections(cohorts, audit string) MongoOption {
	return func(o *mongoOptions) {
		if cohorts != "" {
			o.cohorts = cohorts
		}
		if audit != "" {
			o.audit = audit
		}
	}
}
