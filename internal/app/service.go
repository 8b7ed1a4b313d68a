// Package service composes the cohort store, tuning aggregator, audit
// pipeline and scoring engine behind the dependencies of the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditqueue "github.com/okian/calmmind/internal/adapters/mq/queue"
	workerpool "github.com/okian/calmmind/internal/adapters/mq/worker"
	"github.com/okian/calmmind/internal/adapters/repository"
	"github.com/okian/calmmind/internal/config"
	"github.com/okian/calmmind/internal/domain/dedupe"
	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/internal/domain/scoring"
	"github.com/okian/calmmind/internal/domain/tuning"
	"github.com/okian/calmmind/internal/domain/weekly"
	"github.com/okian/calmmind/pkg/logger"
	"github.com/okian/calmmind/pkg/metrics"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

// ErrNotStarted is returned by operations that need a started service.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for cohort tuning and weekly
// summaries.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.CohortStore
	auditSink  repository.AuditSink
	deduper    dedupe.Deduper
	auditQueue *auditqueue.InMemoryQueue
	workerPool *workerpool.Pool
	aggregator *tuning.Aggregator
	closers    []func(context.Context) error
	cancelRun  context.CancelFunc

	// Configuration
	backend       string
	redisAddr     string
	mongoURI      string
	mongoDatabase string
	sqlitePath    string
	maxRetries    int
	dedupeSize    int
	queueSize     int
	workerCount   int
	auditLimit    int
	risk          model.ScoringConfig
	injected      repository.CohortStore
	injectedSink  repository.AuditSink
	aggOpts       []tuning.Option

	// State
	started bool

	// Logging and tracing
	logger logger.Logger
	tracer trace.Tracer
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStoreBackend selects memory, redis, mongo or sqlite.
func WithStoreBackend(backend string) Option {
	return func(s *Service) {
		if backend != "" {
			s.backend = backend
		}
	}
}

// WithRedisAddr sets the Redis address of the redis backend.
func WithRedisAddr(addr string) Option {
	return func(s *Service) { s.redisAddr = addr }
}

// WithMongo sets the connection string and database of the mongo backend.
func WithMongo(uri, database string) Option {
	return func(s *Service) {
		s.mongoURI = uri
		s.mongoDatabase = database
	}
}

// WithSQLitePath sets the database file of the sqlite backend.
func WithSQLitePath(path string) Option {
	return func(s *Service) { s.sqlitePath = path }
}

// WithCohortStore uses store and sink instead of opening a backend. A nil
// sink keeps audit records in memory.
func WithCohortStore(store repository.CohortStore, sink repository.AuditSink) Option {
	return func(s *Service) {
		s.injected = store
		s.injectedSink = sink
	}
}

// WithMaxCommitRetries bounds the commit attempts per submission.
func WithMaxCommitRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithDedupeSize sets the size of the idempotency key cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithAuditQueueSize sets the capacity of the audit queue.
func WithAuditQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithAuditMemoryLimit caps the audit records kept by the memory and
// redis backends.
func WithAuditMemoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.auditLimit = n
		}
	}
}

// WithAuditWorkers sets the number of audit writers.
func WithAuditWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithRiskConfig sets the scoring config used when a request has none.
func WithRiskConfig(cfg model.ScoringConfig) Option {
	return func(s *Service) { s.risk = cfg.Clone() }
}

// WithAggregatorOptions passes extra options to the tuning aggregator.
func WithAggregatorOptions(opts ...tuning.Option) Option {
	return func(s *Service) { s.aggOpts = append(s.aggOpts, opts...) }
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// FromConfig maps a loaded config onto service options.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithStoreBackend(cfg.Store),
		WithRedisAddr(cfg.RedisAddr),
		WithMongo(cfg.MongoURI, cfg.MongoDatabase),
		WithSQLitePath(cfg.SQLitePath),
		WithMaxCommitRetries(cfg.MaxCommitRetries),
		WithDedupeSize(cfg.DedupeSize),
		WithAuditQueueSize(cfg.AuditQueueSize),
		WithAuditWorkers(cfg.AuditWorkers),
		WithAuditMemoryLimit(cfg.AuditMemoryLimit),
		WithRiskConfig(cfg.Risk),
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	defaults := config.New(context.Background())
	s := &Service{
		backend:       defaults.Store,
		redisAddr:     defaults.RedisAddr,
		mongoURI:      defaults.MongoURI,
		mongoDatabase: defaults.MongoDatabase,
		sqlitePath:    defaults.SQLitePath,
		maxRetries:    defaults.MaxCommitRetries,
		dedupeSize:    defaults.DedupeSize,
		queueSize:     defaults.AuditQueueSize,
		workerCount:   defaults.AuditWorkers,
		auditLimit:    defaults.AuditMemoryLimit,
		risk:          defaults.Risk,
		tracer:        otel.Tracer("github.com/okian/calmmind/internal/app"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store backend and starts the audit pipeline.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting calmmind service...", logger.String("store", s.backend))

	if err := s.openStore(ctx); err != nil {
		s.closeAll(ctx)
		return fmt.Errorf("open %s store: %w", s.backend, err)
	}

	// Workers outlive the start context and stop in Stop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelRun = cancel

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.auditQueue = auditqueue.NewInMemoryQueue(
		auditqueue.WithCapacity(s.queueSize),
		auditqueue.WithBufferSize(s.queueSize),
	)
	s.workerPool = workerpool.NewPool(s.workerCount, s.auditQueue, s.auditSink)
	s.workerPool.Start(runCtx)

	aggOpts := append([]tuning.Option{
		tuning.WithMaxRetries(s.maxRetries),
		tuning.WithAuditPublisher(s.auditQueue),
		tuning.WithLogger(s.logger.Named("tuning")),
	}, s.aggOpts...)
	s.aggregator = tuning.NewAggregator(s.store, aggOpts...)

	s.started = true
	s.logger.Info(ctx, "calmmind service started",
		logger.String("store", s.backend),
		logger.Int("auditWorkers", s.workerPool.Size()),
		logger.Int("auditQueueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// openStore sets store and auditSink for the configured backend.
func (s *Service) openStore(ctx context.Context) error {
	if s.injected != nil {
		s.store = s.injected
		s.auditSink = s.injectedSink
		if s.auditSink == nil {
			s.auditSink = repository.NewMemoryAuditSink(s.auditLimit)
		}
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch s.backend {
	case config.StoreMemory:
		mem := repository.NewMemoryStore(ctx)
		s.store = mem
		s.auditSink = repository.NewMemoryAuditSink(s.auditLimit)
		s.closers = append(s.closers, func(context.Context) error { return mem.Close() })

	case config.StoreRedis:
		rs := repository.NewRedisStore(
			redis.NewClient(&redis.Options{Addr: s.redisAddr}),
			repository.WithAuditLimit(s.auditLimit),
		)
		s.closers = append(s.closers, func(context.Context) error { return rs.Close() })
		if err := rs.Ping(cctx); err != nil {
			return err
		}
		s.store = rs
		s.auditSink = rs

	case config.StoreMongo:
		client, err := repository.ConnectMongo(cctx, s.mongoURI)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func(ctx context.Context) error { return client.Disconnect(ctx) })
		ms := repository.NewMongoStore(client.Database(s.mongoDatabase))
		s.store = ms
		s.auditSink = ms

	case config.StoreSQLite:
		ss, err := repository.OpenSQLite(cctx, s.sqlitePath)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func(context.Context) error { return ss.Close() })
		s.store = ss
		s.auditSink = ss

	default:
		return fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, s.backend)
	}
	return nil
}

// closeAll runs closers in reverse order.
func (s *Service) closeAll(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
			s.logger.Error(ctx, "error closing store", logger.Error(err))
		}
	}
	s.closers = nil
}

// Stop drains the audit queue and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping calmmind service...")

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "audit drain incomplete", logger.Error(err))
	}
	s.cancelRun()
	s.closeAll(ctx)

	s.started = false
	s.logger.Info(ctx, "calmmind service stopped",
		logger.Int64("auditWritten", s.workerPool.Written()),
		logger.Int64("auditFailed", s.workerPool.Failed()),
	)
}

// SeenAndRecord atomically checks if an idempotency key was seen and
// records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, key string) bool {
	return s.deduper.SeenAndRecord(ctx, key)
}

// Remember caches the response of a recorded key.
func (s *Service) Remember(ctx context.Context, key string, resp model.TuningResponse) {
	s.deduper.Remember(ctx, key, resp)
}

// Lookup returns the cached response of key.
func (s *Service) Lookup(ctx context.Context, key string) (model.TuningResponse, bool) {
	return s.deduper.Lookup(ctx, key)
}

// Unrecord removes a key so the submission can be retried.
func (s *Service) Unrecord(ctx context.Context, key string) {
	s.deduper.Unrecord(ctx, key)
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// SubmitTuning folds p into its cohort.
func (s *Service) SubmitTuning(ctx context.Context, p model.CohortPayload) (model.TuningResponse, error) {
	agg, err := s.agg()
	if err != nil {
		return model.TuningResponse{}, err
	}
	return agg.Submit(ctx, p)
}

// Cohort returns the stored stats of cohortID.
func (s *Service) Cohort(ctx context.Context, cohortID string) (model.CohortStats, error) {
	agg, err := s.agg()
	if err != nil {
		return model.CohortStats{}, err
	}
	return agg.Cohort(ctx, cohortID)
}

func (s *Service) agg() (*tuning.Aggregator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.aggregator, nil
}

// RiskConfig returns a copy of the default scoring config.
func (s *Service) RiskConfig() model.ScoringConfig {
	return s.risk.Clone()
}

// Weekly evaluates days with cfg, or the service config when cfg is nil.
func (s *Service) Weekly(ctx context.Context, days []model.DailyMetrics, weather []model.EnvironmentMetrics, cfg *model.ScoringConfig) model.WeeklySummary {
	_, span := s.tracer.Start(ctx, "weekly.Build", trace.WithAttributes(attribute.Int("days", len(days))))
	defer span.End()

	risk := s.risk
	if cfg != nil {
		risk = *cfg
	}
	eval := &observedEvaluator{engine: scoring.NewEngine(risk, weather), threshold: risk.RiskThreshold}
	summary := weekly.Build(days, weather, risk, eval)
	metrics.RecordWeeklySummary()
	span.SetAttributes(attribute.Int("interventions", summary.InterventionCount))
	return summary
}

// observedEvaluator records a metric per evaluated day.
type observedEvaluator struct {
	engine    *scoring.Engine
	threshold float64
}

func (e *observedEvaluator) Evaluate(day model.DailyMetrics) model.RiskInsight {
	start := time.Now()
	insight := e.engine.Evaluate(day)
	metrics.RecordInsightEvaluated(string(insight.Action), insight.Score >= e.threshold,
		float64(time.Since(start).Microseconds())/1000)
	return insight
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":        s.started,
		"store":          s.backend,
		"auditWorkers":   s.workerCount,
		"auditQueueSize": s.queueSize,
		"dedupeSize":     s.dedupeSize,
		"auditLimit":     s.auditLimit,
	}
	if s.workerPool != nil {
		stats["auditWritten"] = s.workerPool.Written()
		stats["auditFailed"] = s.workerPool.Failed()
	}
	if ring, ok := s.auditSink.(interface{ Len() int }); ok {
		stats["auditRetained"] = ring.Len()
	}

	if s.started {
		stats["auditQueueLength"] = s.auditQueue.Len(ctx)
		stats["idempotencyKeys"] = s.deduper.Size()
		if snap, err := s.store.Snapshot(ctx); err == nil {
			stats["cohorts"] = len(snap)
			metrics.UpdateCohortsTracked(len(snap))
		} else {
			s.logger.Warn(ctx, "cohort snapshot failed", logger.Error(err))
		}
	}
	return stats
}
