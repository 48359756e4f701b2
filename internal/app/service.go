// Package service wires the trust scoring engine, the account store, the
// credential layer and the risk alert pipeline into the operations the HTTP
// API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/trustscore/internal/adapters/mq/queue"
	"github.com/okian/trustscore/internal/adapters/mq/worker"
	"github.com/okian/trustscore/internal/adapters/repository"
	"github.com/okian/trustscore/internal/auth/password"
	"github.com/okian/trustscore/internal/auth/token"
	"github.com/okian/trustscore/internal/config"
	"github.com/okian/trustscore/internal/domain/dedupe"
	"github.com/okian/trustscore/internal/domain/scoring"
	"github.com/okian/trustscore/internal/syncutil"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
	"github.com/robfig/cron/v3"
)

const (
	defaultDedupeSize     = 50000
	defaultAlertQueueSize = 1024
	defaultAlertWorkers   = 2
	defaultTokenTTL       = token.DefaultTTL
	stopTimeout           = 10 * time.Second
)

// Service implements the API dependencies for the trust scoring system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store   repository.Store
	engine  *scoring.Engine
	hasher  *password.Hasher
	tokens  *token.Manager
	deduper dedupe.Deduper
	alerts  *queue.InMemoryQueue
	pool    *worker.Pool

	// Configuration
	ownsStore         bool
	backend           string
	redisAddr         string
	redisDB           int
	redisPrefix       string
	sqlitePath        string
	postgresDSN       string
	postgresMaxConns  int
	tokenSecret       string
	tokenIssuer       string
	tokenTTL          time.Duration
	passwordParams    password.Params
	maxAttempts       int
	commitBackoff     time.Duration
	accountLocks      bool
	dedupeSize        int
	alertQueueSize    int
	alertWorkers      int
	notifiers         []worker.Notifier
	retention         time.Duration
	retentionSchedule string
	cron              *cron.Cron
	clock             func() time.Time
	newID             func() string

	started bool
	logger  logger.Logger
}

// New constructs a Service with default configuration. Nothing is opened
// until Start.
func New(opts ...Option) *Service {
	s := &Service{
		ownsStore:         true,
		backend:           config.BackendMemory,
		redisAddr:         "localhost:6379",
		redisPrefix:       "trust",
		sqlitePath:        "trustscore.db",
		postgresMaxConns:  10,
		retentionSchedule: DefaultRetentionSchedule,
		tokenIssuer:       token.DefaultIssuer,
		tokenTTL:          defaultTokenTTL,
		passwordParams:    password.DefaultParams(),
		maxAttempts:       scoring.DefaultMaxAttempts,
		commitBackoff:     scoring.DefaultInitialBackoff,
		accountLocks:      true,
		dedupeSize:        defaultDedupeSize,
		alertQueueSize:    defaultAlertQueueSize,
		alertWorkers:      defaultAlertWorkers,
		clock:             func() time.Time { return time.Now().UTC() },
		newID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and builds every component. Calling Start on a
// running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting trust service...", logger.String("backend", s.backend))

	hasher, err := password.NewHasher(s.passwordParams)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}
	tokens, err := token.NewManager(s.tokenSecret,
		token.WithIssuer(s.tokenIssuer),
		token.WithTTL(s.tokenTTL),
		token.WithClock(s.clock),
	)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
		s.ownsStore = true
	}

	var locker syncutil.KeyedLocker = syncutil.NopLocker{}
	if s.accountLocks {
		locker = syncutil.NewShardedLocker()
	}
	s.engine = scoring.NewEngine(s.store, s.store,
		scoring.WithClock(s.clock),
		scoring.WithMaxAttempts(s.maxAttempts),
		scoring.WithBackoff(s.commitBackoff, scoring.DefaultMaxBackoff),
		scoring.WithLocker(locker),
		scoring.WithLogger(s.logger.Named("scoring")),
	)
	s.hasher = hasher
	s.tokens = tokens
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	s.alerts = queue.NewInMemoryQueue(queue.WithCapacity(s.alertQueueSize))
	notifier := append(worker.Fanout{worker.LogNotifier{Logger: s.logger.Named("alerts")}}, s.notifiers...)
	s.pool = worker.NewPool(s.alertWorkers, s.alerts, notifier, worker.WithLogger(s.logger))
	// Workers outlive the start context; Stop ends them.
	s.pool.Start(context.WithoutCancel(ctx))

	if err := s.startRetention(); err != nil {
		_ = s.alerts.Close()
		_ = s.pool.Shutdown(ctx)
		if s.ownsStore {
			_ = s.store.Close()
			s.store = nil
		}
		return err
	}

	s.started = true
	s.logger.Info(ctx, "trust service started",
		logger.String("backend", s.backend),
		logger.Bool("accountLocks", s.accountLocks),
		logger.Int("alertWorkers", s.alertWorkers),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	switch s.backend {
	case config.BackendMemory:
		return repository.NewMemoryStore(), nil
	case config.BackendRedis:
		store, err := repository.OpenRedis(ctx, s.redisAddr, s.redisDB, repository.WithKeyPrefix(s.redisPrefix))
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		store, err := repository.OpenSQLite(ctx, s.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		store, err := repository.OpenPostgres(ctx, s.postgresDSN, repository.WithMaxConns(int32(s.postgresMaxConns)))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.backend)
	}
}

// Stop drains pending alerts and closes the store it opened.
func (s *Service) Stop() {
	ctx := context.Background()
	shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	// A running prune needs the read lock, so the scheduler stops first.
	s.stopRetention(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping trust service...")

	_ = s.alerts.Close()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "alert workers did not drain", logger.Error(err))
	}

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "closing store", logger.Error(err))
		}
		s.store = nil
	}

	s.started = false
	s.logger.Info(ctx, "trust service stopped")
}

// components returns the running components or ErrNotStarted.
func (s *Service) components() (*deps, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return &deps{
		store:   s.store,
		engine:  s.engine,
		hasher:  s.hasher,
		tokens:  s.tokens,
		deduper: s.deduper,
		alerts:  s.alerts,
	}, nil
}

// deps is a snapshot of the started components so operations do not hold
// the service lock while talking to the store.
type deps struct {
	store   repository.Store
	engine  *scoring.Engine
	hasher  *password.Hasher
	tokens  *token.Manager
	deduper dedupe.Deduper
	alerts  *queue.InMemoryQueue
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":      s.started,
		"backend":      s.backend,
		"accountLocks": s.accountLocks,
		"alertWorkers": s.alertWorkers,
		"dedupeSize":   s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	stats["alertQueueLength"] = s.alerts.Len()
	stats["dedupeKeys"] = s.deduper.Size()
	delivered, failed := s.pool.Stats()
	stats["alertsDelivered"] = delivered
	stats["alertsFailed"] = failed

	st, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn(ctx, "store stats unavailable", logger.Error(err))
		metrics.RecordErrorByComponent("store", "stats")
		return stats
	}
	stats["accounts"] = st.Accounts
	stats["events"] = st.Events
	return stats
}

// mapStoreErr translates repository errors into the service taxonomy.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrInvalidAccount), errors.Is(err, repository.ErrInvalidEvent):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
