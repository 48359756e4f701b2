package service

import (
	"time"

	"github.com/okian/trustscore/internal/adapters/mq/worker"
	"github.com/okian/trustscore/internal/adapters/repository"
	"github.com/okian/trustscore/internal/auth/password"
	"github.com/okian/trustscore/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects an already opened store. The service does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.ownsStore = false
		}
	}
}

// WithBackend selects memory, redis, sqlite or postgres when no store is injected.
func WithBackend(backend string) Option {
	return func(s *Service) {
		if backend != "" {
			s.backend = backend
		}
	}
}

// WithRedis sets the Redis connection used by the redis backend.
func WithRedis(addr string, db int, prefix string) Option {
	return func(s *Service) {
		if addr != "" {
			s.redisAddr = addr
		}
		if db >= 0 {
			s.redisDB = db
		}
		if prefix != "" {
			s.redisPrefix = prefix
		}
	}
}

// WithSQLitePath sets the database file used by the sqlite backend.
func WithSQLitePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.sqlitePath = path
		}
	}
}

// WithPostgres sets the connection used by the postgres backend.
func WithPostgres(dsn string, maxConns int) Option {
	return func(s *Service) {
		if dsn != "" {
			s.postgresDSN = dsn
		}
		if maxConns > 0 {
			s.postgresMaxConns = maxConns
		}
	}
}

// WithTokenSecret sets the HS256 signing secret. Required.
func WithTokenSecret(secret string) Option {
	return func(s *Service) {
		s.tokenSecret = secret
	}
}

// WithTokenIssuer sets the iss claim.
func WithTokenIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.tokenIssuer = issuer
		}
	}
}

// WithTokenTTL sets how long issued tokens stay valid.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithPasswordParams sets Argon2id costs for new password hashes.
func WithPasswordParams(p password.Params) Option {
	return func(s *Service) {
		s.passwordParams = p
	}
}

// WithMaxCommitAttempts bounds score commit retries.
func WithMaxCommitAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCommitBackoff sets the initial wait between commit retries.
func WithCommitBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.commitBackoff = d
		}
	}
}

// WithAccountLocks toggles in-process per-account serialization.
func WithAccountLocks(enabled bool) Option {
	return func(s *Service) {
		s.accountLocks = enabled
	}
}

// WithDedupeSize bounds remembered idempotency keys.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithAlertQueueSize bounds pending risk alerts.
func WithAlertQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.alertQueueSize = size
		}
	}
}

// WithAlertWorkers sets the number of alert delivery workers.
func WithAlertWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.alertWorkers = n
		}
	}
}

// WithNotifier adds an alert sink. Alerts always go to the log as well.
func WithNotifier(n worker.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifiers = append(s.notifiers, n)
		}
	}
}

// WithClock replaces time.Now for event timestamps and tokens.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRetention prunes events older than maxAge on schedule, a cron
// expression or descriptor such as "@every 1h". Zero disables pruning.
func WithRetention(maxAge time.Duration, schedule string) Option {
	return func(s *Service) {
		if maxAge >= 0 {
			s.retention = maxAge
		}
		if schedule != "" {
			s.retentionSchedule = schedule
		}
	}
}
