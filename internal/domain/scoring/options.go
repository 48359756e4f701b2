package scoring

import (
	"time"

	"github.com/okian/trustscore/internal/domain/rules"
	"github.com/okian/trustscore/internal/syncutil"
	"github.com/okian/trustscore/pkg/logger"
)

// Defaults for the commit loop.
const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 2 * time.Millisecond
	DefaultMaxBackoff     = 50 * time.Millisecond
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now as the source of event timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator replaces the event id source.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithMaxAttempts bounds how many times a conflicting commit is re-evaluated.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff sets the jittered exponential wait between commit attempts.
func WithBackoff(initial, maxWait time.Duration) Option {
	return func(e *Engine) {
		if initial > 0 && maxWait >= initial {
			e.initialBackoff = initial
			e.maxBackoff = maxWait
		}
	}
}

// WithCatalog replaces the default rule catalog.
func WithCatalog(c rules.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithLocker serializes applies per account inside this process.
func WithLocker(l syncutil.KeyedLocker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
