// Package worker delivers queued risk alerts to a Notifier.
package worker

import (
	"time"

	"github.com/okian/trustscore/pkg/logger"
)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger; workers derive named children from it.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDeliveryAttempts bounds how many times one alert is offered to the notifier.
func WithDeliveryAttempts(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithRetryDelay sets the initial wait between delivery attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.retryDelay = d
		}
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for workers to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.shutdownTimeout = d
		}
	}
}
