package repository

import "time"

const (
	defaultKeyPrefix = "trust"
	defaultRecentCap = 100
)

type options struct {
	keyPrefix   string
	recentCap   int
	busyTimeout time.Duration
	maxConns    int32
}

func defaultOptions() options {
	return options{
		keyPrefix:   defaultKeyPrefix,
		recentCap:   defaultRecentCap,
		busyTimeout: 5 * time.Second,
		maxConns:    10,
	}
}

// Option configures a store.
type Option func(*options)

// WithKeyPrefix namespaces every Redis key.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithRecentCap bounds how many events ListRecent can return.
func WithRecentCap(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.recentCap = n
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxConns caps the PostgreSQL pool size.
func WithMaxConns(n int32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConns = n
		}
	}
}
