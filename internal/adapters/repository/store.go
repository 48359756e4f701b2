// Package repository defines the account and event stores and their backends.
package repository

import (
	"context"
	"time"

	"github.com/okian/trustscore/internal/domain/model"
)

// EventStore is the append-only security event log.
type EventStore interface {
	// Append persists ev. Events are never modified after this call.
	Append(ctx context.Context, ev model.Event) error
	// CountInWindow counts events of kind for accountID with
	// since <= OccurredAt <= until.
	CountInWindow(ctx context.Context, accountID string, kind model.EventKind, since, until time.Time) (int, error)
	// ListRecent returns up to limit events, newest first.
	ListRecent(ctx context.Context, accountID string, limit int) ([]model.Event, error)
}

// AccountStore holds the mutable per-account record.
type AccountStore interface {
	// Create inserts a new account. Returns ErrAlreadyExists when the id or
	// email is taken.
	Create(ctx context.Context, acct model.Account) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, accountID string) (model.Account, error)
	// GetByEmail returns ErrNotFound for unknown emails.
	GetByEmail(ctx context.Context, email string) (model.Account, error)
	// CompareAndSet atomically sets score, adds devices to the known set and
	// bumps the version, only if the stored version equals expectedVersion.
	// Returns ErrConflict when the version moved and ErrNotFound when the
	// account is gone. The updated account is returned on success.
	CompareAndSet(ctx context.Context, accountID string, expectedVersion int64, score int, addDevices []string, at time.Time) (model.Account, error)
}

// Stats summarizes store contents.
type Stats struct {
	Backend  string `json:"backend"`
	Accounts int64  `json:"accounts"`
	Events   int64  `json:"events"`
}

// Store is a complete backend.
type Store interface {
	EventStore
	AccountStore
	// Prune drops events with OccurredAt before cutoff from the window
	// index and reports how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// normalizeLimit clamps a ListRecent limit to [1, maxLimit].
func normalizeLimit(limit, maxLimit int) int {
	if limit <= 0 || limit > maxLimit {
		return maxLimit
	}
	return limit
}
