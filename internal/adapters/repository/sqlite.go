package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/trustscore/internal/adapters/repository/migrations"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteStore persists accounts and events in a single SQLite file. Score
// commits are conditional UPDATEs on the version column.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded migrations.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		filepath.Clean(path), o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(ctx, db, goose.DialectSQLite3, migrations.SQLite()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	// One writer at a time; concurrent commits queue on the pool instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, opts: o}, nil
}

// Create implements AccountStore.
func (s *SQLiteStore) Create(ctx context.Context, acct model.Account) (err error) {
	defer observe(BackendSQLite, "create", time.Now())
	if err := validateAccount(acct); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, score, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.Email, acct.PasswordHash, acct.Score, acct.Version,
		toMillis(acct.CreatedAt), toMillis(acct.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return unavailable(err)
	}
	if err = insertDevices(ctx, tx, acct.ID, acct.KnownDevices, acct.CreatedAt); err != nil {
		return unavailable(err)
	}
	if err = tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Get implements AccountStore.
func (s *SQLiteStore) Get(ctx context.Context, accountID string) (model.Account, error) {
	defer observe(BackendSQLite, "get", time.Now())
	return s.load(ctx, s.db, `WHERE id = ?`, accountID)
}

// GetByEmail implements AccountStore.
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	defer observe(BackendSQLite, "get_by_email", time.Now())
	return s.load(ctx, s.db, `WHERE email = ?`, email)
}

func (s *SQLiteStore) load(ctx context.Context, q querier, where string, arg any) (model.Account, error) {
	var (
		acct             model.Account
		created, updated int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, email, password_hash, score, version, created_at, updated_at FROM accounts `+where, arg,
	).Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.Score, &acct.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	acct.CreatedAt = fromMillis(created)
	acct.UpdatedAt = fromMillis(updated)

	rows, err := q.QueryContext(ctx,
		`SELECT device_id FROM account_devices WHERE account_id = ? ORDER BY added_at, rowid`, acct.ID)
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	defer rows.Close()
	acct.KnownDevices = []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return model.Account{}, unavailable(err)
		}
		acct.KnownDevices = append(acct.KnownDevices, d)
	}
	if err := rows.Err(); err != nil {
		return model.Account{}, unavailable(err)
	}
	return acct, nil
}

// CompareAndSet implements AccountStore.
func (s *SQLiteStore) CompareAndSet(ctx context.Context, accountID string, expectedVersion int64, score int, addDevices []string, at time.Time) (_ model.Account, err error) {
	defer observe(BackendSQLite, "compare_and_set", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET score = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		model.ClampScore(score), toMillis(at), accountID, expectedVersion,
	)
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	if n == 0 {
		var v int64
		err = tx.QueryRowContext(ctx, `SELECT version FROM accounts WHERE id = ?`, accountID).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		if err != nil {
			return model.Account{}, unavailable(err)
		}
		err = ErrConflict
		return model.Account{}, err
	}
	if err = insertDevices(ctx, tx, accountID, addDevices, at); err != nil {
		return model.Account{}, unavailable(err)
	}
	acct, err := s.load(ctx, tx, `WHERE id = ?`, accountID)
	if err != nil {
		return model.Account{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.Account{}, unavailable(err)
	}
	return acct, nil
}

func insertDevices(ctx context.Context, tx *sql.Tx, accountID string, devices []string, at time.Time) error {
	for _, d := range devices {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO account_devices (account_id, device_id, added_at) VALUES (?, ?, ?)`,
			accountID, d, toMillis(at),
		); err != nil {
			return err
		}
	}
	return nil
}

// Append implements EventStore.
func (s *SQLiteStore) Append(ctx context.Context, ev model.Event) error {
	defer observe(BackendSQLite, "append", time.Now())
	if err := validateEvent(ev); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, account_id, kind, device_id, ip, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AccountID, string(ev.Kind), ev.DeviceID, ev.IP, toMillis(ev.OccurredAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidEvent, ev.ID)
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// CountInWindow implements EventStore. Timestamps have millisecond resolution.
func (s *SQLiteStore) CountInWindow(ctx context.Context, accountID string, kind model.EventKind, since, until time.Time) (int, error) {
	defer observe(BackendSQLite, "count_in_window", time.Now())
	if until.Before(since) {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE account_id = ? AND kind = ? AND occurred_at BETWEEN ? AND ?`,
		accountID, string(kind), toMillis(since), toMillis(until),
	).Scan(&n)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// ListRecent implements EventStore.
func (s *SQLiteStore) ListRecent(ctx context.Context, accountID string, limit int) ([]model.Event, error) {
	defer observe(BackendSQLite, "list_recent", time.Now())
	limit = normalizeLimit(limit, s.opts.recentCap)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, kind, device_id, ip, occurred_at FROM events
		 WHERE account_id = ? ORDER BY occurred_at DESC, rowid DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	out := make([]model.Event, 0, limit)
	for rows.Next() {
		var (
			ev   model.Event
			kind string
			at   int64
		)
		if err := rows.Scan(&ev.ID, &ev.AccountID, &kind, &ev.DeviceID, &ev.IP, &at); err != nil {
			return nil, unavailable(err)
		}
		ev.Kind = model.EventKind(kind)
		ev.OccurredAt = fromMillis(at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observe(BackendSQLite, "prune", time.Now())
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE occurred_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: BackendSQLite}
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM accounts), (SELECT COUNT(*) FROM events)`,
	).Scan(&st.Accounts, &st.Events)
	if err != nil {
		return Stats{}, unavailable(err)
	}
	return st, nil
}

// SchemaVersion returns the applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int64, error) {
	return schemaVersion(ctx, s.db, goose.DialectSQLite3, migrations.SQLite())
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
