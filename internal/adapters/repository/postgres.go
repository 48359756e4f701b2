package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/okian/trustscore/internal/adapters/repository/migrations"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/pressly/goose/v3"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore keeps accounts and events in PostgreSQL. Like the SQLite
// backend, score commits are conditional UPDATEs on the version column.
type PostgresStore struct {
	pool *pgxpool.Pool
	// db shares pool connections with database/sql for migrations.
	db   *sql.DB
	opts options
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OpenPostgres connects to dsn and applies the embedded migrations.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = o.maxConns
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	if err := migrate(ctx, db, goose.DialectPostgres, migrations.Postgres()); err != nil {
		_ = db.Close()
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresStore{pool: pool, db: db, opts: o}, nil
}

// Create implements AccountStore.
func (s *PostgresStore) Create(ctx context.Context, acct model.Account) (err error) {
	defer observe(BackendPostgres, "create", time.Now())
	if err := validateAccount(acct); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash, score, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acct.ID, acct.Email, acct.PasswordHash, acct.Score, acct.Version,
		pgTime(acct.CreatedAt), pgTime(acct.UpdatedAt),
	)
	if isPgUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return unavailable(err)
	}
	if err = insertPgDevices(ctx, tx, acct.ID, acct.KnownDevices, acct.CreatedAt); err != nil {
		return unavailable(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Get implements AccountStore.
func (s *PostgresStore) Get(ctx context.Context, accountID string) (model.Account, error) {
	defer observe(BackendPostgres, "get", time.Now())
	return s.load(ctx, s.pool, `WHERE id = $1`, accountID)
}

// GetByEmail implements AccountStore.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	defer observe(BackendPostgres, "get_by_email", time.Now())
	return s.load(ctx, s.pool, `WHERE email = $1`, email)
}

func (s *PostgresStore) load(ctx context.Context, q pgQuerier, where string, arg any) (model.Account, error) {
	var acct model.Account
	err := q.QueryRow(ctx,
		`SELECT id, email, password_hash, score, version, created_at, updated_at FROM accounts `+where, arg,
	).Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.Score, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()

	rows, err := q.Query(ctx,
		`SELECT device_id FROM account_devices WHERE account_id = $1 ORDER BY added_at, seq`, acct.ID)
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	devices, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	acct.KnownDevices = append([]string{}, devices...)
	return acct, nil
}

// CompareAndSet implements AccountStore.
func (s *PostgresStore) CompareAndSet(ctx context.Context, accountID string, expectedVersion int64, score int, addDevices []string, at time.Time) (_ model.Account, err error) {
	defer observe(BackendPostgres, "compare_and_set", time.Now())
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET score = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		model.ClampScore(score), pgTime(at), accountID, expectedVersion,
	)
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		var v int64
		err = tx.QueryRow(ctx, `SELECT version FROM accounts WHERE id = $1`, accountID).Scan(&v)
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrNotFound
			return model.Account{}, err
		}
		if err != nil {
			return model.Account{}, unavailable(err)
		}
		err = ErrConflict
		return model.Account{}, err
	}
	if err = insertPgDevices(ctx, tx, accountID, addDevices, at); err != nil {
		return model.Account{}, unavailable(err)
	}
	acct, err := s.load(ctx, tx, `WHERE id = $1`, accountID)
	if err != nil {
		return model.Account{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return model.Account{}, unavailable(err)
	}
	return acct, nil
}

func insertPgDevices(ctx context.Context, tx pgx.Tx, accountID string, devices []string, at time.Time) error {
	if len(devices) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range devices {
		batch.Queue(
			`INSERT INTO account_devices (account_id, device_id, added_at) VALUES ($1, $2, $3)
			 ON CONFLICT (account_id, device_id) DO NOTHING`,
			accountID, d, pgTime(at),
		)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// Append implements EventStore.
func (s *PostgresStore) Append(ctx context.Context, ev model.Event) error {
	defer observe(BackendPostgres, "append", time.Now())
	if err := validateEvent(ev); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, account_id, kind, device_id, ip, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.AccountID, string(ev.Kind), ev.DeviceID, ev.IP, pgTime(ev.OccurredAt),
	)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidEvent, ev.ID)
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// CountInWindow implements EventStore.
func (s *PostgresStore) CountInWindow(ctx context.Context, accountID string, kind model.EventKind, since, until time.Time) (int, error) {
	defer observe(BackendPostgres, "count_in_window", time.Now())
	if until.Before(since) {
		return 0, nil
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE account_id = $1 AND kind = $2 AND occurred_at BETWEEN $3 AND $4`,
		accountID, string(kind), pgTime(since), pgTime(until),
	).Scan(&n)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// ListRecent implements EventStore.
func (s *PostgresStore) ListRecent(ctx context.Context, accountID string, limit int) ([]model.Event, error) {
	defer observe(BackendPostgres, "list_recent", time.Now())
	limit = normalizeLimit(limit, s.opts.recentCap)
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, kind, device_id, ip, occurred_at FROM events
		 WHERE account_id = $1 ORDER BY occurred_at DESC, seq DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, unavailable(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		var (
			ev   model.Event
			kind string
		)
		err := row.Scan(&ev.ID, &ev.AccountID, &kind, &ev.DeviceID, &ev.IP, &ev.OccurredAt)
		ev.Kind = model.EventKind(kind)
		ev.OccurredAt = ev.OccurredAt.UTC()
		return ev, err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Prune implements Store.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observe(BackendPostgres, "prune", time.Now())
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE occurred_at < $1`, pgTime(cutoff))
	if err != nil {
		return 0, unavailable(err)
	}
	return tag.RowsAffected(), nil
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: BackendPostgres}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM accounts), (SELECT COUNT(*) FROM events)`,
	).Scan(&st.Accounts, &st.Events)
	if err != nil {
		return Stats{}, unavailable(err)
	}
	return st, nil
}

// SchemaVersion returns the applied migration version.
func (s *PostgresStore) SchemaVersion(ctx context.Context) (int64, error) {
	return schemaVersion(ctx, s.db, goose.DialectPostgres, migrations.Postgres())
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	err := s.db.Close()
	s.pool.Close()
	return err
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// pgTime truncates to the millisecond resolution the other backends keep.
func pgTime(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }
