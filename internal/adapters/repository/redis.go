package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/trustscore/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps accounts and events in Redis so several service
// instances can score the same accounts. Score commits use WATCH on the
// account hash; the version field is the compare-and-set token.
type RedisStore struct {
	client *redis.Client
	opts   options
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr string, db int, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %v", ErrUnavailable, err)
	}
	return NewRedisStore(client, opts...), nil
}

// NewRedisStore wraps an existing client. The store owns the client and
// closes it on Close.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, opts: o}
}

func (s *RedisStore) accountKey(id string) string { return s.opts.keyPrefix + ":acct:" + id }
func (s *RedisStore) devicesKey(id string) string { return s.accountKey(id) + ":devices" }
func (s *RedisStore) recentKey(id string) string  { return s.accountKey(id) + ":recent" }
func (s *RedisStore) emailKey(email string) string {
	return s.opts.keyPrefix + ":email:" + email
}
func (s *RedisStore) eventsKey(id string, kind model.EventKind) string {
	return s.accountKey(id) + ":events:" + string(kind)
}
func (s *RedisStore) statsKey(name string) string { return s.opts.keyPrefix + ":stats:" + name }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Create implements AccountStore.
func (s *RedisStore) Create(ctx context.Context, acct model.Account) error {
	defer observe(BackendRedis, "create", time.Now())
	if err := validateAccount(acct); err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.emailKey(acct.Email), acct.ID, 0).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	key := s.accountKey(acct.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"email", acct.Email,
				"password_hash", acct.PasswordHash,
				"score", acct.Score,
				"version", acct.Version,
				"created_at", toMillis(acct.CreatedAt),
				"updated_at", toMillis(acct.UpdatedAt),
			)
			if len(acct.KnownDevices) > 0 {
				pipe.SAdd(ctx, s.devicesKey(acct.ID), toAny(acct.KnownDevices)...)
			}
			pipe.Incr(ctx, s.statsKey("accounts"))
			return nil
		})
		return err
	}, key)
	if err == nil {
		return nil
	}

	// Release the email claim so the address can be registered again.
	_ = s.client.Del(ctx, s.emailKey(acct.Email)).Err()
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, redis.TxFailedErr) {
		return ErrAlreadyExists
	}
	return unavailable(err)
}

// Get implements AccountStore.
func (s *RedisStore) Get(ctx context.Context, accountID string) (model.Account, error) {
	defer observe(BackendRedis, "get", time.Now())
	return s.load(ctx, s.client, accountID)
}

// GetByEmail implements AccountStore.
func (s *RedisStore) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	defer observe(BackendRedis, "get_by_email", time.Now())
	id, err := s.client.Get(ctx, s.emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	return s.load(ctx, s.client, id)
}

// accountReader is satisfied by both *redis.Client and a watching *redis.Tx.
type accountReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// load reads the account hash and device set through c.
func (s *RedisStore) load(ctx context.Context, c accountReader, accountID string) (model.Account, error) {
	fields, err := c.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	if len(fields) == 0 {
		return model.Account{}, ErrNotFound
	}
	devices, err := c.SMembers(ctx, s.devicesKey(accountID)).Result()
	if err != nil {
		return model.Account{}, unavailable(err)
	}
	return decodeAccount(accountID, fields, devices)
}

// CompareAndSet implements AccountStore. A concurrent writer touching the
// account hash between WATCH and EXEC is reported as ErrConflict.
func (s *RedisStore) CompareAndSet(ctx context.Context, accountID string, expectedVersion int64, score int, addDevices []string, at time.Time) (model.Account, error) {
	defer observe(BackendRedis, "compare_and_set", time.Now())
	key := s.accountKey(accountID)
	var updated model.Account

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return ErrConflict
		}
		next := cur.Clone()
		next.Score = model.ClampScore(score)
		next.KnownDevices = model.MergeDevices(cur.KnownDevices, addDevices)
		next.Version = cur.Version + 1
		next.UpdatedAt = at

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"score", next.Score,
				"version", next.Version,
				"updated_at", toMillis(at),
			)
			if len(addDevices) > 0 {
				pipe.SAdd(ctx, s.devicesKey(accountID), toAny(addDevices)...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}, key)

	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrConflict):
		return model.Account{}, ErrConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
		return model.Account{}, err
	default:
		return model.Account{}, unavailable(err)
	}
}

// Append implements EventStore.
func (s *RedisStore) Append(ctx context.Context, ev model.Event) error {
	defer observe(BackendRedis, "append", time.Now())
	if err := validateEvent(ev); err != nil {
		return err
	}
	blob, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	recent := s.recentKey(ev.AccountID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.eventsKey(ev.AccountID, ev.Kind), redis.Z{
			Score:  float64(toMillis(ev.OccurredAt)),
			Member: ev.ID,
		})
		pipe.LPush(ctx, recent, blob)
		pipe.LTrim(ctx, recent, 0, int64(s.opts.recentCap-1))
		pipe.Incr(ctx, s.statsKey("events"))
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// CountInWindow implements EventStore. Timestamps have millisecond resolution.
func (s *RedisStore) CountInWindow(ctx context.Context, accountID string, kind model.EventKind, since, until time.Time) (int, error) {
	defer observe(BackendRedis, "count_in_window", time.Now())
	if until.Before(since) {
		return 0, nil
	}
	n, err := s.client.ZCount(ctx, s.eventsKey(accountID, kind),
		strconv.FormatInt(toMillis(since), 10),
		strconv.FormatInt(toMillis(until), 10),
	).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// ListRecent implements EventStore.
func (s *RedisStore) ListRecent(ctx context.Context, accountID string, limit int) ([]model.Event, error) {
	defer observe(BackendRedis, "list_recent", time.Now())
	limit = normalizeLimit(limit, s.opts.recentCap)
	blobs, err := s.client.LRange(ctx, s.recentKey(accountID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]model.Event, 0, len(blobs))
	for _, b := range blobs {
		var ev model.Event
		if err := json.Unmarshal([]byte(b), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Prune implements Store. It trims the per-kind window sets; the recent
// lists are already capped and keep their entries.
func (s *RedisStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observe(BackendRedis, "prune", time.Now())
	upper := "(" + strconv.FormatInt(toMillis(cutoff), 10)
	var removed int64
	iter := s.client.Scan(ctx, 0, s.opts.keyPrefix+":acct:*:events:*", 500).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", upper).Result()
		if err != nil {
			return removed, unavailable(err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable(err)
	}
	if removed > 0 {
		if err := s.client.DecrBy(ctx, s.statsKey("events"), removed).Err(); err != nil {
			return removed, unavailable(err)
		}
	}
	return removed, nil
}

// Stats implements Store.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	vals, err := s.client.MGet(ctx, s.statsKey("accounts"), s.statsKey("events")).Result()
	if err != nil {
		return Stats{}, unavailable(err)
	}
	st := Stats{Backend: BackendRedis}
	st.Accounts = parseCounter(vals[0])
	st.Events = parseCounter(vals[1])
	return st, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeAccount(id string, fields map[string]string, devices []string) (model.Account, error) {
	score, err := strconv.Atoi(fields["score"])
	if err != nil {
		return model.Account{}, fmt.Errorf("decode score: %w", err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return model.Account{}, fmt.Errorf("decode version: %w", err)
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	if devices == nil {
		devices = []string{}
	}
	return model.Account{
		ID:           id,
		Email:        fields["email"],
		PasswordHash: fields["password_hash"],
		Score:        score,
		KnownDevices: devices,
		Version:      version,
		CreatedAt:    fromMillis(created),
		UpdatedAt:    fromMillis(updated),
	}, nil
}

func parseCounter(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
