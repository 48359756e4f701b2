// Package scoring applies security events to account trust scores.
//
// An apply persists the event once, then runs the rule catalog against a
// fresh account snapshot and fresh window counts and commits the clamped
// score with a version compare-and-set. A lost race re-reads and
// re-evaluates; nothing computed for a failed attempt is reused.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/internal/domain/rules"
	"github.com/okian/trustscore/internal/syncutil"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
	"github.com/okian/trustscore/pkg/tracing"
)

// EventLog is the engine's view of the event store.
type EventLog interface {
	rules.WindowCounter
	Append(ctx context.Context, ev model.Event) error
}

// AccountLedger is the engine's view of the account store. CompareAndSet
// reports model.ErrVersionConflict when expectedVersion is stale and
// model.ErrAccountNotFound when the account is missing.
type AccountLedger interface {
	Get(ctx context.Context, accountID string) (model.Account, error)
	CompareAndSet(ctx context.Context, accountID string, expectedVersion int64, score int, addDevices []string, at time.Time) (model.Account, error)
}

// Engine scores events. It is safe for concurrent use.
type Engine struct {
	events   EventLog
	accounts AccountLedger
	catalog  rules.Catalog
	locker   syncutil.KeyedLocker
	clock    func() time.Time
	newID    func() string
	log      logger.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewEngine builds an engine over the given stores.
func NewEngine(events EventLog, accounts AccountLedger, opts ...Option) *Engine {
	e := &Engine{
		events:         events,
		accounts:       accounts,
		catalog:        rules.Default(),
		locker:         syncutil.NopLocker{},
		clock:          func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		log:            logger.Nop(),
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyEvent scores one event for accountID and returns the committed
// outcome. An empty deviceID is recorded as model.DefaultDeviceID.
func (e *Engine) ApplyEvent(ctx context.Context, accountID string, kind model.EventKind, deviceID string) (model.Outcome, error) {
	return e.Apply(ctx, model.Submission{AccountID: accountID, Kind: kind, DeviceID: deviceID})
}

// Apply is ApplyEvent with the full submission. On error the returned
// Outcome is zero and nothing is reported as committed; the event itself may
// already be in the log.
func (e *Engine) Apply(ctx context.Context, sub model.Submission) (out model.Outcome, err error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.apply",
		tracing.AccountID(sub.AccountID),
		tracing.EventKind(string(sub.Kind)),
	)
	defer func() {
		if err == nil {
			span.SetAttributes(tracing.Score(out.Score), tracing.Attempts(out.Attempts))
		}
		tracing.End(span, err)
	}()

	start := time.Now()
	if !sub.Kind.Valid() {
		return model.Outcome{}, fmt.Errorf("%w: %w %q", ErrInvalidInput, model.ErrUnknownEventKind, sub.Kind)
	}
	accountID := strings.TrimSpace(sub.AccountID)
	if accountID == "" {
		return model.Outcome{}, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}

	unlock, err := e.locker.LockContext(ctx, accountID)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("%w: acquire account scope: %w", ErrStoreUnavailable, err)
	}
	defer unlock()

	acct, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return model.Outcome{}, e.fail(ctx, "load", accountID, mapStoreErr(err))
	}

	ev := model.Event{
		ID:         e.newID(),
		AccountID:  accountID,
		Kind:       sub.Kind,
		DeviceID:   model.NormalizeDeviceID(sub.DeviceID),
		IP:         strings.TrimSpace(sub.IP),
		OccurredAt: e.clock(),
	}
	if err := e.events.Append(ctx, ev); err != nil {
		return model.Outcome{}, e.fail(ctx, "append", accountID, mapStoreErr(err))
	}

	out, err = e.commit(ctx, acct, ev)
	if err != nil {
		return model.Outcome{}, e.fail(ctx, "commit", accountID, err)
	}

	metrics.RecordEventApplied(string(ev.Kind))
	metrics.RecordCommitAttempts(out.Attempts)
	metrics.RecordCommittedScore(out.Score)
	metrics.RecordApplyLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	for _, name := range out.FiredRules {
		metrics.RecordRuleFired(name)
	}
	e.log.Debug(ctx, "event applied",
		logger.String("account_id", accountID),
		logger.String("kind", string(ev.Kind)),
		logger.Int("delta", out.Delta),
		logger.Int("score", out.Score),
		logger.Int("attempts", out.Attempts),
	)
	return out, nil
}

// commit evaluates and writes until the compare-and-set wins, a
// non-conflict error occurs, or attempts run out.
func (e *Engine) commit(ctx context.Context, loaded model.Account, ev model.Event) (model.Outcome, error) {
	attempts := 0
	op := func() (model.Outcome, error) {
		attempts++
		acct := loaded
		if attempts > 1 {
			fresh, err := e.accounts.Get(ctx, loaded.ID)
			if err != nil {
				return model.Outcome{}, backoff.Permanent(mapStoreErr(err))
			}
			acct = fresh
		}

		eval, err := e.catalog.Evaluate(ctx, rules.Input{Account: acct, Event: ev, Counter: e.events})
		if err != nil {
			return model.Outcome{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}
		next := model.ClampScore(acct.Score + eval.Delta)

		if _, err := e.accounts.CompareAndSet(ctx, acct.ID, acct.Version, next, eval.NewDevices, ev.OccurredAt); err != nil {
			if errors.Is(err, model.ErrVersionConflict) {
				metrics.RecordCommitConflict()
				return model.Outcome{}, ErrConflict
			}
			return model.Outcome{}, backoff.Permanent(mapStoreErr(err))
		}
		return model.Outcome{
			EventID:       ev.ID,
			Delta:         eval.Delta,
			PreviousScore: acct.Score,
			Score:         next,
			FiredRules:    eval.FiredRules,
			Attempts:      attempts,
		}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.MaxInterval = e.maxBackoff

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.maxAttempts)),
	)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ErrConflict) {
		return model.Outcome{}, fmt.Errorf("%w: gave up after %d attempts: %w", ErrStoreUnavailable, attempts, ErrConflict)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return model.Outcome{}, err
	}
	return model.Outcome{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (e *Engine) fail(ctx context.Context, stage, accountID string, err error) error {
	reason := "store"
	switch {
	case errors.Is(err, ErrNotFound):
		reason = "not_found"
	case errors.Is(err, ErrConflict):
		reason = "conflict"
	}
	metrics.RecordCommitFailure(reason)
	if reason != "not_found" {
		e.log.Warn(ctx, "apply failed",
			logger.String("stage", stage),
			logger.String("account_id", accountID),
			logger.Error(err),
		)
	}
	return err
}

// mapStoreErr translates store errors into the engine's taxonomy.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, model.ErrAccountNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, model.ErrVersionConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
