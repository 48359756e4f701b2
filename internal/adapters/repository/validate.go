package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/metrics"
)

func validateEvent(ev model.Event) error {
	switch {
	case strings.TrimSpace(ev.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case strings.TrimSpace(ev.AccountID) == "":
		return fmt.Errorf("%w: account id is required", ErrInvalidEvent)
	case !ev.Kind.Valid():
		return fmt.Errorf("%w: %w", ErrInvalidEvent, model.ErrUnknownEventKind)
	case ev.OccurredAt.IsZero():
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidEvent)
	}
	return nil
}

func validateAccount(acct model.Account) error {
	switch {
	case strings.TrimSpace(acct.ID) == "":
		return fmt.Errorf("%w: account id is required", ErrInvalidAccount)
	case strings.TrimSpace(acct.Email) == "":
		return fmt.Errorf("%w: email is required", ErrInvalidAccount)
	case acct.Score < model.MinScore || acct.Score > model.MaxScore:
		return fmt.Errorf("%w: score %d out of range", ErrInvalidAccount, acct.Score)
	}
	return nil
}

// observe records how long one backend call took.
func observe(backend, op string, start time.Time) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000.0)
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
