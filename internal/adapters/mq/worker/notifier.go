package worker

import (
	"context"
	"errors"

	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/logger"
)

// Notifier delivers one alert somewhere outside the service.
type Notifier interface {
	Notify(ctx context.Context, alert model.RiskAlert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, alert model.RiskAlert) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, alert model.RiskAlert) error { return f(ctx, alert) }

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	Logger logger.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, a model.RiskAlert) error {
	l := n.Logger
	if l == nil {
		l = logger.Nop()
	}
	l.Warn(ctx, "risk level changed",
		logger.String("account_id", a.AccountID),
		logger.String("from", a.From),
		logger.String("to", a.To),
		logger.Int("score", a.Score),
		logger.String("at", a.At.UTC().Format("2006-01-02T15:04:05.000Z07:00")),
	)
	return nil
}

// Fanout delivers every alert to each notifier in order. All notifiers run
// even when one fails; the errors are joined.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, a model.RiskAlert) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
