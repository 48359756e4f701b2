package service

import (
	"context"
	"errors"
	"strings"

	"github.com/okian/trustscore/internal/adapters/mq/queue"
	"github.com/okian/trustscore/internal/domain/dedupe"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/internal/domain/risk"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
)

// DefaultIP stands in for a missing client address.
const DefaultIP = "127.0.0.1"

// EventResult is what RecordEvent committed. Duplicate submissions return the
// current score with Duplicate set and no delta.
type EventResult struct {
	EventID    string
	Delta      int
	Score      int
	Risk       risk.Label
	FiredRules []string
	Duplicate  bool
}

// TrustView is an account's current score and label.
type TrustView struct {
	AccountID string
	Score     int
	Risk      risk.Label
}

func normalizeIP(ip string) string {
	if ip = strings.TrimSpace(ip); ip != "" {
		return ip
	}
	return DefaultIP
}

// RecordEvent scores one security event. A non-empty idempotencyKey makes
// retries of the same submission score once.
func (s *Service) RecordEvent(ctx context.Context, accountID string, kind model.EventKind, deviceID, ip, idempotencyKey string) (EventResult, error) {
	d, err := s.components()
	if err != nil {
		return EventResult{}, err
	}

	key := ""
	if idempotencyKey = strings.TrimSpace(idempotencyKey); idempotencyKey != "" {
		key = dedupe.Key(accountID, idempotencyKey)
		if d.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordDuplicateEvent()
			view, err := s.trust(ctx, d, accountID)
			if err != nil {
				return EventResult{}, err
			}
			return EventResult{Score: view.Score, Risk: view.Risk, Duplicate: true}, nil
		}
	}

	out, err := s.apply(ctx, d, model.Submission{
		AccountID: accountID,
		Kind:      kind,
		DeviceID:  deviceID,
		IP:        normalizeIP(ip),
	})
	if err != nil {
		if key != "" {
			d.deduper.Unrecord(ctx, key)
		}
		return EventResult{}, err
	}
	return EventResult{
		EventID:    out.EventID,
		Delta:      out.Delta,
		Score:      out.Score,
		Risk:       risk.Classify(out.Score),
		FiredRules: out.FiredRules,
	}, nil
}

// apply runs the engine and raises a risk alert when the label changes.
func (s *Service) apply(ctx context.Context, d *deps, sub model.Submission) (model.Outcome, error) {
	out, err := d.engine.Apply(ctx, sub)
	if err != nil {
		return model.Outcome{}, err
	}
	from, to, changed := risk.Transition(out.PreviousScore, out.Score)
	if !changed {
		return out, nil
	}
	metrics.RecordRiskTransition(from.String(), to.String())
	alert := model.RiskAlert{
		AccountID: sub.AccountID,
		From:      from.String(),
		To:        to.String(),
		Score:     out.Score,
		At:        s.clock(),
	}
	if err := d.alerts.Enqueue(ctx, alert); err != nil {
		// The score is committed; a lost alert is only logged.
		level := s.logger.Warn
		if errors.Is(err, queue.ErrClosed) {
			level = s.logger.Debug
		}
		level(ctx, "risk alert dropped",
			logger.String("account_id", sub.AccountID),
			logger.Error(err),
		)
	}
	return out, nil
}

// Trust returns the account's committed score and risk label.
func (s *Service) Trust(ctx context.Context, accountID string) (TrustView, error) {
	d, err := s.components()
	if err != nil {
		return TrustView{}, err
	}
	return s.trust(ctx, d, accountID)
}

func (s *Service) trust(ctx context.Context, d *deps, accountID string) (TrustView, error) {
	acct, err := d.store.Get(ctx, accountID)
	if err != nil {
		return TrustView{}, mapStoreErr(err)
	}
	return TrustView{AccountID: acct.ID, Score: acct.Score, Risk: risk.Classify(acct.Score)}, nil
}

// RecentEvents returns up to limit of the account's events, newest first.
func (s *Service) RecentEvents(ctx context.Context, accountID string, limit int) ([]model.Event, error) {
	d, err := s.components()
	if err != nil {
		return nil, err
	}
	if _, err := d.store.Get(ctx, accountID); err != nil {
		return nil, mapStoreErr(err)
	}
	events, err := d.store.ListRecent(ctx, accountID, limit)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return events, nil
}
