package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/trustscore/internal/domain/rules"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
)

// DefaultRetentionSchedule runs the event pruner hourly.
const DefaultRetentionSchedule = "@every 1h"

// minRetention keeps every event a burst rule can still count.
const minRetention = max(rules.OTPBurstWindow, rules.FailureBurstWindow)

// cronLogger routes cron's own messages to the service logger.
type cronLogger struct{ l logger.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug(context.Background(), msg, kvFields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(context.Background(), msg, append(kvFields(kv), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

// startRetention schedules the pruner when retention is enabled.
func (s *Service) startRetention() error {
	if s.retention <= 0 {
		return nil
	}
	cl := cronLogger{l: s.logger.Named("retention")}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.retentionSchedule, func() {
		if _, err := s.PruneEvents(context.Background()); err != nil {
			s.logger.Warn(context.Background(), "event pruning failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule event pruning %q: %w", s.retentionSchedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// stopRetention waits for a running prune to finish. It must be called
// without holding s.mu.
func (s *Service) stopRetention(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn(ctx, "event pruning still running at shutdown")
	}
}

// PruneEvents deletes events older than the retention period. Retention is
// never shorter than the longest rule window.
func (s *Service) PruneEvents(ctx context.Context) (int64, error) {
	d, err := s.components()
	if err != nil {
		return 0, err
	}
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.clock().Add(-max(s.retention, minRetention))
	n, err := d.store.Prune(ctx, cutoff)
	if err != nil {
		metrics.RecordErrorByComponent("retention", "prune")
		return 0, mapStoreErr(err)
	}
	if n > 0 {
		s.logger.Info(ctx, "pruned events",
			logger.Int64("removed", n),
			logger.String("cutoff", cutoff.Format(time.RFC3339)),
		)
	}
	return n, nil
}
