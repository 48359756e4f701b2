package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/internal/domain/risk"
	"github.com/okian/trustscore/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ErrInconsistent is returned when verification finds an account whose
// score or label is impossible.
var ErrInconsistent = errors.New("inconsistent account state")

// Run registers accounts, logs each in, fires mixed events concurrently and
// verifies the final scores.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()
	c := newClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting trust load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("accounts", cfg.Accounts),
		logger.Int("eventsPerAccount", cfg.EventsPerAccount),
		logger.Int("workers", cfg.Workers),
	)

	if status, err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil); err != nil || status != http.StatusOK {
		return stats, fmt.Errorf("service health check failed: status %d: %v", status, err)
	}

	accounts, err := setupAccounts(ctx, c, cfg, stats)
	if err != nil {
		return stats, fmt.Errorf("account setup failed: %w", err)
	}
	fireEvents(ctx, c, cfg, accounts, stats)
	if err := verify(ctx, c, cfg, accounts, stats); err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

func setupAccounts(ctx context.Context, c *client, cfg *Config, stats *Stats) ([]account, error) {
	accounts := make([]account, cfg.Accounts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.Workers))
	for i := range accounts {
		g.Go(func() error {
			creds := credentials{Email: "load-" + uuid.NewString() + "@example.com", Password: cfg.Password}
			var reg registerResponse
			status, err := c.do(gctx, http.MethodPost, "/auth/register", creds, nil, &reg)
			if err != nil || status != http.StatusCreated {
				return fmt.Errorf("register %s: status %d: %v", creds.Email, status, err)
			}
			atomic.AddInt64(&stats.AccountsRegistered, 1)

			var login loginResponse
			headers := map[string]string{"X-Device-ID": "load-device-" + strconv.Itoa(i)}
			status, err = c.do(gctx, http.MethodPost, "/auth/login", creds, headers, &login)
			if err != nil || status != http.StatusOK {
				return fmt.Errorf("login %s: status %d: %v", creds.Email, status, err)
			}
			atomic.AddInt64(&stats.LoginsSucceeded, 1)
			accounts[i] = account{ID: reg.AccountID, Email: creds.Email, Token: login.Token}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return accounts, nil
}

type job struct {
	acct  account
	kind  model.EventKind
	dev   string
	key   string
	reuse bool
}

func fireEvents(ctx context.Context, c *client, cfg *Config, accounts []account, stats *Stats) {
	jobs := make(chan job, max(1, cfg.Workers)*2)
	var wg sync.WaitGroup
	for range max(1, cfg.Workers) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				submit(ctx, c, j, stats)
			}
		}()
	}

	kinds := model.EventKinds()
	n := 0
	lastKey := map[string]string{}
	for round := range cfg.EventsPerAccount {
		for _, a := range accounts {
			n++
			j := job{
				acct: a,
				kind: kinds[rand.IntN(len(kinds))],
				dev:  "device-" + strconv.Itoa(rand.IntN(3)),
				key:  a.ID + "-" + strconv.Itoa(round),
			}
			if prev, ok := lastKey[a.ID]; ok && cfg.DuplicateEvery > 0 && n%cfg.DuplicateEvery == 0 {
				j.key, j.reuse = prev, true
			}
			lastKey[a.ID] = j.key
			select {
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return
			case jobs <- j:
			}
		}
	}
	close(jobs)
	wg.Wait()
}

func submit(ctx context.Context, c *client, j job, stats *Stats) {
	atomic.AddInt64(&stats.EventsSubmitted, 1)
	headers := bearer(j.acct.Token)
	headers["Idempotency-Key"] = j.key
	var res eventResponse
	status, err := c.do(ctx, http.MethodPost, "/events", eventRequest{Type: string(j.kind), DeviceID: j.dev}, headers, &res)
	switch {
	case err != nil || status != http.StatusOK:
		atomic.AddInt64(&stats.EventsFailed, 1)
	case res.Duplicate:
		atomic.AddInt64(&stats.EventsDuplicate, 1)
	default:
		atomic.AddInt64(&stats.EventsSucceeded, 1)
	}
}

// verify checks every account's final score is bounded and labelled by the
// classifier.
func verify(ctx context.Context, c *client, cfg *Config, accounts []account, stats *Stats) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.Workers))
	for _, a := range accounts {
		g.Go(func() error {
			var view trustResponse
			status, err := c.do(gctx, http.MethodGet, "/trust/me", nil, bearer(a.Token), &view)
			if err != nil || status != http.StatusOK {
				return fmt.Errorf("trust %s: status %d: %v", a.ID, status, err)
			}
			var problem string
			switch {
			case view.TrustScore < model.MinScore || view.TrustScore > model.MaxScore:
				problem = fmt.Sprintf("%s: score %d out of bounds", a.ID, view.TrustScore)
			case view.Risk != risk.Classify(view.TrustScore).String():
				problem = fmt.Sprintf("%s: score %d labelled %s", a.ID, view.TrustScore, view.Risk)
			case view.AccountID != a.ID:
				problem = fmt.Sprintf("%s: token resolved to %s", a.ID, view.AccountID)
			}
			if problem != "" {
				mu.Lock()
				stats.Violations = append(stats.Violations, problem)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if len(stats.Violations) > 0 {
		return fmt.Errorf("%w: %d accounts, first: %s", ErrInconsistent, len(stats.Violations), stats.Violations[0])
	}
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.Int64("accountsRegistered", stats.AccountsRegistered),
		logger.Int64("eventsSubmitted", stats.EventsSubmitted),
		logger.Int64("eventsSucceeded", stats.EventsSucceeded),
		logger.Int64("eventsDuplicate", stats.EventsDuplicate),
		logger.Int64("eventsFailed", stats.EventsFailed),
		logger.Duration("duration", stats.Duration),
		logger.Float64("eventsPerSecond", perSecond),
	)
}
