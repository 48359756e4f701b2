package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
)

const (
	defaultWorkers         = 2
	defaultAttempts        = 3
	defaultRetryDelay      = 50 * time.Millisecond
	defaultShutdownTimeout = 10 * time.Second
)

// Queue is where workers read alerts from.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.RiskAlert
}

// Pool runs a fixed number of delivery workers over one queue.
type Pool struct {
	queue    Queue
	notifier Notifier
	size     int

	attempts        int
	retryDelay      time.Duration
	shutdownTimeout time.Duration

	logger logger.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu        sync.Mutex
	delivered int64
	failed    int64
}

// NewPool builds a pool of size workers. A non-positive size uses the default.
func NewPool(size int, q Queue, n Notifier, opts ...Option) *Pool {
	if size < 1 {
		size = defaultWorkers
	}
	p := &Pool{
		queue:           q,
		notifier:        n,
		size:            size,
		attempts:        defaultAttempts,
		retryDelay:      defaultRetryDelay,
		shutdownTimeout: defaultShutdownTimeout,
		logger:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They stop when ctx ends or the queue closes.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	alerts := p.queue.Dequeue(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, p.logger.Named("alert-worker-"+strconv.Itoa(i)), alerts)
	}
	metrics.UpdateAlertWorkers(p.size)
}

func (p *Pool) run(ctx context.Context, log logger.Logger, alerts <-chan model.RiskAlert) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-alerts:
			if !ok {
				return
			}
			if err := p.deliver(ctx, a); err != nil {
				metrics.RecordAlertWorkerError()
				metrics.RecordErrorByComponent("alert_worker", "delivery_failed")
				log.Error(ctx, "alert delivery failed",
					logger.String("account_id", a.AccountID),
					logger.String("to", a.To),
					logger.Error(err),
				)
				p.count(false)
				continue
			}
			metrics.RecordAlertDelivered()
			p.count(true)
		}
	}
}

func (p *Pool) deliver(ctx context.Context, a model.RiskAlert) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryDelay
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.notifier.Notify(ctx, a)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.attempts)))
	return err
}

func (p *Pool) count(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.delivered++
	} else {
		p.failed++
	}
}

// Stats returns delivered and failed alert counts.
func (p *Pool) Stats() (delivered, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered, p.failed
}

// Shutdown waits for workers to drain a closed queue. If they do not finish
// in time the workers are cancelled and an error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(p.shutdownTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("alert workers shutdown: %w", ctx.Err())
	case <-timer.C:
		err = fmt.Errorf("alert workers shutdown: timed out after %s", p.shutdownTimeout)
	}
	if p.cancel != nil {
		p.cancel()
	}
	metrics.UpdateAlertWorkers(0)
	return err
}
