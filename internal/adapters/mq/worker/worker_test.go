package worker_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/trustscore/internal/adapters/mq/queue"
	"github.com/okian/trustscore/internal/adapters/mq/worker"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type recordingNotifier struct {
	mu      sync.Mutex
	got     []model.RiskAlert
	failFor map[string]int32
	calls   atomic.Int32
}

func (r *recordingNotifier) Notify(_ context.Context, a model.RiskAlert) error {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.failFor[a.AccountID]; n > 0 {
		r.failFor[a.AccountID] = n - 1
		return errors.New("webhook unavailable")
	}
	r.got = append(r.got, a)
	return nil
}

func (r *recordingNotifier) accounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, a := range r.got {
		out = append(out, a.AccountID)
	}
	return out
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool over a queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		n := &recordingNotifier{failFor: map[string]int32{}}

		convey.Convey("When alerts are queued and the queue is closed", func() {
			p := worker.NewPool(3, q, n, worker.WithRetryDelay(time.Millisecond))
			p.Start(ctx)
			for _, id := range []string{"a", "b", "c", "d"} {
				convey.So(q.Enqueue(ctx, model.RiskAlert{AccountID: id, From: "NORMAL", To: "HIGH"}), convey.ShouldBeNil)
			}
			convey.So(q.Close(), convey.ShouldBeNil)
			err := p.Shutdown(ctx)

			convey.Convey("Then every alert is delivered before shutdown returns", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(n.accounts(), convey.ShouldHaveLength, 4)
				delivered, failed := p.Stats()
				convey.So(delivered, convey.ShouldEqual, 4)
				convey.So(failed, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the notifier fails transiently", func() {
			n.failFor["flaky"] = 2
			n.failFor["dead"] = 100
			p := worker.NewPool(1, q, n,
				worker.WithDeliveryAttempts(3),
				worker.WithRetryDelay(time.Millisecond),
			)
			p.Start(ctx)
			_ = q.Enqueue(ctx, model.RiskAlert{AccountID: "flaky"})
			_ = q.Enqueue(ctx, model.RiskAlert{AccountID: "dead"})
			_ = q.Close()
			_ = p.Shutdown(ctx)

			convey.Convey("Then it retries up to the bound", func() {
				convey.So(n.accounts(), convey.ShouldResemble, []string{"flaky"})
				convey.So(n.calls.Load(), convey.ShouldEqual, 6)
				delivered, failed := p.Stats()
				convey.So(delivered, convey.ShouldEqual, 1)
				convey.So(failed, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When workers are stuck past the shutdown timeout", func() {
			block := make(chan struct{})
			slow := worker.NotifierFunc(func(ctx context.Context, _ model.RiskAlert) error {
				select {
				case <-block:
				case <-ctx.Done():
				}
				return nil
			})
			p := worker.NewPool(1, q, slow, worker.WithShutdownTimeout(20*time.Millisecond))
			p.Start(ctx)
			_ = q.Enqueue(ctx, model.RiskAlert{AccountID: "slow"})
			err := p.Shutdown(ctx)
			close(block)

			convey.Convey("Then shutdown reports the timeout", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestLogNotifier(t *testing.T) {
	convey.Convey("Given a log notifier writing JSON", t, func() {
		var buf bytes.Buffer
		convey.So(logger.Init(logger.WithFormat("json"), logger.WithOutput(&buf)), convey.ShouldBeNil)
		n := worker.LogNotifier{Logger: logger.Get()}

		err := n.Notify(context.Background(), model.RiskAlert{AccountID: "acct", From: "NORMAL", To: "HIGH", Score: 30, At: time.Unix(0, 0)})

		convey.Convey("Then the alert is logged with its fields", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(buf.String(), convey.ShouldContainSubstring, `"account_id":"acct"`)
			convey.So(buf.String(), convey.ShouldContainSubstring, `"to":"HIGH"`)
		})
	})

	convey.Convey("Given a log notifier without a logger", t, func() {
		convey.So(worker.LogNotifier{}.Notify(context.Background(), model.RiskAlert{}), convey.ShouldBeNil)
	})
}

func TestFanout(t *testing.T) {
	convey.Convey("Given a fanout over two notifiers", t, func() {
		ctx := context.Background()
		ok := &recordingNotifier{failFor: map[string]int32{}}
		broken := &recordingNotifier{failFor: map[string]int32{"acct": 1}}
		f := worker.Fanout{broken, nil, ok}

		convey.Convey("When one notifier fails", func() {
			err := f.Notify(ctx, model.RiskAlert{AccountID: "acct", To: "HIGH"})

			convey.Convey("Then the others still receive the alert and the error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(ok.accounts(), convey.ShouldResemble, []string{"acct"})
				convey.So(broken.calls.Load(), convey.ShouldEqual, int32(1))
			})
		})

		convey.Convey("When every notifier succeeds", func() {
			err := f.Notify(ctx, model.RiskAlert{AccountID: "other"})

			convey.Convey("Then no error is returned", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})
	})
}
