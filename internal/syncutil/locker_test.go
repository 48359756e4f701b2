package syncutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestShardedLocker(t *testing.T) {
	Convey("Given a sharded locker", t, func() {
		l := NewShardedLocker()
		ctx := context.Background()

		Convey("When many goroutines increment under the same key", func() {
			var counter int64
			var wg sync.WaitGroup
			const n = 100
			wg.Add(n)
			for i := 0; i < n; i++ {
				go func() {
					defer wg.Done()
					unlock, err := l.LockContext(ctx, "acct-1")
					if err != nil {
						return
					}
					defer unlock()
					v := atomic.LoadInt64(&counter)
					atomic.StoreInt64(&counter, v+1)
				}()
			}
			wg.Wait()

			Convey("Then no increment is lost", func() {
				So(atomic.LoadInt64(&counter), ShouldEqual, n)
			})
		})

		Convey("When the key is held and the waiter's context expires", func() {
			unlock, err := l.LockContext(ctx, "held")
			So(err, ShouldBeNil)
			defer unlock()

			tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
			defer cancel()
			_, err = l.LockContext(tctx, "held")

			Convey("Then the context error is returned", func() {
				So(err, ShouldEqual, context.DeadlineExceeded)
			})
		})

		Convey("When unlock is called twice", func() {
			unlock, _ := l.LockContext(ctx, "twice")
			unlock()
			unlock()

			Convey("Then the shard is still usable exactly once", func() {
				u2, err := l.LockContext(ctx, "twice")
				So(err, ShouldBeNil)
				u2()
			})
		})

		Convey("When the zero value is used", func() {
			var zero ShardedLocker
			unlock, err := zero.LockContext(ctx, "k")

			Convey("Then it initializes lazily", func() {
				So(err, ShouldBeNil)
				unlock()
			})
		})
	})

	Convey("Given a nop locker", t, func() {
		var l NopLocker
		unlock, err := l.LockContext(context.Background(), "k")
		So(err, ShouldBeNil)
		unlock()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = l.LockContext(ctx, "k")
		So(err, ShouldEqual, context.Canceled)
	})
}
