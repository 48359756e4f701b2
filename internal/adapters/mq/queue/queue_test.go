package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/trustscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func alert(id string) Alert {
	return model.RiskAlert{AccountID: id, From: "NORMAL", To: "HIGH", Score: 35, At: time.Unix(0, 0)}
}

func TestInMemoryQueue(t *testing.T) {
	ctx := context.Background()

	Convey("Given a queue with capacity 2", t, func() {
		q := NewInMemoryQueue(WithCapacity(2))

		Convey("When alerts are enqueued and dequeued", func() {
			So(q.Enqueue(ctx, alert("a")), ShouldBeNil)
			So(q.Enqueue(ctx, alert("b")), ShouldBeNil)
			So(q.Len(), ShouldEqual, 2)

			ch := q.Dequeue(ctx)
			first := <-ch

			Convey("Then they come out in order", func() {
				So(first.AccountID, ShouldEqual, "a")
				So((<-ch).AccountID, ShouldEqual, "b")
				So(q.Len(), ShouldEqual, 0)
			})
		})

		Convey("When the buffer is full", func() {
			_ = q.Enqueue(ctx, alert("a"))
			_ = q.Enqueue(ctx, alert("b"))
			err := q.Enqueue(ctx, alert("c"))

			Convey("Then the alert is rejected without blocking", func() {
				So(errors.Is(err, ErrFull), ShouldBeTrue)
				So(q.Len(), ShouldEqual, 2)
			})
		})

		Convey("When the queue is closed with a backlog", func() {
			_ = q.Enqueue(ctx, alert("a"))
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			Convey("Then the backlog drains and new alerts are refused", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(errors.Is(q.Enqueue(ctx, alert("b")), ErrClosed), ShouldBeTrue)

				var got []string
				for a := range q.Dequeue(ctx) {
					got = append(got, a.AccountID)
				}
				So(got, ShouldResemble, []string{"a"})
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			Convey("Then the alert is not enqueued", func() {
				So(q.Enqueue(cctx, alert("a")), ShouldEqual, context.Canceled)
				So(q.Len(), ShouldEqual, 0)
			})
		})
	})
}
