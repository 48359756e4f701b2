package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/trustscore/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		Convey("When a key is recorded twice", func() {
			first := d.SeenAndRecord(ctx, "k1")
			second := d.SeenAndRecord(ctx, "k1")

			Convey("Then only the second call reports it as seen", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When more keys than capacity are recorded", func() {
			for _, k := range []string{"k1", "k2", "k3", "k4"} {
				d.SeenAndRecord(ctx, k)
			}

			Convey("Then the oldest key is forgotten first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "k2"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "k4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
			})
		})

		Convey("When a key is unrecorded", func() {
			d.SeenAndRecord(ctx, "k1")
			d.SeenAndRecord(ctx, "k2")
			d.Unrecord(ctx, "k1")
			d.Unrecord(ctx, "missing")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 1)
				So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
			})

			Convey("Then eviction of its old slot does not drop the re-recorded key", func() {
				d.SeenAndRecord(ctx, "k1")
				d.SeenAndRecord(ctx, "k3")
				d.SeenAndRecord(ctx, "k5")
				So(d.SeenAndRecord(ctx, "k1"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "k3"), ShouldBeTrue)
			})
		})

		Convey("When keys are scoped per account", func() {
			d.SeenAndRecord(ctx, dedupe.Key("acct-a", "req-1"))

			Convey("Then another account may use the same key", func() {
				So(d.SeenAndRecord(ctx, dedupe.Key("acct-b", "req-1")), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, dedupe.Key("acct-a", "req-1")), ShouldBeTrue)
			})
		})
	})

	Convey("Given many goroutines racing on the same keys", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		var fresh atomic.Int64
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if !d.SeenAndRecord(ctx, fmt.Sprintf("key-%d", i)) {
						fresh.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each key is new exactly once", func() {
			So(fresh.Load(), ShouldEqual, 100)
			So(d.Size(), ShouldEqual, 100)
		})
	})
}
