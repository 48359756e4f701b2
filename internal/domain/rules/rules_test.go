package rules_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/internal/domain/rules"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeCounter answers window counts from an in-test slice of events.
type fakeCounter struct {
	events []model.Event
	err    error
	calls  int
}

func (f *fakeCounter) CountInWindow(_ context.Context, accountID string, kind model.EventKind, since, until time.Time) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, e := range f.events {
		if e.AccountID == accountID && e.Kind == kind && !e.OccurredAt.Before(since) && !e.OccurredAt.After(until) {
			n++
		}
	}
	return n, nil
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func event(kind model.EventKind, at time.Time) model.Event {
	return model.Event{ID: at.String(), AccountID: "acct", Kind: kind, DeviceID: "phone", OccurredAt: at}
}

func account(devices ...string) model.Account {
	a := model.NewAccount("acct", "a@example.com", "", t0)
	a.KnownDevices = devices
	return a
}

func TestNewDeviceRule(t *testing.T) {
	Convey("Given the new device rule", t, func() {
		r := rules.NewDevice()
		ctx := context.Background()

		Convey("When the device is unknown", func() {
			eff, err := r.Evaluate(ctx, rules.Input{Account: account(), Event: event(model.LoginSuccess, t0)})

			Convey("Then it fires with -10 and stages the device", func() {
				So(err, ShouldBeNil)
				So(eff.Fired, ShouldBeTrue)
				So(eff.Delta, ShouldEqual, -10)
				So(eff.NewDevice, ShouldEqual, "phone")
			})
		})

		Convey("When the device is already known", func() {
			eff, err := r.Evaluate(ctx, rules.Input{Account: account("phone"), Event: event(model.LoginSuccess, t0)})

			Convey("Then it does not fire", func() {
				So(err, ShouldBeNil)
				So(eff.Fired, ShouldBeFalse)
				So(eff.Delta, ShouldEqual, 0)
			})
		})

		Convey("When the event has no device", func() {
			ev := event(model.LoginFail, t0)
			ev.DeviceID = ""
			eff, _ := r.Evaluate(ctx, rules.Input{Account: account(), Event: ev})

			Convey("Then it does not fire", func() {
				So(eff.Fired, ShouldBeFalse)
			})
		})
	})
}

func TestBurstRules(t *testing.T) {
	Convey("Given the OTP burst rule", t, func() {
		r := rules.OTPBurst()
		ctx := context.Background()

		Convey("When three OTP requests fall inside ten minutes including the current one", func() {
			cur := event(model.OTPRequest, t0)
			counter := &fakeCounter{events: []model.Event{
				event(model.OTPRequest, t0.Add(-10*time.Minute)), // exactly on the lower bound
				event(model.OTPRequest, t0.Add(-time.Minute)),
				cur,
			}}
			eff, err := r.Evaluate(ctx, rules.Input{Account: account(), Event: cur, Counter: counter})

			Convey("Then it fires with -25", func() {
				So(err, ShouldBeNil)
				So(eff.Fired, ShouldBeTrue)
				So(eff.Delta, ShouldEqual, -25)
			})
		})

		Convey("When only two OTP requests are inside the window", func() {
			cur := event(model.OTPRequest, t0)
			counter := &fakeCounter{events: []model.Event{
				event(model.OTPRequest, t0.Add(-10*time.Minute-time.Second)),
				event(model.OTPRequest, t0.Add(-time.Minute)),
				cur,
			}}
			eff, err := r.Evaluate(ctx, rules.Input{Account: account(), Event: cur, Counter: counter})

			Convey("Then it does not fire", func() {
				So(err, ShouldBeNil)
				So(eff.Fired, ShouldBeFalse)
			})
		})

		Convey("When events after the triggering event exist", func() {
			cur := event(model.OTPRequest, t0)
			counter := &fakeCounter{events: []model.Event{
				cur,
				event(model.OTPRequest, t0.Add(time.Second)),
				event(model.OTPRequest, t0.Add(2*time.Second)),
			}}
			eff, _ := r.Evaluate(ctx, rules.Input{Account: account(), Event: cur, Counter: counter})

			Convey("Then they are not counted", func() {
				So(eff.Fired, ShouldBeFalse)
			})
		})

		Convey("When the event is of another kind", func() {
			counter := &fakeCounter{}
			eff, _ := r.Evaluate(ctx, rules.Input{Account: account(), Event: event(model.LoginFail, t0), Counter: counter})

			Convey("Then the store is not queried", func() {
				So(eff.Fired, ShouldBeFalse)
				So(counter.calls, ShouldEqual, 0)
			})
		})
	})

	Convey("Given the failure burst rule", t, func() {
		r := rules.FailureBurst()
		ctx := context.Background()

		Convey("When three failures fall inside five minutes", func() {
			cur := event(model.LoginFail, t0)
			counter := &fakeCounter{events: []model.Event{
				event(model.LoginFail, t0.Add(-4*time.Minute)),
				event(model.LoginFail, t0.Add(-2*time.Minute)),
				cur,
			}}
			eff, err := r.Evaluate(ctx, rules.Input{Account: account(), Event: cur, Counter: counter})

			Convey("Then it fires with -20", func() {
				So(err, ShouldBeNil)
				So(eff.Delta, ShouldEqual, -20)
			})
		})

		Convey("When failures are spaced more than five minutes apart", func() {
			cur := event(model.LoginFail, t0)
			counter := &fakeCounter{events: []model.Event{
				event(model.LoginFail, t0.Add(-12*time.Minute)),
				event(model.LoginFail, t0.Add(-6*time.Minute)),
				cur,
			}}
			eff, _ := r.Evaluate(ctx, rules.Input{Account: account(), Event: cur, Counter: counter})

			Convey("Then it does not fire", func() {
				So(eff.Fired, ShouldBeFalse)
			})
		})

		Convey("When the counter fails", func() {
			counter := &fakeCounter{err: errors.New("redis down")}
			_, err := r.Evaluate(ctx, rules.Input{Account: account(), Event: event(model.LoginFail, t0), Counter: counter})

			Convey("Then the error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestSuccessReward(t *testing.T) {
	Convey("Given the success reward rule", t, func() {
		r := rules.SuccessRewardOnLogin()
		eff, _ := r.Evaluate(context.Background(), rules.Input{Event: event(model.LoginSuccess, t0)})
		So(eff.Fired, ShouldBeTrue)
		So(eff.Delta, ShouldEqual, 2)

		eff, _ = r.Evaluate(context.Background(), rules.Input{Event: event(model.OTPRequest, t0)})
		So(eff.Fired, ShouldBeFalse)
	})
}

func TestCatalog(t *testing.T) {
	Convey("Given the default catalog", t, func() {
		c := rules.Default()

		Convey("Then it evaluates the four rules in a fixed order", func() {
			So(c.Names(), ShouldResemble, []string{"new_device", "otp_burst", "failure_burst", "success_reward"})
			So(c.Len(), ShouldEqual, 4)
		})

		Convey("When several rules apply to one event", func() {
			cur := event(model.LoginSuccess, t0)
			ev, err := c.Evaluate(context.Background(), rules.Input{Account: account(), Event: cur, Counter: &fakeCounter{}})

			Convey("Then deltas are summed without short-circuiting", func() {
				So(err, ShouldBeNil)
				So(ev.Delta, ShouldEqual, -8)
				So(ev.FiredRules, ShouldResemble, []string{"new_device", "success_reward"})
				So(ev.NewDevices, ShouldResemble, []string{"phone"})
			})
		})

		Convey("When a new device triggers a failure burst", func() {
			cur := event(model.LoginFail, t0)
			counter := &fakeCounter{events: []model.Event{
				event(model.LoginFail, t0.Add(-time.Minute)),
				event(model.LoginFail, t0.Add(-30*time.Second)),
				cur,
			}}
			ev, err := c.Evaluate(context.Background(), rules.Input{Account: account(), Event: cur, Counter: counter})

			Convey("Then both penalties apply", func() {
				So(err, ShouldBeNil)
				So(ev.Delta, ShouldEqual, -30)
			})
		})

		Convey("When a rule fails", func() {
			_, err := c.Evaluate(context.Background(), rules.Input{
				Account: account("phone"),
				Event:   event(model.OTPRequest, t0),
				Counter: &fakeCounter{err: errors.New("timeout")},
			})

			Convey("Then no partial evaluation is returned and the rule is named", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "otp_burst")
			})
		})
	})

	Convey("Given a custom single-rule catalog", t, func() {
		c := rules.NewCatalog(rules.SuccessRewardOnLogin())
		ev, err := c.Evaluate(context.Background(), rules.Input{Account: account(), Event: event(model.LoginSuccess, t0)})
		So(err, ShouldBeNil)
		So(ev.Delta, ShouldEqual, 2)
		So(ev.NewDevices, ShouldBeEmpty)
	})
}
