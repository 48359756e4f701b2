// Package rules holds the fixed catalog of trust scoring rules.
//
// Each rule is an independent evaluator over (account, event, window counter)
// returning a score delta. A catalog runs every rule in order and sums the
// deltas; rules never short-circuit each other.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/trustscore/internal/domain/model"
)

// Rule names, as reported in outcomes and metrics.
const (
	NewDeviceRule     = "new_device"
	OTPBurstRule      = "otp_burst"
	FailureBurstRule  = "failure_burst"
	SuccessRewardRule = "success_reward"
)

// Rule parameters.
const (
	NewDevicePenalty    = -10
	OTPBurstPenalty     = -25
	FailureBurstPenalty = -20
	SuccessReward       = 2

	OTPBurstWindow     = 10 * time.Minute
	FailureBurstWindow = 5 * time.Minute
	BurstThreshold     = 3
)

// WindowCounter counts an account's events of one kind with
// since <= OccurredAt <= until.
type WindowCounter interface {
	CountInWindow(ctx context.Context, accountID string, kind model.EventKind, since, until time.Time) (int, error)
}

// Input is what every rule sees. Account is a snapshot taken before the
// commit; Event has already been appended to the log.
type Input struct {
	Account model.Account
	Event   model.Event
	Counter WindowCounter
}

// Effect is one rule's contribution.
type Effect struct {
	Fired     bool
	Delta     int
	NewDevice string
}

// Rule is a named evaluator.
type Rule struct {
	Name     string
	Evaluate func(ctx context.Context, in Input) (Effect, error)
}

// Evaluation is the summed result of a catalog run.
type Evaluation struct {
	Delta      int
	FiredRules []string
	NewDevices []string
}

// Catalog is an ordered, immutable list of rules.
type Catalog struct {
	rules []Rule
}

// NewCatalog builds a catalog that evaluates rules in the given order.
func NewCatalog(rules ...Rule) Catalog {
	return Catalog{rules: append([]Rule(nil), rules...)}
}

// Default returns the production catalog: new device, OTP burst, failure
// burst, success reward.
func Default() Catalog {
	return NewCatalog(
		NewDevice(),
		OTPBurst(),
		FailureBurst(),
		SuccessRewardOnLogin(),
	)
}

// Names lists rule names in evaluation order.
func (c Catalog) Names() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Len returns the number of rules.
func (c Catalog) Len() int { return len(c.rules) }

// Evaluate runs every rule. Any rule error aborts the run and no partial
// evaluation is returned.
func (c Catalog) Evaluate(ctx context.Context, in Input) (Evaluation, error) {
	var ev Evaluation
	for _, r := range c.rules {
		eff, err := r.Evaluate(ctx, in)
		if err != nil {
			return Evaluation{}, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if !eff.Fired {
			continue
		}
		ev.Delta += eff.Delta
		ev.FiredRules = append(ev.FiredRules, r.Name)
		if eff.NewDevice != "" {
			ev.NewDevices = append(ev.NewDevices, eff.NewDevice)
		}
	}
	return ev, nil
}

// NewDevice penalizes the first sighting of a device on an account and
// stages the device for insertion into the known set.
func NewDevice() Rule {
	return Rule{
		Name: NewDeviceRule,
		Evaluate: func(_ context.Context, in Input) (Effect, error) {
			d := in.Event.DeviceID
			if d == "" || in.Account.KnowsDevice(d) {
				return Effect{}, nil
			}
			return Effect{Fired: true, Delta: NewDevicePenalty, NewDevice: d}, nil
		},
	}
}

// OTPBurst penalizes the third and later OTP request inside ten minutes.
func OTPBurst() Rule {
	return windowBurst(OTPBurstRule, model.OTPRequest, OTPBurstWindow, OTPBurstPenalty)
}

// FailureBurst penalizes the third and later login failure inside five minutes.
func FailureBurst() Rule {
	return windowBurst(FailureBurstRule, model.LoginFail, FailureBurstWindow, FailureBurstPenalty)
}

// SuccessRewardOnLogin rewards every successful login.
func SuccessRewardOnLogin() Rule {
	return Rule{
		Name: SuccessRewardRule,
		Evaluate: func(_ context.Context, in Input) (Effect, error) {
			if in.Event.Kind != model.LoginSuccess {
				return Effect{}, nil
			}
			return Effect{Fired: true, Delta: SuccessReward}, nil
		},
	}
}

// windowBurst fires when the event is of kind and the account has at least
// BurstThreshold events of that kind in [OccurredAt-window, OccurredAt].
// The triggering event is already persisted, so it counts itself.
func windowBurst(name string, kind model.EventKind, window time.Duration, penalty int) Rule {
	return Rule{
		Name: name,
		Evaluate: func(ctx context.Context, in Input) (Effect, error) {
			if in.Event.Kind != kind {
				return Effect{}, nil
			}
			until := in.Event.OccurredAt
			n, err := in.Counter.CountInWindow(ctx, in.Event.AccountID, kind, until.Add(-window), until)
			if err != nil {
				return Effect{}, err
			}
			if n < BurstThreshold {
				return Effect{}, nil
			}
			return Effect{Fired: true, Delta: penalty}, nil
		},
	}
}
