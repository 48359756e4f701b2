// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"strings"
	"time"
)

// ErrUnknownEventKind is returned for event kinds outside the closed set.
var ErrUnknownEventKind = errors.New("unknown event kind")

// EventKind is the closed set of security events the engine scores.
type EventKind string

// Supported event kinds.
const (
	LoginFail    EventKind = "LOGIN_FAIL"
	LoginSuccess EventKind = "LOGIN_SUCCESS"
	OTPRequest   EventKind = "OTP_REQUEST"
)

// DefaultDeviceID stands in for a missing device identifier.
const DefaultDeviceID = "unknown-device"

// EventKinds lists every supported kind in a stable order.
func EventKinds() []EventKind {
	return []EventKind{LoginFail, LoginSuccess, OTPRequest}
}

// Valid reports whether k belongs to the closed set.
func (k EventKind) Valid() bool {
	switch k {
	case LoginFail, LoginSuccess, OTPRequest:
		return true
	}
	return false
}

func (k EventKind) String() string { return string(k) }

// ParseEventKind converts wire input into an EventKind. Matching is exact
// after trimming; LOGIN_FAIL and login_fail are not the same kind.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", ErrUnknownEventKind
	}
	return k, nil
}

// NormalizeDeviceID trims the identifier and substitutes DefaultDeviceID when empty.
func NormalizeDeviceID(deviceID string) string {
	if d := strings.TrimSpace(deviceID); d != "" {
		return d
	}
	return DefaultDeviceID
}

// Event is one immutable entry of the security event log.
type Event struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Kind       EventKind `json:"kind"`
	DeviceID   string    `json:"device_id"`
	IP         string    `json:"ip,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Submission is a caller's report of something that happened to an account.
type Submission struct {
	AccountID string
	Kind      EventKind
	DeviceID  string
	IP        string
}

// Outcome is what the engine committed for one event.
type Outcome struct {
	EventID       string
	Delta         int
	PreviousScore int
	Score         int
	FiredRules    []string
	Attempts      int
}
