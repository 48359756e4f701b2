package model

import (
	"slices"
	"time"
)

// Score bounds.
const (
	MinScore     = 0
	MaxScore     = 100
	InitialScore = 80
)

// Account is the mutable per-user record the engine scores.
//
// Score stays within [MinScore, MaxScore]. KnownDevices only grows. Version
// increases by one on every committed score change and is the token used for
// compare-and-set updates.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Score        int
	KnownDevices []string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount returns a freshly registered account with the initial score.
func NewAccount(id, email, passwordHash string, now time.Time) Account {
	return Account{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Score:        InitialScore,
		KnownDevices: []string{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// KnowsDevice reports whether deviceID was seen before.
func (a Account) KnowsDevice(deviceID string) bool {
	return slices.Contains(a.KnownDevices, deviceID)
}

// Clone returns a deep copy so callers can stage changes safely.
func (a Account) Clone() Account {
	a.KnownDevices = slices.Clone(a.KnownDevices)
	if a.KnownDevices == nil {
		a.KnownDevices = []string{}
	}
	return a
}

// MergeDevices returns known with every id of added that is not already present, in order.
func MergeDevices(known, added []string) []string {
	out := slices.Clone(known)
	for _, d := range added {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

// ClampScore bounds v to [MinScore, MaxScore].
func ClampScore(v int) int {
	return max(MinScore, min(MaxScore, v))
}

// RiskAlert reports that a commit moved an account across the risk boundary.
type RiskAlert struct {
	AccountID string    `json:"account_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Score     int       `json:"score"`
	At        time.Time `json:"at"`
}
