// Package loadtest drives a running trust service over HTTP from many
// goroutines and checks that every account ends in a consistent state.
package loadtest

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL          string        // Base URL of the service
	Accounts         int           // Accounts to register
	EventsPerAccount int           // Events fired at each account
	Workers          int           // Concurrent HTTP workers
	Timeout          time.Duration // Per-request timeout
	Password         string        // Password for generated accounts
	DuplicateEvery   int           // Resend every Nth event with the previous idempotency key; 0 disables
}

// Stats holds run statistics.
type Stats struct {
	AccountsRegistered int64
	LoginsSucceeded    int64
	EventsSubmitted    int64
	EventsSucceeded    int64
	EventsDuplicate    int64
	EventsFailed       int64
	Violations         []string
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}

type account struct {
	ID    string
	Email string
	Token string
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	AccountID string `json:"account_id"`
}

type loginResponse struct {
	Token      string `json:"token"`
	AccountID  string `json:"account_id"`
	TrustScore int    `json:"trust_score"`
}

type eventRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip,omitempty"`
}

type eventResponse struct {
	TrustScore int  `json:"trust_score"`
	Duplicate  bool `json:"duplicate"`
}

type trustResponse struct {
	AccountID  string `json:"account_id"`
	TrustScore int    `json:"trust_score"`
	Risk       string `json:"risk"`
}
