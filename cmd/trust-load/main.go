package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/trustscore/internal/loadtest"
	"github.com/okian/trustscore/pkg/logger"
)

// Default configuration constants.
const (
	defaultAccounts         = 50
	defaultEventsPerAccount = 200
	defaultWorkers          = 2 // multiplier for runtime.NumCPU()
	defaultTimeout          = 30 * time.Second
	defaultRunTimeout       = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		accounts  = flag.Int("accounts", defaultAccounts, "Number of accounts to register")
		events    = flag.Int("events", defaultEventsPerAccount, "Events fired at each account")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		password  = flag.String("password", "load-test-password", "Password for generated accounts")
		duplicate = flag.Int("duplicate-every", 10, "Resend every Nth event with a reused idempotency key (0 disables)")
		verbose   = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &loadtest.Config{
		BaseURL:          *baseURL,
		Accounts:         *accounts,
		EventsPerAccount: *events,
		Workers:          *workers,
		Timeout:          *timeout,
		Password:         *password,
		DuplicateEvery:   *duplicate,
	}
	if _, err := loadtest.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
