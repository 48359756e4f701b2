package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/trustscore/internal/adapters/http/api"
	"github.com/okian/trustscore/internal/adapters/http/stream"
	"github.com/okian/trustscore/internal/adapters/http/swagger"
	"github.com/okian/trustscore/internal/adapters/mq/rabbitmq"
	app "github.com/okian/trustscore/internal/app"
	"github.com/okian/trustscore/internal/auth/password"
	"github.com/okian/trustscore/internal/config"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
	"github.com/okian/trustscore/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// defaults -> optional file -> env
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if cfg.LogFormat != "text" {
		if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
			return err
		}
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn(flushCtx, "tracing shutdown failed", logger.Error(err))
		}
	}()

	sinks, err := newAlertSinks(cfg, log)
	if err != nil {
		return err
	}
	defer sinks.close()

	svc := app.New(append(serviceOptions(cfg, log), sinks.options()...)...)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	srv := newHTTPServer(ctx, cfg.Addr, svc, sinks.hub, log)
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// serviceOptions maps configuration onto service options.
func serviceOptions(cfg *config.Config, log logger.Logger) []app.Option {
	return []app.Option{
		app.WithLogger(log),
		app.WithBackend(cfg.StoreBackend),
		app.WithRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPrefix),
		app.WithSQLitePath(cfg.SQLitePath),
		app.WithPostgres(cfg.PostgresDSN, cfg.PostgresMaxConns),
		app.WithTokenSecret(cfg.JWTSecret),
		app.WithTokenIssuer(cfg.JWTIssuer),
		app.WithTokenTTL(time.Duration(cfg.TokenTTLMinutes) * time.Minute),
		app.WithPasswordParams(password.Params{
			MemoryKB: uint32(cfg.Argon2MemoryKB),
			Time:     uint32(cfg.Argon2Time),
			Threads:  uint8(cfg.Argon2Threads),
		}),
		app.WithMaxCommitAttempts(cfg.MaxCommitAttempts),
		app.WithCommitBackoff(time.Duration(cfg.CommitBackoffMS) * time.Millisecond),
		app.WithAccountLocks(cfg.AccountLocks),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithAlertQueueSize(cfg.AlertQueueSize),
		app.WithAlertWorkers(cfg.AlertWorkers),
		app.WithRetention(time.Duration(cfg.EventRetentionHours)*time.Hour, cfg.RetentionSchedule),
	}
}

// alertSinks are the optional risk alert destinations next to the log.
type alertSinks struct {
	hub       *stream.Hub
	publisher *rabbitmq.Publisher
}

func newAlertSinks(cfg *config.Config, log logger.Logger) (*alertSinks, error) {
	s := &alertSinks{}
	if cfg.AlertStream {
		s.hub = stream.NewHub(
			stream.WithLogger(log.Named("stream")),
			stream.WithMaxClients(cfg.StreamMaxClients),
		)
	}
	if cfg.AMQPURL != "" {
		p, err := rabbitmq.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		s.publisher = p
	}
	return s, nil
}

func (s *alertSinks) options() []app.Option {
	var opts []app.Option
	if s.hub != nil {
		opts = append(opts, app.WithNotifier(s.hub))
	}
	if s.publisher != nil {
		opts = append(opts, app.WithNotifier(s.publisher))
	}
	return opts
}

func (s *alertSinks) close() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
}

// newHTTPServer registers docs and API routes on a fresh mux. A nil hub
// leaves the alert stream unrouted.
func newHTTPServer(ctx context.Context, addr string, svc *app.Service, hub *stream.Hub, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, api.WithLogger(log.Named("api"))).Register(ctx, mux)
	if hub != nil {
		mux.HandleFunc("GET /alerts/stream", hub.Handler(svc))
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater refreshes runtime gauges until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
