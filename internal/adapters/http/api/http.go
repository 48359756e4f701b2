// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	service "github.com/okian/trustscore/internal/app"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// AuthDependencies covers registration, login and token checks.
type AuthDependencies interface {
	Register(ctx context.Context, email, password string) (string, error)
	Login(ctx context.Context, email, password, deviceID, ip string) (service.LoginResult, error)
	Authenticate(token string) (string, error)
}

// EventDependencies covers event submission and history.
type EventDependencies interface {
	RecordEvent(ctx context.Context, accountID string, kind model.EventKind, deviceID, ip, idempotencyKey string) (service.EventResult, error)
	RecentEvents(ctx context.Context, accountID string, limit int) ([]model.Event, error)
}

// TrustDependencies covers score reads.
type TrustDependencies interface {
	Trust(ctx context.Context, accountID string) (service.TrustView, error)
}

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) map[string]any
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	AuthDependencies
	EventDependencies
	TrustDependencies
	StatsProvider
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for 5xx responses.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps   Dependencies
	logger logger.Logger
}

// NewServer creates a new API server over deps.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{deps: deps, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /health", MetricsMiddleware(s.handleHealth, "health"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.handleStats, "stats"))

	mux.HandleFunc("POST /auth/register", MetricsMiddleware(s.handleRegister, "auth_register"))
	mux.HandleFunc("POST /auth/login", MetricsMiddleware(s.handleLogin, "auth_login"))

	mux.HandleFunc("POST /events", MetricsMiddleware(s.requireAuth(s.handlePostEvent), "events"))
	mux.HandleFunc("GET /trust/me", MetricsMiddleware(s.requireAuth(s.handleTrustMe), "trust_me"))
	mux.HandleFunc("GET /trust/events", MetricsMiddleware(s.requireAuth(s.handleTrustEvents), "trust_events"))
}

type errorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	TrustScore *int   `json:"trust_score,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps a service error to a status and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrUnavailable), errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return fmt.Errorf("malformed json: %w", err)
	}
	return nil
}
