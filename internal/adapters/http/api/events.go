package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/trustscore/internal/domain/model"
)

// HeaderIdempotencyKey lets clients retry POST /events safely.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// eventRequest mirrors the OpenAPI schema for POST /events.
type eventRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
}

func (e eventRequest) kind() (model.EventKind, error) {
	if strings.TrimSpace(e.Type) == "" {
		return "", errors.New("missing type")
	}
	return model.ParseEventKind(e.Type)
}

type eventResponse struct {
	Message    string   `json:"message"`
	EventID    string   `json:"event_id,omitempty"`
	Delta      int      `json:"delta"`
	TrustScore int      `json:"trust_score"`
	Risk       string   `json:"risk"`
	FiredRules []string `json:"fired_rules"`
	Duplicate  bool     `json:"duplicate"`
}

type eventView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	DeviceID   string    `json:"device_id"`
	IP         string    `json:"ip,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type historyResponse struct {
	Events []eventView `json:"events"`
}

// handlePostEvent handles POST /events for the authenticated account.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	accountID, _ := AccountIDFromContext(r.Context())

	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	kind, err := req.kind()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := s.deps.RecordEvent(r.Context(), accountID, kind, req.DeviceID, req.IP, r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}

	msg := "event recorded"
	if res.Duplicate {
		msg = "duplicate event"
	}
	fired := res.FiredRules
	if fired == nil {
		fired = []string{}
	}
	writeJSON(w, http.StatusOK, eventResponse{
		Message:    msg,
		EventID:    res.EventID,
		Delta:      res.Delta,
		TrustScore: res.Score,
		Risk:       res.Risk.String(),
		FiredRules: fired,
		Duplicate:  res.Duplicate,
	})
}

// handleTrustEvents handles GET /trust/events?limit=N.
func (s *Server) handleTrustEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.trust_events"
	accountID, _ := AccountIDFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "bad_request",
				WrapKind(op, ErrBadRequest, errors.New("limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))))
			return
		}
		limit = n
	}

	events, err := s.deps.RecentEvents(r.Context(), accountID, limit)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	out := historyResponse{Events: make([]eventView, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, eventView{
			ID:         e.ID,
			Type:       e.Kind.String(),
			DeviceID:   e.DeviceID,
			IP:         e.IP,
			OccurredAt: e.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
