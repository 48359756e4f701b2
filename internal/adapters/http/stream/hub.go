// Package stream pushes risk alerts to connected WebSocket clients. Each
// client authenticates with its access token and only receives alerts for
// its own account.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
)

const (
	defaultMaxClients = 10000
	sendBuffer        = 16
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 30 * time.Second
	maxMessageBytes   = 512
)

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("stream hub closed")

// normalCloseCodes are close codes of an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Authenticator resolves an access token to an account id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// Message is the frame written for every alert.
type Message struct {
	Type  string          `json:"type"`
	Alert model.RiskAlert `json:"alert"`
}

// Hub tracks connected clients by account.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	closed     bool
	maxClients int
	logger     logger.Logger
	upgrader   websocket.Upgrader
}

type client struct {
	hub       *Hub
	accountID string
	conn      *websocket.Conn
	send      chan []byte
	once      sync.Once
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMaxClients caps concurrent connections.
func WithMaxClients(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		maxClients: defaultMaxClients,
		logger:     logger.Nop(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// sameOrigin accepts non-browser clients and same-host browser pages.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Notify implements worker.Notifier. Clients that cannot keep up are
// disconnected instead of blocking delivery.
func (h *Hub) Notify(ctx context.Context, a model.RiskAlert) error {
	payload, err := json.Marshal(Message{Type: "risk_alert", Alert: a})
	if err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	var slow []*client
	for c := range h.clients {
		if c.accountID != a.AccountID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn(ctx, "dropping slow stream client", logger.String("account_id", c.accountID))
		h.remove(c)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

// Handler upgrades authenticated requests. The token comes from an
// "Authorization: Bearer" header or, for browsers, the token query parameter.
func (h *Hub) Handler(auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tok := tokenFrom(r)
		if tok == "" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		accountID, err := auth.Authenticate(tok)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		h.mu.RLock()
		closed, full := h.closed, len(h.clients) >= h.maxClients
		h.mu.RUnlock()
		if closed || full {
			http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn(ctx, "websocket upgrade failed", logger.Error(err))
			return
		}
		c := &client{hub: h, accountID: accountID, conn: conn, send: make(chan []byte, sendBuffer)}
		if !h.add(c) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream unavailable"))
			_ = conn.Close()
			return
		}
		h.logger.Debug(ctx, "stream client connected", logger.String("account_id", accountID))

		go c.writePump()
		go c.readPump()
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.maxClients {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.UpdateStreamClients(len(h.clients))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	metrics.UpdateStreamClients(len(h.clients))
	h.mu.Unlock()
	if ok {
		c.once.Do(func() { close(c.send) })
	}
}

func tokenFrom(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// readPump discards client frames and keeps the read deadline fresh.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug(context.Background(), "stream read ended", logger.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
