package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	service "github.com/okian/trustscore/internal/app"
)

// Headers carrying login context.
const (
	HeaderDeviceID = "X-Device-ID"
	HeaderIP       = "X-IP"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentialsRequest) validate() error {
	switch {
	case strings.TrimSpace(c.Email) == "":
		return errors.New("missing email")
	case c.Password == "":
		return errors.New("missing password")
	}
	return nil
}

type registerResponse struct {
	Message   string `json:"message"`
	AccountID string `json:"account_id"`
}

type loginResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	AccountID  string    `json:"account_id"`
	TrustScore int       `json:"trust_score"`
	Risk       string    `json:"risk"`
}

// handleRegister handles POST /auth/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register"
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	id, err := s.deps.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{Message: "registered", AccountID: id})
}

// handleLogin handles POST /auth/login. Device and address come from the
// X-Device-ID and X-IP headers.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	const op = "api.login"
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := s.deps.Login(r.Context(), req.Email, req.Password, r.Header.Get(HeaderDeviceID), r.Header.Get(HeaderIP))
	switch {
	case errors.Is(err, service.ErrInvalidCredentials) && res.AccountID != "":
		score := res.Score
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:       "unauthorized",
			Message:    "wrong password",
			TrustScore: &score,
		})
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("invalid credentials"))
		return
	case err != nil:
		s.fail(w, r, op, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:      res.Token,
		ExpiresAt:  res.ExpiresAt,
		AccountID:  res.AccountID,
		TrustScore: res.Score,
		Risk:       res.Risk.String(),
	})
}
