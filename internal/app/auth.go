package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/okian/trustscore/internal/adapters/repository"
	"github.com/okian/trustscore/internal/auth/password"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/internal/domain/risk"
	"github.com/okian/trustscore/pkg/logger"
	"github.com/okian/trustscore/pkg/metrics"
)

// Login results, as reported to metrics.
const (
	loginSuccess        = "success"
	loginWrongPassword  = "wrong_password"
	loginUnknownAccount = "unknown_account"
)

// LoginResult is returned by Login. On a wrong password it carries the
// penalized score alongside ErrInvalidCredentials.
type LoginResult struct {
	AccountID string
	Token     string
	ExpiresAt time.Time
	Score     int
	Risk      risk.Label
}

// normalizeEmail lowercases and validates an address.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return email, nil
}

// Register creates an account at the initial score and returns its id.
func (s *Service) Register(ctx context.Context, email, pass string) (string, error) {
	d, err := s.components()
	if err != nil {
		return "", err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return "", err
	}
	hash, err := d.hasher.Hash(pass)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}

	acct := model.NewAccount(s.newID(), email, hash, s.clock())
	if err := d.store.Create(ctx, acct); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return "", ErrEmailTaken
		}
		return "", mapStoreErr(err)
	}

	metrics.RecordAccountRegistered()
	s.logger.Info(ctx, "account registered", logger.String("account_id", acct.ID))
	return acct.ID, nil
}

// Login checks credentials and scores the attempt. A wrong password is
// recorded as LOGIN_FAIL and returns ErrInvalidCredentials together with the
// updated score. An unknown email records nothing.
func (s *Service) Login(ctx context.Context, email, pass, deviceID, ip string) (LoginResult, error) {
	d, err := s.components()
	if err != nil {
		return LoginResult{}, err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	acct, err := d.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.RecordLogin(loginUnknownAccount)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, mapStoreErr(err)
	}

	ok, err := d.hasher.Verify(pass, acct.PasswordHash)
	if err != nil {
		s.logger.Error(ctx, "stored password hash is unreadable",
			logger.String("account_id", acct.ID),
			logger.Error(err),
		)
		metrics.RecordErrorByComponent("auth", "hash")
		ok = false
	}

	kind := model.LoginSuccess
	if !ok {
		kind = model.LoginFail
	}
	out, err := s.apply(ctx, d, model.Submission{
		AccountID: acct.ID,
		Kind:      kind,
		DeviceID:  deviceID,
		IP:        normalizeIP(ip),
	})
	if err != nil {
		return LoginResult{}, err
	}

	res := LoginResult{AccountID: acct.ID, Score: out.Score, Risk: risk.Classify(out.Score)}
	if !ok {
		metrics.RecordLogin(loginWrongPassword)
		return res, ErrInvalidCredentials
	}

	tok, exp, err := d.tokens.Issue(acct.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	res.Token, res.ExpiresAt = tok, exp
	metrics.RecordLogin(loginSuccess)
	return res, nil
}

// Authenticate validates a bearer token and returns the account it names.
func (s *Service) Authenticate(raw string) (string, error) {
	d, err := s.components()
	if err != nil {
		return "", err
	}
	claims, err := d.tokens.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims.AccountID(), nil
}
