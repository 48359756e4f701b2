package service

import (
	"errors"

	"github.com/okian/trustscore/internal/domain/scoring"
)

// Errors returned by Service. The scoring taxonomy is reused so callers map
// one set of sentinels.
var (
	ErrNotFound           = scoring.ErrNotFound
	ErrInvalidInput       = scoring.ErrInvalidInput
	ErrUnavailable        = scoring.ErrStoreUnavailable
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotStarted         = errors.New("service not started")
)
