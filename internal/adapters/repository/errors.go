package repository

import (
	"errors"

	"github.com/okian/trustscore/internal/domain/model"
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound       = model.ErrAccountNotFound
	ErrConflict       = model.ErrVersionConflict
	ErrAlreadyExists  = errors.New("account already exists")
	ErrUnavailable    = errors.New("store unavailable")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrInvalidAccount = errors.New("invalid account")
)
