package token

import "errors"

// Sentinel errors for token handling.
var (
	ErrMissingSecret = errors.New("token secret is required")
	ErrInvalidToken  = errors.New("invalid token")
)
