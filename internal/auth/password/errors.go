package password

import "errors"

// Sentinel errors for hashing and verification.
var (
	ErrTooShort      = errors.New("password too short")
	ErrInvalidHash   = errors.New("invalid password hash")
	ErrInvalidParams = errors.New("invalid argon2 parameters")
)
