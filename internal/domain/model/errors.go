package model

import "errors"

// Errors a store reports to the domain. Store implementations return these
// (or wrap them) so the engine can tell a missing account from a lost race.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrVersionConflict = errors.New("account version conflict")
)
