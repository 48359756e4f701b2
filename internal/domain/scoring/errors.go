package scoring

import "errors"

// Errors surfaced by the engine. Callers match with errors.Is.
var (
	ErrNotFound         = errors.New("account not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("concurrent score update")
	ErrStoreUnavailable = errors.New("store unavailable")
)
