package store

import "errors"

// Sentinel errors returned by store operations. Callers match them with
// errors.Is; the API layer maps them to 404 and 409 respectively.
var (
	// ErrNotFound indicates a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique-constraint violation or an exhausted
	// lock-wait.
	ErrConflict = errors.New("conflict")
)
