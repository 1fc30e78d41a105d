package repo

import "errors"

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExhausted is returned by checkout when a run has no task left in
	// the initialized status. It is a terminal signal, not a failure.
	ErrExhausted = errors.New("no task available")
)
