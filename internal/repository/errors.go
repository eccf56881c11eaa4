package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrStale is returned by conditional updates whose precondition no
	// longer holds.
	ErrStale = errors.New("stale row")
)
