// Package apperr defines sentinel errors shared across service layers.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrLocked       = errors.New("canvas locked")
	ErrNoProject    = errors.New("no project selected")
	ErrNoSources    = errors.New("no resolvable sources")
	ErrNotGenerator = errors.New("node is not a generator")
	ErrNotAllowed   = errors.New("generation not allowed")
)
