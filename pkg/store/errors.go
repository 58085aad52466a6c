package store

import "errors"

var (
	// ErrNotFound indicates the referenced conversation does not exist or is
	// archived.
	ErrNotFound = errors.New("conversation not found")

	// ErrValidation indicates bad input shape or size. Never retried.
	ErrValidation = errors.New("validation failed")
)
