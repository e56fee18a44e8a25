package repository

import "errors"

// Common repository errors
var (
	ErrNotFound = errors.New("record not found")
	// ErrMalformedRecord marks stored data that no longer decodes.
	ErrMalformedRecord = errors.New("malformed record")
)
