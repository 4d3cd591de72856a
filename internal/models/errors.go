package models

import "errors"

var (
	// ErrInvalidQuery is returned before any collaborator call when a query
	// specification is malformed.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidRecord is returned by the write path for malformed input.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrUnavailable wraps failures of the record store that retrieval cannot
	// recover from.
	ErrUnavailable = errors.New("collaborator unavailable")
)
