package types

import "errors"

// Domain errors for type validation
var (
	// Record validation errors
	ErrInvalidKind   = errors.New("invalid kind")
	ErrInvalidStatus = errors.New("invalid status")
	ErrEmptyTitle    = errors.New("title cannot be empty")
	ErrInvalidID     = errors.New("invalid record ID")

	// Embedding errors
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidEmbedding  = errors.New("embedding must be finite and non-zero")
)
