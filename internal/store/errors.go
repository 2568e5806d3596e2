package store

import "errors"

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist in the
	// store (e.g., an unknown task history row or conversion sub-task ID).
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an operation would create a duplicate of
	// a unique record (e.g., a second history row for the same task ID).
	ErrDuplicate = errors.New("record already exists")

	// ErrTransactionFailed is returned when a database transaction fails to
	// commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")
)
