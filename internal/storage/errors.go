package storage

import (
	"errors"

	"solana-token-ledger/internal/domain"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists in a write-once table.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrKeyNotLocked is returned when a transaction writes a key it did not declare.
	ErrKeyNotLocked = errors.New("write to key not declared for transaction")

	// ErrConflict is returned when a transaction could not acquire its locks
	// or was aborted by the backend after bounded retries.
	ErrConflict = domain.ErrConflict
)
