package domain

import (
	"errors"
	"fmt"
)

// Ledger errors. Every precondition failure maps to exactly one of these,
// and is returned before any state is mutated.
var (
	// ErrNotFound is the parent of ErrMintNotFound and ErrAccountNotFound.
	ErrNotFound = errors.New("not found")

	ErrMintNotFound    = fmt.Errorf("mint %w", ErrNotFound)
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)

	ErrAlreadyExists     = errors.New("already exists")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidMetadata   = errors.New("invalid metadata")
	ErrInvalidDecimals   = errors.New("invalid decimals")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrMintMismatch      = errors.New("mint mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrUninitialized     = errors.New("program data account not initialized")
	ErrInvalidNonce      = errors.New("invalid nonce")

	// ErrReplayed is returned when a signed request's nonce was already
	// spent by an earlier committed request.
	ErrReplayed = errors.New("nonce already used")

	// ErrConflict is returned when concurrent writers could not be serialized
	// within the store's bounded retry budget. Callers may resubmit.
	ErrConflict = errors.New("conflicting concurrent write")
)
