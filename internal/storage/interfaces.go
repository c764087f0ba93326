package storage

import (
	"context"

	"solana-token-ledger/internal/domain"
)

// Reader reads ledger records. Inside Update and View it reads the
// transaction's consistent snapshot.
type Reader interface {
	// GetMint retrieves a mint by address. Returns ErrNotFound if not exists.
	GetMint(ctx context.Context, mintID string) (*domain.Mint, error)

	// GetTokenAccount retrieves a token account by address. Returns ErrNotFound if not exists.
	GetTokenAccount(ctx context.Context, accountID string) (*domain.TokenAccount, error)

	// GetMetadata retrieves metadata by its derived address. Returns ErrNotFound if not exists.
	GetMetadata(ctx context.Context, address string) (*domain.TokenMetadata, error)

	// GetDataAccount retrieves the program data account. Returns ErrNotFound if not exists.
	GetDataAccount(ctx context.Context, address string) (*domain.DataAccount, error)

	// GetProgramDataAccount returns the one data account the program was
	// initialized with. Returns ErrNotFound before initialization.
	GetProgramDataAccount(ctx context.Context) (*domain.DataAccount, error)
}

// Tx is a single indivisible ledger transaction. Writes are only allowed to
// keys declared when the transaction was opened and become visible to other
// readers all at once, when the transaction commits.
type Tx interface {
	Reader

	// Slot returns the commit slot assigned to this transaction.
	Slot() uint64

	// PutMint inserts or replaces a mint.
	PutMint(ctx context.Context, m *domain.Mint) error

	// PutTokenAccount inserts or replaces a token account.
	// Returns ErrDuplicateKey if another account already holds (owner, mint).
	PutTokenAccount(ctx context.Context, a *domain.TokenAccount) error

	// WriteMetadata stores metadata once. Returns ErrDuplicateKey if the
	// address or the mint already has metadata.
	WriteMetadata(ctx context.Context, m *domain.TokenMetadata) error

	// PutDataAccount records the program data account. The transaction
	// must hold DataAccountKey. Returns ErrDuplicateKey if any data account
	// exists.
	PutDataAccount(ctx context.Context, d *domain.DataAccount) error

	// ConsumeNonce marks a NonceKey as used. The transaction must hold key.
	// Returns ErrDuplicateKey if it was consumed before.
	ConsumeNonce(ctx context.Context, key string) error
}

// AccountStore is the durable mapping from address to ledger record.
type AccountStore interface {
	Reader

	// ListTokenAccountsByOwner returns all token accounts of an owner, ordered by account ID.
	ListTokenAccountsByOwner(ctx context.Context, owner string) ([]*domain.TokenAccount, error)

	// Update runs fn in a transaction holding exclusive locks on keys.
	// If fn returns an error nothing is applied and that error is returned
	// unchanged. Lock contention that cannot be resolved returns ErrConflict.
	Update(ctx context.Context, keys []string, fn func(tx Tx) error) error

	// View runs fn against a consistent snapshot of keys. No writes.
	View(ctx context.Context, keys []string, fn func(r Reader) error) error
}

// EventStore provides access to the append-only ledger journal.
type EventStore interface {
	// Append adds a new event. Returns ErrDuplicateKey if signature exists.
	Append(ctx context.Context, e *domain.LedgerEvent) error

	// GetBySignature retrieves an event by its signature. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.LedgerEvent, error)

	// GetByAccount retrieves events whose source or destination is account, ordered by slot ASC.
	GetByAccount(ctx context.Context, account string) ([]*domain.LedgerEvent, error)

	// GetByMint retrieves events for a mint, ordered by slot ASC.
	GetByMint(ctx context.Context, mintID string) ([]*domain.LedgerEvent, error)
}
