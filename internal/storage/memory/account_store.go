package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/storage"
)

// DefaultLockTimeout bounds how long a transaction waits for its keys.
const DefaultLockTimeout = 5 * time.Second

type ownerMint struct {
	owner string
	mint  string
}

// AccountStore is an in-memory implementation of storage.AccountStore.
// Per-key locks serialize transactions over the same records; commits
// publish all staged writes under one write lock.
type AccountStore struct {
	locks       *keyLocks
	lockTimeout time.Duration
	slot        atomic.Uint64

	mu             sync.RWMutex
	mints          map[string]*domain.Mint
	accounts       map[string]*domain.TokenAccount
	byOwnerMint    map[ownerMint]string
	metadata       map[string]*domain.TokenMetadata
	metadataByMint map[string]string
	dataAccounts   map[string]*domain.DataAccount
	nonces         map[string]uint64 // nonce key -> consuming slot
}

// Option configures an AccountStore.
type Option func(*AccountStore)

// WithLockTimeout sets how long Update and View wait for locks before
// returning storage.ErrConflict.
func WithLockTimeout(d time.Duration) Option {
	return func(s *AccountStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore(opts ...Option) *AccountStore {
	s := &AccountStore{
		locks:          newKeyLocks(),
		lockTimeout:    DefaultLockTimeout,
		mints:          make(map[string]*domain.Mint),
		accounts:       make(map[string]*domain.TokenAccount),
		byOwnerMint:    make(map[ownerMint]string),
		metadata:       make(map[string]*domain.TokenMetadata),
		metadataByMint: make(map[string]string),
		dataAccounts:   make(map[string]*domain.DataAccount),
		nonces:         make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetMint retrieves a mint. Returns ErrNotFound if not exists.
func (s *AccountStore) GetMint(_ context.Context, mintID string) (*domain.Mint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mints[mintID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// GetTokenAccount retrieves a token account. Returns ErrNotFound if not exists.
func (s *AccountStore) GetTokenAccount(_ context.Context, accountID string) (*domain.TokenAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// GetMetadata retrieves metadata by address. Returns ErrNotFound if not exists.
func (s *AccountStore) GetMetadata(_ context.Context, address string) (*domain.TokenMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metadata[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// GetDataAccount retrieves the data account. Returns ErrNotFound if not exists.
func (s *AccountStore) GetDataAccount(_ context.Context, address string) (*domain.DataAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.dataAccounts[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// GetProgramDataAccount returns the single data account. Returns ErrNotFound
// before initialization.
func (s *AccountStore) GetProgramDataAccount(_ context.Context) (*domain.DataAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.dataAccounts {
		cp := *d
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

// ListTokenAccountsByOwner returns all accounts of owner ordered by account ID.
func (s *AccountStore) ListTokenAccountsByOwner(_ context.Context, owner string) ([]*domain.TokenAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenAccount
	for _, a := range s.accounts {
		if a.Owner == owner {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AccountID < result[j].AccountID
	})
	return result, nil
}

// Update runs fn in a transaction over keys.
func (s *AccountStore) Update(ctx context.Context, keys []string, fn func(tx storage.Tx) error) error {
	keys = normalizeKeys(keys)
	if len(keys) == 0 {
		return storage.ErrInvalidInput
	}

	unlock, err := s.locks.lockAll(ctx, keys, s.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	tx := newTx(s, keys, s.slot.Add(1))
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// View runs fn against a snapshot of keys.
func (s *AccountStore) View(ctx context.Context, keys []string, fn func(r storage.Reader) error) error {
	keys = normalizeKeys(keys)

	unlock, err := s.locks.lockAll(ctx, keys, s.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	return fn(s)
}

// commit validates cross-record uniqueness and publishes staged writes.
func (s *AccountStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range tx.accounts {
		if other, ok := s.byOwnerMint[ownerMint{a.Owner, a.MintID}]; ok && other != id {
			return storage.ErrDuplicateKey
		}
	}
	for addr, m := range tx.metadata {
		if _, ok := s.metadata[addr]; ok {
			return storage.ErrDuplicateKey
		}
		if _, ok := s.metadataByMint[m.MintID]; ok {
			return storage.ErrDuplicateKey
		}
	}
	if len(tx.dataAccounts) > 0 && len(s.dataAccounts) > 0 {
		return storage.ErrDuplicateKey
	}
	for key := range tx.nonces {
		if _, ok := s.nonces[key]; ok {
			return storage.ErrDuplicateKey
		}
	}

	for id, m := range tx.mints {
		s.mints[id] = m
	}
	for id, a := range tx.accounts {
		if prev, ok := s.accounts[id]; ok {
			delete(s.byOwnerMint, ownerMint{prev.Owner, prev.MintID})
		}
		s.accounts[id] = a
		s.byOwnerMint[ownerMint{a.Owner, a.MintID}] = id
	}
	for addr, m := range tx.metadata {
		s.metadata[addr] = m
		s.metadataByMint[m.MintID] = addr
	}
	for addr, d := range tx.dataAccounts {
		s.dataAccounts[addr] = d
	}
	for key, slot := range tx.nonces {
		s.nonces[key] = slot
	}
	return nil
}

// LockedKeys returns the number of keys currently locked or contended.
func (s *AccountStore) LockedKeys() int {
	return s.locks.size()
}

var _ storage.AccountStore = (*AccountStore)(nil)
