package memory

import (
	"context"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/storage"
)

// memTx stages writes until commit. Reads see staged values first.
type memTx struct {
	store *AccountStore
	keys  map[string]struct{}
	slot  uint64

	mints        map[string]*domain.Mint
	accounts     map[string]*domain.TokenAccount
	metadata     map[string]*domain.TokenMetadata
	dataAccounts map[string]*domain.DataAccount
	nonces       map[string]uint64
}

func newTx(s *AccountStore, keys []string, slot uint64) *memTx {
	tx := &memTx{
		store:        s,
		keys:         make(map[string]struct{}, len(keys)),
		slot:         slot,
		mints:        make(map[string]*domain.Mint),
		accounts:     make(map[string]*domain.TokenAccount),
		metadata:     make(map[string]*domain.TokenMetadata),
		dataAccounts: make(map[string]*domain.DataAccount),
		nonces:       make(map[string]uint64),
	}
	for _, k := range keys {
		tx.keys[k] = struct{}{}
	}
	return tx
}

func (tx *memTx) Slot() uint64 { return tx.slot }

func (tx *memTx) locked(key string) error {
	if _, ok := tx.keys[key]; !ok {
		return storage.ErrKeyNotLocked
	}
	return nil
}

func (tx *memTx) GetMint(ctx context.Context, mintID string) (*domain.Mint, error) {
	if m, ok := tx.mints[mintID]; ok {
		return m.Clone(), nil
	}
	return tx.store.GetMint(ctx, mintID)
}

func (tx *memTx) GetTokenAccount(ctx context.Context, accountID string) (*domain.TokenAccount, error) {
	if a, ok := tx.accounts[accountID]; ok {
		return a.Clone(), nil
	}
	return tx.store.GetTokenAccount(ctx, accountID)
}

func (tx *memTx) GetMetadata(ctx context.Context, address string) (*domain.TokenMetadata, error) {
	if m, ok := tx.metadata[address]; ok {
		return m.Clone(), nil
	}
	return tx.store.GetMetadata(ctx, address)
}

func (tx *memTx) GetDataAccount(ctx context.Context, address string) (*domain.DataAccount, error) {
	if d, ok := tx.dataAccounts[address]; ok {
		cp := *d
		return &cp, nil
	}
	return tx.store.GetDataAccount(ctx, address)
}

func (tx *memTx) GetProgramDataAccount(ctx context.Context) (*domain.DataAccount, error) {
	for _, d := range tx.dataAccounts {
		cp := *d
		return &cp, nil
	}
	return tx.store.GetProgramDataAccount(ctx)
}

func (tx *memTx) PutMint(_ context.Context, m *domain.Mint) error {
	if m == nil || m.MintID == "" {
		return storage.ErrInvalidInput
	}
	if err := tx.locked(m.MintID); err != nil {
		return err
	}
	tx.mints[m.MintID] = m.Clone()
	return nil
}

func (tx *memTx) PutTokenAccount(_ context.Context, a *domain.TokenAccount) error {
	if a == nil || a.AccountID == "" || a.Owner == "" || a.MintID == "" {
		return storage.ErrInvalidInput
	}
	if err := tx.locked(a.AccountID); err != nil {
		return err
	}

	tx.store.mu.RLock()
	other, taken := tx.store.byOwnerMint[ownerMint{a.Owner, a.MintID}]
	tx.store.mu.RUnlock()
	if taken && other != a.AccountID {
		return storage.ErrDuplicateKey
	}

	tx.accounts[a.AccountID] = a.Clone()
	return nil
}

func (tx *memTx) WriteMetadata(ctx context.Context, m *domain.TokenMetadata) error {
	if m == nil || m.Address == "" || m.MintID == "" {
		return storage.ErrInvalidInput
	}
	if err := tx.locked(m.Address); err != nil {
		return err
	}
	if _, err := tx.GetMetadata(ctx, m.Address); err == nil {
		return storage.ErrDuplicateKey
	}

	tx.store.mu.RLock()
	_, taken := tx.store.metadataByMint[m.MintID]
	tx.store.mu.RUnlock()
	if taken {
		return storage.ErrDuplicateKey
	}

	tx.metadata[m.Address] = m.Clone()
	return nil
}

func (tx *memTx) PutDataAccount(ctx context.Context, d *domain.DataAccount) error {
	if d == nil || d.Address == "" {
		return storage.ErrInvalidInput
	}
	if err := tx.locked(storage.DataAccountKey); err != nil {
		return err
	}
	if _, err := tx.GetProgramDataAccount(ctx); err == nil {
		return storage.ErrDuplicateKey
	}

	cp := *d
	tx.dataAccounts[d.Address] = &cp
	return nil
}

func (tx *memTx) ConsumeNonce(_ context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}
	if err := tx.locked(key); err != nil {
		return err
	}
	if _, ok := tx.nonces[key]; ok {
		return storage.ErrDuplicateKey
	}

	tx.store.mu.RLock()
	_, used := tx.store.nonces[key]
	tx.store.mu.RUnlock()
	if used {
		return storage.ErrDuplicateKey
	}

	tx.nonces[key] = tx.slot
	return nil
}

var _ storage.Tx = (*memTx)(nil)
