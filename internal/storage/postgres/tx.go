package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/storage"
)

// pgTx implements storage.Tx over an open pgx transaction.
type pgTx struct {
	reader
	tx   pgx.Tx
	keys map[string]struct{}
	slot uint64
}

func newTx(tx pgx.Tx, keys []string, slot uint64) *pgTx {
	t := &pgTx{
		reader: reader{q: tx},
		tx:     tx,
		keys:   make(map[string]struct{}, len(keys)),
		slot:   slot,
	}
	for _, k := range keys {
		t.keys[k] = struct{}{}
	}
	return t
}

var _ storage.Tx = (*pgTx)(nil)

func (t *pgTx) Slot() uint64 { return t.slot }

func (t *pgTx) locked(key string) error {
	if _, ok := t.keys[key]; !ok {
		return storage.ErrKeyNotLocked
	}
	return nil
}

// PutMint inserts or replaces a mint.
func (t *pgTx) PutMint(ctx context.Context, m *domain.Mint) error {
	if m == nil || m.MintID == "" {
		return storage.ErrInvalidInput
	}
	if err := t.locked(m.MintID); err != nil {
		return err
	}

	query := `
		INSERT INTO mints (
			mint_id, decimals, mint_authority, freeze_authority, supply, metadata_address, created_slot
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (mint_id) DO UPDATE SET
			mint_authority = EXCLUDED.mint_authority,
			freeze_authority = EXCLUDED.freeze_authority,
			supply = EXCLUDED.supply,
			updated_at = now()
	`

	_, err := t.tx.Exec(ctx, query,
		m.MintID,
		int16(m.Decimals),
		m.MintAuthority,
		m.FreezeAuthority,
		numericFromUint64(m.Supply),
		m.MetadataAddress,
		int64(m.CreatedSlot),
	)
	if err != nil {
		return fmt.Errorf("put mint: %w", err)
	}
	return nil
}

// PutTokenAccount inserts or replaces a token account.
// Returns ErrDuplicateKey if another account already holds (owner, mint).
func (t *pgTx) PutTokenAccount(ctx context.Context, a *domain.TokenAccount) error {
	if a == nil || a.AccountID == "" || a.Owner == "" || a.MintID == "" {
		return storage.ErrInvalidInput
	}
	if err := t.locked(a.AccountID); err != nil {
		return err
	}

	query := `
		INSERT INTO token_accounts (
			account_id, owner, mint_id, balance, created_slot
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			updated_at = now()
	`

	_, err := t.tx.Exec(ctx, query,
		a.AccountID,
		a.Owner,
		a.MintID,
		numericFromUint64(a.Balance),
		int64(a.CreatedSlot),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("put token account: %w", err)
	}
	return nil
}

// WriteMetadata stores metadata once.
func (t *pgTx) WriteMetadata(ctx context.Context, m *domain.TokenMetadata) error {
	if m == nil || m.Address == "" || m.MintID == "" {
		return storage.ErrInvalidInput
	}
	if err := t.locked(m.Address); err != nil {
		return err
	}

	query := `
		INSERT INTO token_metadata (
			address, mint_id, update_authority, name, symbol, uri, created_slot
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := t.tx.Exec(ctx, query,
		m.Address,
		m.MintID,
		m.UpdateAuthority,
		m.Name,
		m.Symbol,
		m.URI,
		int64(m.CreatedSlot),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// PutDataAccount records the program data account. The unique singleton
// column rejects a second row whatever its address.
func (t *pgTx) PutDataAccount(ctx context.Context, d *domain.DataAccount) error {
	if d == nil || d.Address == "" {
		return storage.ErrInvalidInput
	}
	if err := t.locked(storage.DataAccountKey); err != nil {
		return err
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO data_accounts (address, created_slot) VALUES ($1, $2)`,
		d.Address, int64(d.CreatedSlot),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("put data account: %w", err)
	}
	return nil
}

// ConsumeNonce records key in consumed_nonces.
func (t *pgTx) ConsumeNonce(ctx context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}
	if err := t.locked(key); err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx,
		`INSERT INTO consumed_nonces (nonce_key, slot) VALUES ($1, $2) ON CONFLICT (nonce_key) DO NOTHING`,
		key, int64(t.slot),
	)
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}
