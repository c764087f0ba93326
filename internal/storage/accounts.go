package storage

import (
	"context"
	"errors"
	"fmt"

	"solana-token-ledger/internal/domain"
)

// GetOrCreateTokenAccount returns the token account at id, creating it for
// (owner, mintID) if it does not exist. The returned bool is true when the
// account was created by this call.
//
// Repeated and concurrent calls for the same id serialize on the account's
// lock, so exactly one of them creates it.
func GetOrCreateTokenAccount(ctx context.Context, s AccountStore, id, owner, mintID string) (*domain.TokenAccount, bool, error) {
	if id == "" || owner == "" || mintID == "" {
		return nil, false, ErrInvalidInput
	}

	// Fast path without locks.
	if acct, err := s.GetTokenAccount(ctx, id); err == nil {
		if err := checkBinding(acct, owner, mintID); err != nil {
			return nil, false, err
		}
		return acct, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	var (
		result  *domain.TokenAccount
		created bool
	)
	err := s.Update(ctx, []string{id}, func(tx Tx) error {
		created = false
		acct, err := CreateTokenAccountTx(ctx, tx, id, owner, mintID)
		if err != nil {
			return err
		}
		result = acct
		created = acct.CreatedSlot == tx.Slot()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// CreateTokenAccountTx is the in-transaction half of GetOrCreateTokenAccount,
// for callers that create the account as part of a larger transaction.
// The transaction must hold the lock on id.
func CreateTokenAccountTx(ctx context.Context, tx Tx, id, owner, mintID string) (*domain.TokenAccount, error) {
	acct, err := tx.GetTokenAccount(ctx, id)
	if err == nil {
		if err := checkBinding(acct, owner, mintID); err != nil {
			return nil, err
		}
		return acct, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := tx.GetMint(ctx, mintID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.ErrMintNotFound
		}
		return nil, err
	}

	acct = &domain.TokenAccount{
		AccountID:   id,
		Owner:       owner,
		MintID:      mintID,
		CreatedSlot: tx.Slot(),
	}
	if err := tx.PutTokenAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func checkBinding(acct *domain.TokenAccount, owner, mintID string) error {
	if acct.MintID != mintID {
		return fmt.Errorf("%w: account %s holds mint %s, not %s", domain.ErrMintMismatch, acct.AccountID, acct.MintID, mintID)
	}
	if acct.Owner != owner {
		return fmt.Errorf("%w: account %s is bound to owner %s", domain.ErrAlreadyExists, acct.AccountID, acct.Owner)
	}
	return nil
}
