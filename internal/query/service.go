// Package query serves read-only views of ledger state.
package query

import (
	"context"
	"errors"
	"fmt"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/pda"
	"solana-token-ledger/internal/storage"
)

// MintInfo is a mint together with its metadata.
type MintInfo struct {
	Mint     *domain.Mint
	Metadata *domain.TokenMetadata
}

// Service answers read-only questions about ledger state. It never writes.
type Service struct {
	store  storage.AccountStore
	events storage.EventStore
}

// NewService creates a Service. events may be nil, in which case History
// returns an empty result.
func NewService(store storage.AccountStore, events storage.EventStore) *Service {
	return &Service{store: store, events: events}
}

// BalanceOf returns the balance of an existing account. A missing account
// is ErrAccountNotFound, never a zero balance.
func (s *Service) BalanceOf(ctx context.Context, accountID string) (uint64, error) {
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Account returns a token account.
func (s *Service) Account(ctx context.Context, accountID string) (*domain.TokenAccount, error) {
	if err := pda.ValidateAddress(accountID); err != nil {
		return nil, err
	}

	acct, err := s.store.GetTokenAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("get token account: %w", err)
	}
	return acct, nil
}

// Balances reads several balances from one consistent snapshot, so no
// transfer between them is observed half-applied.
func (s *Service) Balances(ctx context.Context, accountIDs ...string) (map[string]uint64, error) {
	for _, id := range accountIDs {
		if err := pda.ValidateAddress(id); err != nil {
			return nil, err
		}
	}

	result := make(map[string]uint64, len(accountIDs))
	err := s.store.View(ctx, accountIDs, func(r storage.Reader) error {
		for _, id := range accountIDs {
			acct, err := r.GetTokenAccount(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("get token account: %w", err)
			}
			result[id] = acct.Balance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AccountsByOwner returns all token accounts of owner.
func (s *Service) AccountsByOwner(ctx context.Context, owner string) ([]*domain.TokenAccount, error) {
	if err := pda.ValidateAddress(owner); err != nil {
		return nil, err
	}
	return s.store.ListTokenAccountsByOwner(ctx, owner)
}

// MintInfo returns a mint and its metadata.
func (s *Service) MintInfo(ctx context.Context, mintID string) (*MintInfo, error) {
	if err := pda.ValidateAddress(mintID); err != nil {
		return nil, err
	}

	var info MintInfo
	err := s.store.View(ctx, []string{mintID}, func(r storage.Reader) error {
		mint, err := r.GetMint(ctx, mintID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrMintNotFound, mintID)
		}
		if err != nil {
			return fmt.Errorf("get mint: %w", err)
		}
		info.Mint = mint

		md, err := r.GetMetadata(ctx, mint.MetadataAddress)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("get metadata: %w", err)
		}
		info.Metadata = md
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// History returns the journaled events touching an account, oldest first.
func (s *Service) History(ctx context.Context, accountID string) ([]*domain.LedgerEvent, error) {
	if err := pda.ValidateAddress(accountID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, nil
	}
	events, err := s.events.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return events, nil
}

// MintHistory returns the journaled events of a mint, oldest first.
func (s *Service) MintHistory(ctx context.Context, mintID string) ([]*domain.LedgerEvent, error) {
	if err := pda.ValidateAddress(mintID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, nil
	}
	events, err := s.events.GetByMint(ctx, mintID)
	if err != nil {
		return nil, fmt.Errorf("get mint history: %w", err)
	}
	return events, nil
}
