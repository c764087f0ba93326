// Package minting creates mints together with their metadata.
package minting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-token-ledger/internal/auth"
	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/idhash"
	"solana-token-ledger/internal/journal"
	"solana-token-ledger/internal/observability"
	"solana-token-ledger/internal/pda"
	"solana-token-ledger/internal/storage"
)

// CreateMintRequest describes a new mint and the metadata attached to it.
type CreateMintRequest struct {
	Payer           string  `json:"payer"`
	Mint            string  `json:"mint"`
	FreezeAuthority *string `json:"freeze_authority,omitempty"`
	MintAuthority   *string `json:"mint_authority,omitempty"`
	MetadataAddress string  `json:"metadata_address"`
	Decimals        uint8   `json:"decimals"`
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	URI             string  `json:"uri"`
}

// Manager creates mint records. The mint and its metadata are written in
// one store transaction, so a reader sees both or neither.
type Manager struct {
	store    storage.AccountStore
	deriver  pda.Deriver
	recorder *journal.Recorder
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDeriver overrides the metadata address derivation.
func WithDeriver(d pda.Deriver) Option {
	return func(m *Manager) { m.deriver = d }
}

// WithRecorder journals created mints.
func WithRecorder(r *journal.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager over store.
func NewManager(store storage.AccountStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		deriver: pda.SolanaDeriver{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateMint creates a mint with zero supply and attaches its metadata.
// Only the payer has to sign; the authorities name future controllers.
func (m *Manager) CreateMint(ctx context.Context, signers auth.Verifier, req CreateMintRequest) (receipt *domain.Receipt, err error) {
	start := time.Now()
	defer func() {
		observability.RecordOperation("create_mint", time.Since(start).Seconds(), err)
	}()

	if err := m.validate(req); err != nil {
		return nil, err
	}
	if signers == nil || !signers.VerifySigner(req.Payer) {
		return nil, fmt.Errorf("%w: payer %s did not sign", domain.ErrUnauthorized, req.Payer)
	}

	updateAuthority := req.Payer
	if req.MintAuthority != nil {
		updateAuthority = *req.MintAuthority
	}

	var slot uint64
	err = m.store.Update(ctx, []string{req.Mint, req.MetadataAddress}, func(tx storage.Tx) error {
		if err := ensureAbsent(ctx, tx, req.Mint); err != nil {
			return err
		}
		slot = tx.Slot()

		mint := &domain.Mint{
			MintID:          req.Mint,
			Decimals:        req.Decimals,
			MintAuthority:   req.MintAuthority,
			FreezeAuthority: req.FreezeAuthority,
			MetadataAddress: req.MetadataAddress,
			CreatedSlot:     slot,
		}
		if err := tx.PutMint(ctx, mint); err != nil {
			return fmt.Errorf("put mint: %w", err)
		}

		err := tx.WriteMetadata(ctx, &domain.TokenMetadata{
			Address:         req.MetadataAddress,
			MintID:          req.Mint,
			UpdateAuthority: updateAuthority,
			Name:            req.Name,
			Symbol:          req.Symbol,
			URI:             req.URI,
			CreatedSlot:     slot,
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("%w: metadata %s", domain.ErrAlreadyExists, req.MetadataAddress)
		}
		if err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	signature := idhash.ComputeTxSignature(domain.EventKindCreateMint, slot, req.Mint, req.Payer)
	m.recorder.Record(ctx, &domain.LedgerEvent{
		Signature: signature,
		Kind:      domain.EventKindCreateMint,
		Slot:      slot,
		MintID:    req.Mint,
		Authority: req.Payer,
	})
	observability.RecordMintCreated()

	m.logger.Info("mint created",
		zap.String("mint", req.Mint),
		zap.Uint8("decimals", req.Decimals),
		zap.String("symbol", req.Symbol),
		zap.Uint64("slot", slot),
	)

	return &domain.Receipt{Signature: signature, Slot: slot}, nil
}

func (m *Manager) validate(req CreateMintRequest) error {
	if err := pda.ValidateAddress(req.Payer); err != nil {
		return fmt.Errorf("payer: %w", err)
	}
	if err := pda.ValidateAddress(req.Mint); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	if req.MintAuthority != nil {
		if err := pda.ValidateAddress(*req.MintAuthority); err != nil {
			return fmt.Errorf("mint authority: %w", err)
		}
	}
	if req.FreezeAuthority != nil {
		if err := pda.ValidateAddress(*req.FreezeAuthority); err != nil {
			return fmt.Errorf("freeze authority: %w", err)
		}
	}
	if req.Decimals > domain.MaxDecimals {
		return fmt.Errorf("%w: %d exceeds %d", domain.ErrInvalidDecimals, req.Decimals, domain.MaxDecimals)
	}
	if err := domain.ValidateMetadata(req.Name, req.Symbol, req.URI); err != nil {
		return err
	}

	want, err := m.deriver.MetadataAddress(req.Mint)
	if err != nil {
		return fmt.Errorf("derive metadata address: %w", err)
	}
	if req.MetadataAddress != want {
		return fmt.Errorf("%w: metadata address %s is not derived from mint %s", domain.ErrInvalidMetadata, req.MetadataAddress, req.Mint)
	}
	return nil
}

// ensureAbsent fails if address already holds a mint or a token account.
func ensureAbsent(ctx context.Context, tx storage.Tx, address string) error {
	if _, err := tx.GetMint(ctx, address); err == nil {
		return fmt.Errorf("%w: mint %s", domain.ErrAlreadyExists, address)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if _, err := tx.GetTokenAccount(ctx, address); err == nil {
		return fmt.Errorf("%w: %s is a token account", domain.ErrAlreadyExists, address)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
