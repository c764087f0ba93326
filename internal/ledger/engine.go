// Package ledger moves token amounts: minting new supply into accounts and
// transferring balances between accounts of the same mint.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	smath "github.com/ava-labs/avalanchego/utils/math"
	"go.uber.org/zap"

	"solana-token-ledger/internal/auth"
	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/idhash"
	"solana-token-ledger/internal/journal"
	"solana-token-ledger/internal/observability"
	"solana-token-ledger/internal/pda"
	"solana-token-ledger/internal/storage"
)

// MintToRequest increases a mint's supply into a destination account.
// The payer is the authorizing identity and must be the mint authority.
type MintToRequest struct {
	Payer       string `json:"payer"`
	Destination string `json:"destination"`
	Mint        string `json:"mint"`
	Amount      uint64 `json:"amount"`

	// Owner, when set and Destination is Owner's associated token account,
	// lets a missing destination be created in the same transaction.
	Owner string `json:"owner,omitempty"`

	// Nonce, when set, is spent by the commit. A second request from the
	// same payer with the same nonce fails with ErrReplayed.
	Nonce string `json:"nonce,omitempty"`
}

// TransferRequest moves Amount from Source to Destination.
// The owner of Source must sign.
type TransferRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`

	// Nonce, when set, is spent by the commit. It is scoped to Source.
	Nonce string `json:"nonce,omitempty"`
}

// MaxNonceLen bounds a request nonce.
const MaxNonceLen = 128

// Engine applies balance-changing operations. Each call is one store
// transaction over exactly the records it touches, attempted once.
type Engine struct {
	store    storage.AccountStore
	deriver  pda.Deriver
	recorder *journal.Recorder
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDeriver overrides associated token address derivation.
func WithDeriver(d pda.Deriver) Option {
	return func(e *Engine) { e.deriver = d }
}

// WithRecorder journals committed operations.
func WithRecorder(r *journal.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine over store.
func NewEngine(store storage.AccountStore, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		deriver: pda.SolanaDeriver{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MintTo adds req.Amount to the mint's supply and to the destination balance.
func (e *Engine) MintTo(ctx context.Context, signers auth.Verifier, req MintToRequest) (receipt *domain.Receipt, err error) {
	start := time.Now()
	defer func() {
		observability.RecordOperation("mint_to", time.Since(start).Seconds(), err)
	}()

	if req.Amount == 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := validateAddresses(map[string]string{
		"payer": req.Payer, "destination": req.Destination, "mint": req.Mint,
	}); err != nil {
		return nil, err
	}
	if signers == nil || !signers.VerifySigner(req.Payer) {
		return nil, fmt.Errorf("%w: payer %s did not sign", domain.ErrUnauthorized, req.Payer)
	}
	nonce, err := nonceKey("mintTo", req.Payer, req.Nonce)
	if err != nil {
		return nil, err
	}

	canCreate := false
	if req.Owner != "" {
		ata, err := e.deriver.AssociatedTokenAddress(req.Owner, req.Mint)
		if err != nil {
			return nil, fmt.Errorf("owner: %w", err)
		}
		canCreate = ata == req.Destination
	}

	var (
		slot    uint64
		supply  uint64
		created bool
	)
	err = e.store.Update(ctx, []string{req.Mint, req.Destination, nonce}, func(tx storage.Tx) error {
		created = false
		if err := consumeNonce(ctx, tx, nonce); err != nil {
			return err
		}

		mint, err := tx.GetMint(ctx, req.Mint)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrMintNotFound, req.Mint)
		}
		if err != nil {
			return fmt.Errorf("get mint: %w", err)
		}
		if !mint.HasMintAuthority(req.Payer) {
			return fmt.Errorf("%w: %s is not the mint authority of %s", domain.ErrUnauthorized, req.Payer, req.Mint)
		}

		dest, err := tx.GetTokenAccount(ctx, req.Destination)
		switch {
		case errors.Is(err, storage.ErrNotFound) && canCreate:
			dest, err = storage.CreateTokenAccountTx(ctx, tx, req.Destination, req.Owner, req.Mint)
			if err != nil {
				return err
			}
			created = true
		case errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, req.Destination)
		case err != nil:
			return fmt.Errorf("get destination: %w", err)
		}
		if dest.MintID != mint.MintID {
			return fmt.Errorf("%w: account %s holds mint %s", domain.ErrMintMismatch, dest.AccountID, dest.MintID)
		}

		newSupply, err := smath.Add(mint.Supply, req.Amount)
		if err != nil {
			return fmt.Errorf("%w: supply %d + %d", domain.ErrOverflow, mint.Supply, req.Amount)
		}
		newBalance, err := smath.Add(dest.Balance, req.Amount)
		if err != nil {
			return fmt.Errorf("%w: balance %d + %d", domain.ErrOverflow, dest.Balance, req.Amount)
		}

		mint.Supply = newSupply
		dest.Balance = newBalance
		if err := tx.PutMint(ctx, mint); err != nil {
			return fmt.Errorf("put mint: %w", err)
		}
		if err := tx.PutTokenAccount(ctx, dest); err != nil {
			return fmt.Errorf("put destination: %w", err)
		}

		slot = tx.Slot()
		supply = newSupply
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		e.recordAccountCreated(ctx, slot, req.Destination, req.Owner, req.Mint, req.Payer)
	}

	signature := idhash.ComputeTxSignature(domain.EventKindMintTo, slot, req.Mint, req.Destination, req.Payer)
	e.recorder.Record(ctx, &domain.LedgerEvent{
		Signature:   signature,
		Kind:        domain.EventKindMintTo,
		Slot:        slot,
		MintID:      req.Mint,
		Destination: req.Destination,
		Authority:   req.Payer,
		Amount:      req.Amount,
		SupplyAfter: supply,
	})

	e.logger.Info("minted",
		zap.String("mint", req.Mint),
		zap.String("destination", req.Destination),
		zap.Uint64("amount", req.Amount),
		zap.Uint64("supply", supply),
		zap.Uint64("slot", slot),
	)

	return &domain.Receipt{Signature: signature, Slot: slot}, nil
}

// Transfer moves req.Amount between two accounts of the same mint.
// A transfer to the source itself validates like any other and leaves the
// balance unchanged.
func (e *Engine) Transfer(ctx context.Context, signers auth.Verifier, req TransferRequest) (receipt *domain.Receipt, err error) {
	start := time.Now()
	defer func() {
		observability.RecordOperation("transfer", time.Since(start).Seconds(), err)
	}()

	if req.Amount == 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := validateAddresses(map[string]string{
		"source": req.Source, "destination": req.Destination,
	}); err != nil {
		return nil, err
	}
	nonce, err := nonceKey("transfer", req.Source, req.Nonce)
	if err != nil {
		return nil, err
	}

	var (
		slot      uint64
		mintID    string
		authority string
	)
	err = e.store.Update(ctx, []string{req.Source, req.Destination, nonce}, func(tx storage.Tx) error {
		src, err := getAccount(ctx, tx, req.Source)
		if err != nil {
			return err
		}
		if signers == nil || !signers.VerifySigner(src.Owner) {
			return fmt.Errorf("%w: owner %s of %s did not sign", domain.ErrUnauthorized, src.Owner, src.AccountID)
		}
		if err := consumeNonce(ctx, tx, nonce); err != nil {
			return err
		}

		dst := src
		if req.Destination != req.Source {
			if dst, err = getAccount(ctx, tx, req.Destination); err != nil {
				return err
			}
		}
		if src.MintID != dst.MintID {
			return fmt.Errorf("%w: %s holds %s, %s holds %s",
				domain.ErrMintMismatch, src.AccountID, src.MintID, dst.AccountID, dst.MintID)
		}

		newSource, err := smath.Sub(src.Balance, req.Amount)
		if err != nil {
			return fmt.Errorf("%w: balance %d, amount %d", domain.ErrInsufficientFunds, src.Balance, req.Amount)
		}

		slot = tx.Slot()
		mintID = src.MintID
		authority = src.Owner

		if dst == src {
			return nil
		}

		newDest, err := smath.Add(dst.Balance, req.Amount)
		if err != nil {
			return fmt.Errorf("%w: balance %d + %d", domain.ErrOverflow, dst.Balance, req.Amount)
		}
		src.Balance = newSource
		dst.Balance = newDest
		if err := tx.PutTokenAccount(ctx, src); err != nil {
			return fmt.Errorf("put source: %w", err)
		}
		if err := tx.PutTokenAccount(ctx, dst); err != nil {
			return fmt.Errorf("put destination: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	signature := idhash.ComputeTxSignature(domain.EventKindTransfer, slot, req.Source, req.Destination, authority)
	e.recorder.Record(ctx, &domain.LedgerEvent{
		Signature:   signature,
		Kind:        domain.EventKindTransfer,
		Slot:        slot,
		MintID:      mintID,
		Source:      req.Source,
		Destination: req.Destination,
		Authority:   authority,
		Amount:      req.Amount,
	})

	e.logger.Info("transferred",
		zap.String("mint", mintID),
		zap.String("source", req.Source),
		zap.String("destination", req.Destination),
		zap.Uint64("amount", req.Amount),
		zap.Uint64("slot", slot),
	)

	return &domain.Receipt{Signature: signature, Slot: slot}, nil
}

// GetOrCreateAccount returns owner's associated token account for mint,
// creating it if needed. Only creation requires the payer's signature.
// The returned bool reports whether this call created the account.
func (e *Engine) GetOrCreateAccount(ctx context.Context, signers auth.Verifier, payer, owner, mintID string) (acct *domain.TokenAccount, created bool, err error) {
	start := time.Now()
	defer func() {
		observability.RecordOperation("get_or_create_account", time.Since(start).Seconds(), err)
	}()

	if err := validateAddresses(map[string]string{"payer": payer}); err != nil {
		return nil, false, err
	}
	id, err := e.deriver.AssociatedTokenAddress(owner, mintID)
	if err != nil {
		return nil, false, err
	}

	acct, err = e.store.GetTokenAccount(ctx, id)
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("get token account: %w", err)
	}

	if signers == nil || !signers.VerifySigner(payer) {
		return nil, false, fmt.Errorf("%w: payer %s did not sign", domain.ErrUnauthorized, payer)
	}

	acct, created, err = storage.GetOrCreateTokenAccount(ctx, e.store, id, owner, mintID)
	if err != nil {
		return nil, false, err
	}
	if created {
		e.recordAccountCreated(ctx, acct.CreatedSlot, id, owner, mintID, payer)
	}
	return acct, created, nil
}

func (e *Engine) recordAccountCreated(ctx context.Context, slot uint64, id, owner, mintID, payer string) {
	e.recorder.Record(ctx, &domain.LedgerEvent{
		Signature:   idhash.ComputeTxSignature(domain.EventKindCreateAccount, slot, id, owner, mintID),
		Kind:        domain.EventKindCreateAccount,
		Slot:        slot,
		MintID:      mintID,
		Destination: id,
		Authority:   payer,
	})
	observability.RecordAccountCreated()

	e.logger.Info("token account created",
		zap.String("account", id),
		zap.String("owner", owner),
		zap.String("mint", mintID),
		zap.Uint64("slot", slot),
	)
}

func getAccount(ctx context.Context, tx storage.Tx, id string) (*domain.TokenAccount, error) {
	acct, err := tx.GetTokenAccount(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get token account %s: %w", id, err)
	}
	return acct, nil
}

// nonceKey returns the record key for nonce, or "" when the request has none.
func nonceKey(scope, signer, nonce string) (string, error) {
	if nonce == "" {
		return "", nil
	}
	if len(nonce) > MaxNonceLen {
		return "", fmt.Errorf("%w: longer than %d bytes", domain.ErrInvalidNonce, MaxNonceLen)
	}
	return storage.NonceKey(scope, signer, nonce), nil
}

func consumeNonce(ctx context.Context, tx storage.Tx, key string) error {
	if key == "" {
		return nil
	}
	err := tx.ConsumeNonce(ctx, key)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return domain.ErrReplayed
	}
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	return nil
}

func validateAddresses(fields map[string]string) error {
	for name, addr := range fields {
		if err := pda.ValidateAddress(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
