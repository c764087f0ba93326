// Package program exposes the token ledger as the set of instructions a
// client calls: initialize, create a mint, mint, transfer and read balances.
package program

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-token-ledger/internal/auth"
	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/idhash"
	"solana-token-ledger/internal/journal"
	"solana-token-ledger/internal/ledger"
	"solana-token-ledger/internal/minting"
	"solana-token-ledger/internal/observability"
	"solana-token-ledger/internal/pda"
	"solana-token-ledger/internal/query"
	"solana-token-ledger/internal/storage"
)

// Config holds Program dependencies. Store is required.
type Config struct {
	Store  storage.AccountStore
	Events storage.EventStore
	Logger *zap.Logger

	// Deriver computes metadata and associated token addresses.
	// Defaults to pda.SolanaDeriver.
	Deriver pda.Deriver

	// DataAccount, when set, is the only address Initialize accepts, and a
	// store initialized with another address is refused.
	DataAccount string
}

// ErrDataAccountMismatch is returned when the data account in the store or
// in an Initialize call differs from Config.DataAccount.
var ErrDataAccountMismatch = errors.New("data account does not match configuration")

// Program is the ledger's external surface. Every instruction except
// Initialize fails with ErrUninitialized until a data account exists.
type Program struct {
	store    storage.AccountStore
	recorder *journal.Recorder
	logger   *zap.Logger

	mints  *minting.Manager
	ledger *ledger.Engine
	query  *query.Service

	mu          sync.RWMutex
	dataAccount string
	expected    string
}

// New creates a Program from cfg.
func New(cfg Config) (*Program, error) {
	if cfg.Store == nil {
		return nil, errors.New("program: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Deriver == nil {
		cfg.Deriver = pda.SolanaDeriver{}
	}

	rec := journal.NewRecorder(cfg.Events, cfg.Logger.Named("journal"))
	return &Program{
		store:    cfg.Store,
		recorder: rec,
		logger:   cfg.Logger,
		mints: minting.NewManager(cfg.Store,
			minting.WithDeriver(cfg.Deriver),
			minting.WithRecorder(rec),
			minting.WithLogger(cfg.Logger.Named("minting")),
		),
		ledger: ledger.NewEngine(cfg.Store,
			ledger.WithDeriver(cfg.Deriver),
			ledger.WithRecorder(rec),
			ledger.WithLogger(cfg.Logger.Named("ledger")),
		),
		query:    query.NewService(cfg.Store, cfg.Events),
		expected: cfg.DataAccount,
	}, nil
}

// Recorder returns the journal recorder, for attaching live subscribers.
func (p *Program) Recorder() *journal.Recorder {
	return p.recorder
}

// DataAccount returns the initialized data account address, or "".
func (p *Program) DataAccount() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dataAccount
}

// Initialize allocates the ledger's data account. The data account must
// sign. A store holds one data account; once it exists every further call
// returns ErrAlreadyExists.
func (p *Program) Initialize(ctx context.Context, signers auth.Verifier, dataAccount string) (receipt *domain.Receipt, err error) {
	start := time.Now()
	defer func() {
		observability.RecordOperation("initialize", time.Since(start).Seconds(), err)
	}()

	if err := pda.ValidateAddress(dataAccount); err != nil {
		return nil, fmt.Errorf("data account: %w", err)
	}
	if p.expected != "" && dataAccount != p.expected {
		return nil, fmt.Errorf("%w: %w: got %s, configured %s",
			domain.ErrUnauthorized, ErrDataAccountMismatch, dataAccount, p.expected)
	}
	if signers == nil || !signers.VerifySigner(dataAccount) {
		return nil, fmt.Errorf("%w: data account %s did not sign", domain.ErrUnauthorized, dataAccount)
	}
	switch err := p.checkInitialized(ctx); {
	case err == nil:
		return nil, fmt.Errorf("%w: program already initialized with %s", domain.ErrAlreadyExists, p.DataAccount())
	case !errors.Is(err, domain.ErrUninitialized):
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dataAccount != "" {
		return nil, fmt.Errorf("%w: program already initialized with %s", domain.ErrAlreadyExists, p.dataAccount)
	}

	var slot uint64
	err = p.store.Update(ctx, []string{storage.DataAccountKey, dataAccount}, func(tx storage.Tx) error {
		slot = tx.Slot()
		err := tx.PutDataAccount(ctx, &domain.DataAccount{Address: dataAccount, CreatedSlot: slot})
		if errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("%w: program already initialized", domain.ErrAlreadyExists)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	p.dataAccount = dataAccount

	signature := idhash.ComputeTxSignature(domain.EventKindInitialize, slot, dataAccount)
	p.recorder.Record(ctx, &domain.LedgerEvent{
		Signature: signature,
		Kind:      domain.EventKindInitialize,
		Slot:      slot,
		Authority: dataAccount,
	})
	p.logger.Info("program initialized", zap.String("data_account", dataAccount), zap.Uint64("slot", slot))

	return &domain.Receipt{Signature: signature, Slot: slot}, nil
}

// Load reads the data account from the store, so a restarted process
// resumes an earlier Initialize. An uninitialized store is not an error.
func (p *Program) Load(ctx context.Context) error {
	err := p.checkInitialized(ctx)
	if errors.Is(err, domain.ErrUninitialized) {
		return nil
	}
	return err
}

// checkInitialized returns ErrUninitialized unless the store holds a data account.
func (p *Program) checkInitialized(ctx context.Context) error {
	p.mu.RLock()
	done := p.dataAccount != ""
	p.mu.RUnlock()
	if done {
		return nil
	}

	d, err := p.store.GetProgramDataAccount(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrUninitialized
	}
	if err != nil {
		return fmt.Errorf("get data account: %w", err)
	}
	if p.expected != "" && d.Address != p.expected {
		return fmt.Errorf("%w: store holds %s, configured %s", ErrDataAccountMismatch, d.Address, p.expected)
	}

	p.mu.Lock()
	if p.dataAccount == "" {
		p.dataAccount = d.Address
	}
	p.mu.Unlock()
	return nil
}

// CreateTokenMint creates a mint with its metadata.
func (p *Program) CreateTokenMint(ctx context.Context, signers auth.Verifier, req minting.CreateMintRequest) (*domain.Receipt, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return nil, err
	}
	return p.mints.CreateMint(ctx, signers, req)
}

// Mint increases supply into a token account.
func (p *Program) Mint(ctx context.Context, signers auth.Verifier, req ledger.MintToRequest) (*domain.Receipt, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return nil, err
	}
	return p.ledger.MintTo(ctx, signers, req)
}

// Transfer moves tokens between two accounts of the same mint.
func (p *Program) Transfer(ctx context.Context, signers auth.Verifier, req ledger.TransferRequest) (*domain.Receipt, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return nil, err
	}
	return p.ledger.Transfer(ctx, signers, req)
}

// GetOrCreateAssociatedTokenAccount returns owner's token account for mint,
// creating it on first use.
func (p *Program) GetOrCreateAssociatedTokenAccount(ctx context.Context, signers auth.Verifier, payer, mint, owner string) (*domain.TokenAccount, bool, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return nil, false, err
	}
	return p.ledger.GetOrCreateAccount(ctx, signers, payer, owner, mint)
}

// BalanceOf returns an account's balance.
func (p *Program) BalanceOf(ctx context.Context, account string) (uint64, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return 0, err
	}
	return p.query.BalanceOf(ctx, account)
}

// Account returns a token account.
func (p *Program) Account(ctx context.Context, account string) (*domain.TokenAccount, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return nil, err
	}
	return p.query.Account(ctx, account)
}

// MintInfo returns a mint and its metadata.
func (p *Program) MintInfo(ctx context.Context, mint string) (*query.MintInfo, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return nil, err
	}
	return p.query.MintInfo(ctx, mint)
}

// History returns journaled events touching account.
func (p *Program) History(ctx context.Context, account string) ([]*domain.LedgerEvent, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return nil, err
	}
	return p.query.History(ctx, account)
}

// MintHistory returns journaled events of a mint.
func (p *Program) MintHistory(ctx context.Context, mint string) ([]*domain.LedgerEvent, error) {
	if err := p.checkInitialized(ctx); err != nil {
		return nil, err
	}
	return p.query.MintHistory(ctx, mint)
}
