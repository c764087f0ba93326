package minting

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-ledger/internal/auth"
	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/journal"
	"solana-token-ledger/internal/pda"
	"solana-token-ledger/internal/storage"
	"solana-token-ledger/internal/storage/memory"
)

func newAddress() string {
	return solana.NewWallet().PublicKey().String()
}

func validRequest(t *testing.T) CreateMintRequest {
	t.Helper()
	payer := newAddress()
	mint := newAddress()
	meta, err := pda.SolanaDeriver{}.MetadataAddress(mint)
	require.NoError(t, err)

	return CreateMintRequest{
		Payer:           payer,
		Mint:            mint,
		FreezeAuthority: &payer,
		MintAuthority:   &payer,
		MetadataAddress: meta,
		Decimals:        9,
		Name:            "Solana Gold",
		Symbol:          "GOLDSOL",
		URI:             "https://example.com/token.json",
	}
}

func TestManager_CreateMint(t *testing.T) {
	store := memory.NewAccountStore()
	events := memory.NewEventStore()
	m := NewManager(store, WithRecorder(journal.NewRecorder(events, nil)))
	ctx := context.Background()

	req := validRequest(t)
	receipt, err := m.CreateMint(ctx, auth.NewSigners(req.Payer), req)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.Signature)

	mint, err := store.GetMint(ctx, req.Mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), mint.Supply)
	assert.Equal(t, uint8(9), mint.Decimals)
	assert.True(t, mint.HasMintAuthority(req.Payer))
	assert.Equal(t, req.MetadataAddress, mint.MetadataAddress)
	assert.Equal(t, receipt.Slot, mint.CreatedSlot)

	md, err := store.GetMetadata(ctx, req.MetadataAddress)
	require.NoError(t, err)
	assert.Equal(t, req.Mint, md.MintID)
	assert.Equal(t, "Solana Gold", md.Name)
	assert.Equal(t, "GOLDSOL", md.Symbol)
	assert.Equal(t, req.URI, md.URI)
	assert.Equal(t, req.Payer, md.UpdateAuthority)

	e, err := events.GetBySignature(ctx, receipt.Signature)
	require.NoError(t, err)
	assert.Equal(t, domain.EventKindCreateMint, e.Kind)
	assert.Equal(t, req.Mint, e.MintID)
}

func TestManager_CreateMint_Twice(t *testing.T) {
	store := memory.NewAccountStore()
	m := NewManager(store)
	ctx := context.Background()

	req := validRequest(t)
	signers := auth.NewSigners(req.Payer)
	_, err := m.CreateMint(ctx, signers, req)
	require.NoError(t, err)

	req.Name = "Other"
	_, err = m.CreateMint(ctx, signers, req)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	md, err := store.GetMetadata(ctx, req.MetadataAddress)
	require.NoError(t, err)
	assert.Equal(t, "Solana Gold", md.Name, "metadata attached exactly once")
}

func TestManager_CreateMint_ConcurrentSameMint(t *testing.T) {
	store := memory.NewAccountStore()
	m := NewManager(store)
	ctx := context.Background()

	req := validRequest(t)
	signers := auth.NewSigners(req.Payer)

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateMint(ctx, signers, req)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestManager_CreateMint_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *CreateMintRequest)
		wantErr error
	}{
		{"decimals too large", func(r *CreateMintRequest) { r.Decimals = 19 }, domain.ErrInvalidDecimals},
		{"empty name", func(r *CreateMintRequest) { r.Name = "" }, domain.ErrInvalidMetadata},
		{"empty symbol", func(r *CreateMintRequest) { r.Symbol = "" }, domain.ErrInvalidMetadata},
		{"long name", func(r *CreateMintRequest) { r.Name = strings.Repeat("n", domain.MaxNameLength+1) }, domain.ErrInvalidMetadata},
		{"long symbol", func(r *CreateMintRequest) { r.Symbol = strings.Repeat("s", domain.MaxSymbolLength+1) }, domain.ErrInvalidMetadata},
		{"long uri", func(r *CreateMintRequest) { r.URI = strings.Repeat("u", domain.MaxURILength+1) }, domain.ErrInvalidMetadata},
		{"wrong metadata address", func(r *CreateMintRequest) { r.MetadataAddress = newAddress() }, domain.ErrInvalidMetadata},
		{"bad mint", func(r *CreateMintRequest) { r.Mint = "not-base58!" }, domain.ErrInvalidAddress},
		{"bad authority", func(r *CreateMintRequest) { bad := "short"; r.MintAuthority = &bad }, domain.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewAccountStore()
			m := NewManager(store)
			req := validRequest(t)
			tt.mutate(&req)

			_, err := m.CreateMint(context.Background(), auth.NewSigners(req.Payer), req)
			assert.ErrorIs(t, err, tt.wantErr)

			if req.Mint != "not-base58!" {
				_, err = store.GetMint(context.Background(), req.Mint)
				assert.ErrorIs(t, err, storage.ErrNotFound, "nothing written")
			}
		})
	}
}

func TestManager_CreateMint_BoundaryValues(t *testing.T) {
	m := NewManager(memory.NewAccountStore())

	req := validRequest(t)
	req.Decimals = domain.MaxDecimals
	req.Name = strings.Repeat("n", domain.MaxNameLength)
	req.Symbol = strings.Repeat("s", domain.MaxSymbolLength)
	req.URI = ""
	_, err := m.CreateMint(context.Background(), auth.NewSigners(req.Payer), req)
	assert.NoError(t, err)
}

func TestManager_CreateMint_PayerMustSign(t *testing.T) {
	store := memory.NewAccountStore()
	m := NewManager(store)
	req := validRequest(t)

	_, err := m.CreateMint(context.Background(), auth.NewSigners(newAddress()), req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = m.CreateMint(context.Background(), nil, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = store.GetMint(context.Background(), req.Mint)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_CreateMint_NoMintAuthority(t *testing.T) {
	store := memory.NewAccountStore()
	m := NewManager(store)
	req := validRequest(t)
	req.MintAuthority = nil
	req.FreezeAuthority = nil

	_, err := m.CreateMint(context.Background(), auth.NewSigners(req.Payer), req)
	require.NoError(t, err)

	mint, err := store.GetMint(context.Background(), req.Mint)
	require.NoError(t, err)
	assert.Nil(t, mint.MintAuthority)
	assert.False(t, mint.HasMintAuthority(req.Payer))

	md, err := store.GetMetadata(context.Background(), req.MetadataAddress)
	require.NoError(t, err)
	assert.Equal(t, req.Payer, md.UpdateAuthority)
}

// fixedDeriver maps every mint to one metadata address.
type fixedDeriver struct {
	pda.SolanaDeriver
	address string
}

func (d fixedDeriver) MetadataAddress(string) (string, error) {
	return d.address, nil
}

func TestManager_CreateMint_PluggableDeriver(t *testing.T) {
	meta := newAddress()
	m := NewManager(memory.NewAccountStore(), WithDeriver(fixedDeriver{address: meta}))

	req := validRequest(t)
	req.MetadataAddress = meta
	_, err := m.CreateMint(context.Background(), auth.NewSigners(req.Payer), req)
	assert.NoError(t, err)
}
