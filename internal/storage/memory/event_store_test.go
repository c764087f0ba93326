package memory

import (
	"context"
	"errors"
	"testing"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/storage"
)

func TestEventStore_AppendAndGetBySignature(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	e := &domain.LedgerEvent{
		Signature:   "sig1",
		Kind:        domain.EventKindMintTo,
		Slot:        7,
		MintID:      "mint1",
		Destination: "acct1",
		Amount:      150,
		SupplyAfter: 150,
	}

	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.GetBySignature(ctx, "sig1")
	if err != nil {
		t.Fatalf("GetBySignature failed: %v", err)
	}
	if got.Amount != 150 || got.Destination != "acct1" {
		t.Errorf("unexpected event: %+v", got)
	}

	// Modify original; store must hold a copy
	e.Amount = 1
	got, _ = store.GetBySignature(ctx, "sig1")
	if got.Amount != 150 {
		t.Error("Store should return copy, not reference")
	}
}

func TestEventStore_Duplicate(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	e := &domain.LedgerEvent{Signature: "sig1", Kind: domain.EventKindTransfer}
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("First append failed: %v", err)
	}

	err := store.Append(ctx, e)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestEventStore_InvalidInput(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if err := store.Append(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Append(ctx, &domain.LedgerEvent{Kind: domain.EventKindTransfer}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty signature, got %v", err)
	}
	if err := store.Append(ctx, &domain.LedgerEvent{Signature: "s", Kind: "BURN"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for unknown kind, got %v", err)
	}
}

func TestEventStore_GetByAccountOrdered(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	events := []*domain.LedgerEvent{
		{Signature: "s3", Kind: domain.EventKindTransfer, Slot: 3, MintID: "m", Source: "a", Destination: "b"},
		{Signature: "s1", Kind: domain.EventKindMintTo, Slot: 1, MintID: "m", Destination: "a"},
		{Signature: "s2", Kind: domain.EventKindMintTo, Slot: 2, MintID: "m", Destination: "c"},
	}
	for _, e := range events {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.GetByAccount(ctx, "a")
	if err != nil {
		t.Fatalf("GetByAccount failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].Signature != "s1" || got[1].Signature != "s3" {
		t.Errorf("Expected slot order s1, s3; got %s, %s", got[0].Signature, got[1].Signature)
	}

	byMint, err := store.GetByMint(ctx, "m")
	if err != nil {
		t.Fatalf("GetByMint failed: %v", err)
	}
	if len(byMint) != 3 {
		t.Errorf("Expected 3 events for mint, got %d", len(byMint))
	}
}

func TestEventStore_NotFound(t *testing.T) {
	store := NewEventStore()

	_, err := store.GetBySignature(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
