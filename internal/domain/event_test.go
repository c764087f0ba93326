package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventKind_IsValid(t *testing.T) {
	for _, k := range []EventKind{
		EventKindInitialize, EventKindCreateMint, EventKindCreateAccount, EventKindMintTo, EventKindTransfer,
	} {
		assert.True(t, k.IsValid(), k.String())
	}
	assert.False(t, EventKind("BURN").IsValid())
	assert.False(t, EventKind("").IsValid())
}

func TestLedgerEvent_Touches(t *testing.T) {
	e := &LedgerEvent{MintID: "mint", Source: "src", Destination: "dst", Authority: "auth"}

	assert.True(t, e.Touches("mint"))
	assert.True(t, e.Touches("src"))
	assert.True(t, e.Touches("dst"))
	assert.False(t, e.Touches("auth"), "authority alone is not an account change")
	assert.False(t, e.Touches(""))

	initEvent := &LedgerEvent{Kind: EventKindInitialize}
	assert.False(t, initEvent.Touches(""))
}

func TestNotFoundErrors(t *testing.T) {
	assert.True(t, errors.Is(ErrMintNotFound, ErrNotFound))
	assert.True(t, errors.Is(ErrAccountNotFound, ErrNotFound))
	assert.False(t, errors.Is(ErrMintNotFound, ErrAccountNotFound))
}
