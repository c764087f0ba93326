package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMint_HasMintAuthority(t *testing.T) {
	auth := "Auth1111111111111111111111111111111111111111"

	m := &Mint{MintAuthority: &auth}
	assert.True(t, m.HasMintAuthority(auth))
	assert.False(t, m.HasMintAuthority("someone-else"))

	fixed := &Mint{}
	assert.False(t, fixed.HasMintAuthority(auth))
	assert.False(t, fixed.HasMintAuthority(""))
}

func TestMint_CloneIsDeep(t *testing.T) {
	mintAuth, freezeAuth := "mint-auth", "freeze-auth"
	m := &Mint{MintID: "m", Supply: 10, MintAuthority: &mintAuth, FreezeAuthority: &freezeAuth}

	cp := m.Clone()
	*cp.MintAuthority = "changed"
	*cp.FreezeAuthority = "changed"
	cp.Supply = 20

	assert.Equal(t, "mint-auth", *m.MintAuthority)
	assert.Equal(t, "freeze-auth", *m.FreezeAuthority)
	assert.Equal(t, uint64(10), m.Supply)

	assert.Nil(t, (&Mint{}).Clone().MintAuthority)
}
