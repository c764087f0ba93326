package domain

// MaxDecimals is the largest precision accepted for a new mint.
const MaxDecimals = 18

// Mint describes one fungible asset type and its issued supply.
// Corresponds to the mints table in PostgreSQL.
type Mint struct {
	MintID          string  // mint address (base58)
	Decimals        uint8   // fixed at creation
	MintAuthority   *string // nil: supply is permanently fixed
	FreezeAuthority *string // recorded, not enforced
	Supply          uint64  // total issued supply in base units
	MetadataAddress string  // derived metadata account address
	CreatedSlot     uint64  // slot of the creating transaction
}

// HasMintAuthority reports whether authority is allowed to increase supply.
func (m *Mint) HasMintAuthority(authority string) bool {
	return m.MintAuthority != nil && *m.MintAuthority == authority
}

// Clone returns a deep copy of the mint.
func (m *Mint) Clone() *Mint {
	cp := *m
	if m.MintAuthority != nil {
		v := *m.MintAuthority
		cp.MintAuthority = &v
	}
	if m.FreezeAuthority != nil {
		v := *m.FreezeAuthority
		cp.FreezeAuthority = &v
	}
	return &cp
}
