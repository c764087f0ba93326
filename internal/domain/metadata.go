package domain

import "fmt"

// Metaplex-compatible size limits for metadata fields, in bytes.
const (
	MaxNameLength   = 32
	MaxSymbolLength = 10
	MaxURILength    = 200
)

// TokenMetadata is the descriptive record attached to a mint.
// It is written once, at the address derived from the mint.
// Corresponds to token_metadata table in PostgreSQL.
type TokenMetadata struct {
	Address         string // derived metadata address (PK)
	MintID          string // mint this metadata describes (unique)
	UpdateAuthority string
	Name            string
	Symbol          string
	URI             string
	CreatedSlot     uint64
}

// Clone returns a copy of the metadata.
func (m *TokenMetadata) Clone() *TokenMetadata {
	cp := *m
	return &cp
}

// ValidateMetadata checks the descriptive fields against the size limits.
// Name and symbol are required; uri may be empty.
func ValidateMetadata(name, symbol, uri string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidMetadata)
	case symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidMetadata)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name is %d bytes, max %d", ErrInvalidMetadata, len(name), MaxNameLength)
	case len(symbol) > MaxSymbolLength:
		return fmt.Errorf("%w: symbol is %d bytes, max %d", ErrInvalidMetadata, len(symbol), MaxSymbolLength)
	case len(uri) > MaxURILength:
		return fmt.Errorf("%w: uri is %d bytes, max %d", ErrInvalidMetadata, len(uri), MaxURILength)
	}
	return nil
}
