// Package pda derives Solana program addresses for mint metadata and
// associated token accounts.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"solana-token-ledger/internal/domain"
)

// Well-known program IDs.
const (
	MetadataProgramID        = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

const (
	addressLength = 32
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

// ErrNoViableBump is returned when every bump seed yields an on-curve point.
var ErrNoViableBump = errors.New("no viable bump seed for program address")

// Deriver computes deterministic addresses from other addresses.
type Deriver interface {
	// MetadataAddress returns the metadata account address for a mint.
	MetadataAddress(mint string) (string, error)

	// AssociatedTokenAddress returns the token account address for (owner, mint).
	AssociatedTokenAddress(owner, mint string) (string, error)
}

// SolanaDeriver derives addresses the way the Metaplex and associated token
// programs do on chain.
type SolanaDeriver struct{}

var _ Deriver = SolanaDeriver{}

// MetadataAddress derives the Metaplex metadata PDA.
// Seeds: ["metadata", metaplex_program_id, mint]
func (SolanaDeriver) MetadataAddress(mint string) (string, error) {
	mintBytes, err := DecodeAddress(mint)
	if err != nil {
		return "", err
	}
	programBytes := mustDecode(MetadataProgramID)

	addr, _, err := FindProgramAddress([][]byte{
		[]byte("metadata"),
		programBytes,
		mintBytes,
	}, programBytes)
	return addr, err
}

// AssociatedTokenAddress derives the associated token account PDA.
// Seeds: [owner, token_program_id, mint]
func (SolanaDeriver) AssociatedTokenAddress(owner, mint string) (string, error) {
	ownerBytes, err := DecodeAddress(owner)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	mintBytes, err := DecodeAddress(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}

	addr, _, err := FindProgramAddress([][]byte{
		ownerBytes,
		mustDecode(TokenProgramID),
		mintBytes,
	}, mustDecode(AssociatedTokenProgramID))
	return addr, err
}

// FindProgramAddress searches bump seeds from 255 downwards and returns the
// first derived address that is off the ed25519 curve, with its bump.
func FindProgramAddress(seeds [][]byte, programID []byte) (string, uint8, error) {
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return "", 0, fmt.Errorf("seed length %d exceeds %d", len(seed), maxSeedLength)
		}
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte(pdaMarker)...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), bump, nil
		}
	}

	return "", 0, ErrNoViableBump
}

// DecodeAddress decodes a base58 address and checks its length.
func DecodeAddress(addr string) ([]byte, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty", domain.ErrInvalidAddress)
	}
	b, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidAddress, addr, err)
	}
	if len(b) != addressLength {
		return nil, fmt.Errorf("%w: %q decodes to %d bytes", domain.ErrInvalidAddress, addr, len(b))
	}
	return b, nil
}

// ValidateAddress reports whether addr is a well-formed 32-byte base58 address.
func ValidateAddress(addr string) error {
	_, err := DecodeAddress(addr)
	return err
}

func isOnCurve(point []byte) bool {
	if len(point) != addressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

func mustDecode(addr string) []byte {
	b, err := base58.Decode(addr)
	if err != nil {
		panic(fmt.Sprintf("pda: bad program id %s: %v", addr, err))
	}
	return b
}
