package idhash

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"solana-token-ledger/internal/domain"
)

// ComputeTxSignature computes a deterministic transaction signature using SHA256.
// Formula: SHA256(kind|slot|field_1|...|field_n)
// Returns base58-encoded hash.
//
// Slots are unique per committed transaction, so signatures never collide
// between two committed operations.
func ComputeTxSignature(kind domain.EventKind, slot uint64, fields ...string) string {
	data := fmt.Sprintf("%s|%d|%s",
		string(kind),
		slot,
		strings.Join(fields, "|"),
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
