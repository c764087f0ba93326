package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// DataAccountKey is the lock key guarding the program's single data account.
const DataAccountKey = "program:data_account"

// NonceKey returns the lock and record key for a client nonce. The same
// nonce may be reused across scopes and signers.
func NonceKey(scope, signer, nonce string) string {
	h := sha256.New()
	for _, part := range []string{scope, signer, nonce} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "nonce:" + hex.EncodeToString(h.Sum(nil))
}
