// Package auth supplies the authenticated signer identities that ledger
// operations check authority against.
package auth

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Verifier reports whether an identity signed the current request.
type Verifier interface {
	VerifySigner(identity string) bool
}

// Signers is a fixed set of identities trusted as signers.
// Intended for in-process callers that authenticate by other means.
type Signers map[string]struct{}

// NewSigners builds a Signers set.
func NewSigners(identities ...string) Signers {
	s := make(Signers, len(identities))
	for _, id := range identities {
		s[id] = struct{}{}
	}
	return s
}

// VerifySigner implements Verifier.
func (s Signers) VerifySigner(identity string) bool {
	_, ok := s[identity]
	return ok
}

// SignedBy pairs a claimed signer with its base58 ed25519 signature.
type SignedBy struct {
	PubKey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// SignatureSet holds the identities whose signatures over a message verified.
type SignatureSet struct {
	verified Signers
}

// NewSignatureSet verifies every signature against message. A malformed
// entry is an error; a well-formed but wrong signature is not, the key is
// simply not treated as a signer.
func NewSignatureSet(message []byte, sigs []SignedBy) (*SignatureSet, error) {
	set := &SignatureSet{verified: make(Signers, len(sigs))}

	for _, s := range sigs {
		pub, err := solana.PublicKeyFromBase58(s.PubKey)
		if err != nil {
			return nil, fmt.Errorf("parse signer pubkey %q: %w", s.PubKey, err)
		}
		sig, err := solana.SignatureFromBase58(s.Signature)
		if err != nil {
			return nil, fmt.Errorf("parse signature for %s: %w", s.PubKey, err)
		}
		if sig.Verify(pub, message) {
			set.verified[pub.String()] = struct{}{}
		}
	}

	return set, nil
}

// VerifySigner implements Verifier.
func (s *SignatureSet) VerifySigner(identity string) bool {
	return s.verified.VerifySigner(identity)
}

// Len returns the number of verified signers.
func (s *SignatureSet) Len() int {
	return len(s.verified)
}

// Sign produces a SignedBy entry for message. Used by clients and tests.
func Sign(key solana.PrivateKey, message []byte) (SignedBy, error) {
	sig, err := key.Sign(message)
	if err != nil {
		return SignedBy{}, fmt.Errorf("sign message: %w", err)
	}
	return SignedBy{
		PubKey:    key.PublicKey().String(),
		Signature: sig.String(),
	}, nil
}

var (
	_ Verifier = Signers(nil)
	_ Verifier = (*SignatureSet)(nil)
)
