// Package payload implements the wallet-facing signed payload type and its
// ed25519 verification.
package payload

import "crypto/ed25519"

// Signed is a payload as submitted by a wallet: the opaque UTF-8 payload
// string plus the ed25519 signature and public key that authenticate it.
type Signed struct {
	Payload   string `json:"payload"`
	Signature []byte `json:"signature"`  // 64 bytes
	PublicKey []byte `json:"public_key"` // 32 bytes
}

// Verify reports whether signature is a valid ed25519 signature over
// payload under publicKey. It fails closed: any malformed key or signature
// (wrong length, or a cryptographic mismatch) returns false rather than
// panicking or erroring, since ed25519.Verify itself only accepts
// fixed-size keys/signatures.
func Verify(publicKey, payload, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature)
}

// Verify reports whether the signed payload's signature is valid.
func (s Signed) Verify() bool {
	return Verify(s.PublicKey, []byte(s.Payload), s.Signature)
}
