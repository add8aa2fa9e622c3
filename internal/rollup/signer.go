package rollup

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signer authorizes the on-chain calls a builder makes with its registered
// address. The real rollup deployment is an EVM chain, so signatures are
// secp256k1 ECDSA over the keccak-equivalent digest of the call.
type Signer struct {
	priv *secp256k1.PrivateKey
}

// NewSigner wraps a raw 32-byte private key.
func NewSigner(privBytes [32]byte) *Signer {
	return &Signer{priv: secp256k1.PrivKeyFromBytes(privBytes[:])}
}

// Address returns the hash of the signer's compressed public key, standing
// in for this module's on-chain builder address.
func (s *Signer) Address() [32]byte {
	pub := s.priv.PubKey().SerializeCompressed()
	return sha256.Sum256(pub)
}

// Sign returns a DER-encoded ECDSA signature over digest.
func (s *Signer) Sign(digest [32]byte) []byte {
	sig := ecdsa.Sign(s.priv, digest[:])
	return sig.Serialize()
}
