// Package bls wraps supranational/blst to provide the signing, aggregate
// verification, and hash-to-curve primitives the signature collector and
// block poster need. Callers never touch blst types directly.
package bls

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// dst is the domain separation tag for every signature this service
// produces or verifies.
var dst = []byte("BLOCK_BUILDER_BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

var (
	ErrInvalidPublicKey = errors.New("bls: invalid public key encoding")
	ErrInvalidSignature = errors.New("bls: invalid signature encoding")
	ErrEmptyAggregate   = errors.New("bls: cannot aggregate zero signatures")
)

type SecretKey struct {
	sk *blst.SecretKey
}

// KeyGen derives a secret key from a 32+ byte seed (IKM).
func KeyGen(ikm []byte) (*SecretKey, error) {
	if len(ikm) < 32 {
		return nil, errors.New("bls: ikm must be at least 32 bytes")
	}
	sk := blst.KeyGen(ikm)
	return &SecretKey{sk: sk}, nil
}

// Public returns the compressed G1 public key for sk.
func (sk *SecretKey) Public() [48]byte {
	pk := new(blst.P1Affine).From(sk.sk)
	var out [48]byte
	copy(out[:], pk.Compress())
	return out
}

// Sign returns a compressed G2 signature over msg.
func (sk *SecretKey) Sign(msg []byte) [96]byte {
	sig := new(blst.P2Affine).Sign(sk.sk, msg, dst)
	var out [96]byte
	copy(out[:], sig.Compress())
	return out
}

// HashToMessagePoint returns the compressed G2 point msg hashes to under
// this package's DST; this is the "message point" included alongside the
// aggregate signature in an on-chain post.
func HashToMessagePoint(msg []byte) [96]byte {
	p := new(blst.P2Affine).HashToG2(msg, dst, nil, nil)
	var out [96]byte
	copy(out[:], p.Compress())
	return out
}

// Verify checks a single signature against a single public key.
func Verify(pubKey [48]byte, msg []byte, sig [96]byte) (bool, error) {
	pk := new(blst.P1Affine).Uncompress(pubKey[:])
	if pk == nil {
		return false, ErrInvalidPublicKey
	}
	s := new(blst.P2Affine).Uncompress(sig[:])
	if s == nil {
		return false, ErrInvalidSignature
	}
	return s.Verify(true, pk, true, msg, dst), nil
}

// AggregateSignatures combines per-sender signatures into a single G2
// aggregate, in the order given.
func AggregateSignatures(sigs [][96]byte) ([96]byte, error) {
	if len(sigs) == 0 {
		return [96]byte{}, ErrEmptyAggregate
	}
	affines := make([]*blst.P2Affine, 0, len(sigs))
	for _, s := range sigs {
		a := new(blst.P2Affine).Uncompress(s[:])
		if a == nil {
			return [96]byte{}, ErrInvalidSignature
		}
		affines = append(affines, a)
	}
	var agg blst.P2Aggregate
	if !agg.Aggregate(affines, true) {
		return [96]byte{}, errors.New("bls: signature aggregation failed group check")
	}
	out := agg.ToAffine().Compress()
	var res [96]byte
	copy(res[:], out)
	return res, nil
}

// AggregatePublicKeys combines per-sender public keys into a single G1
// aggregate, in the order given. Unsigned/dummy slots are excluded by the
// caller before this is invoked.
func AggregatePublicKeys(pubKeys [][48]byte) ([48]byte, error) {
	if len(pubKeys) == 0 {
		return [48]byte{}, ErrEmptyAggregate
	}
	affines := make([]*blst.P1Affine, 0, len(pubKeys))
	for _, pk := range pubKeys {
		a := new(blst.P1Affine).Uncompress(pk[:])
		if a == nil {
			return [48]byte{}, ErrInvalidPublicKey
		}
		affines = append(affines, a)
	}
	var agg blst.P1Aggregate
	if !agg.Aggregate(affines, true) {
		return [48]byte{}, errors.New("bls: public key aggregation failed group check")
	}
	out := agg.ToAffine().Compress()
	var res [48]byte
	copy(res[:], out)
	return res, nil
}
