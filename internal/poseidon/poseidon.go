// Package poseidon wraps gnark-crypto's BN254 Poseidon2 permutation to
// produce the domain-separated digests the block builder needs for
// pubkey_hash and account_id_hash.
package poseidon

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// domain separation tags, versioned the same way protocolVersion is
// elsewhere in this codebase.
const (
	dstPubKeyHash    = "block-builder/pubkey-hash/v1"
	dstAccountIDHash = "block-builder/account-id-hash/v1"
)

// HashPubKeys returns a domain-separated Poseidon digest over a sorted,
// padded pubkey list.
func HashPubKeys(pubkeys [][32]byte) [32]byte {
	elems := make([]fr.Element, 0, len(pubkeys)+1)
	elems = append(elems, stringToElement(dstPubKeyHash))
	for _, pk := range pubkeys {
		elems = append(elems, bytesToElement(pk[:]))
	}
	return hashElements(elems)
}

// HashAccountIDs returns the account_id_hash used in the canonical signing
// message for non-registration blocks.
func HashAccountIDs(packed []byte) [32]byte {
	elems := []fr.Element{
		stringToElement(dstAccountIDHash),
		bytesToElement(packed),
	}
	return hashElements(elems)
}

func hashElements(elems []fr.Element) [32]byte {
	h := poseidon2.NewPermutation(len(elems)+1, 8, 56)
	state := make([]fr.Element, len(elems)+1)
	copy(state[1:], elems)
	if err := h.Permutation(state); err != nil {
		// The permutation only fails on a state-size mismatch, which can't
		// happen here since we size state from the permutation's own width.
		panic(err)
	}
	var out [32]byte
	b := state[0].Bytes()
	copy(out[:], b[:])
	return out
}

func bytesToElement(b []byte) fr.Element {
	var e fr.Element
	e.SetBytes(b)
	return e
}

func stringToElement(s string) fr.Element {
	return bytesToElement([]byte(s))
}
