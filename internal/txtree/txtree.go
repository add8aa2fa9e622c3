// Package txtree builds the fixed-height Merkle tree of per-sender tx
// commitments that every block post carries as tx_tree_root, and produces
// the per-sender inclusion proofs returned in BlockProposals.
//
// The tree is a plain stdlib crypto/sha256 construction: domain-separated
// leaf and node hashes over an explicit per-level slice, kept around so
// Prove(i) can answer with an indexed sibling path.
package txtree

import (
	"crypto/sha256"
	"fmt"

	"github.com/empower1/block-builder/internal/model"
)

// Height is the height of every tx tree the block builder constructs.
const Height = model.TxTreeHeight

// NumLeaves is the fixed leaf count, 2^Height.
const NumLeaves = model.NumSendersInBlock

// Tree is a complete binary Merkle tree over exactly NumLeaves tx
// commitments.
type Tree struct {
	levels [][][]byte // levels[0] = leaves, levels[len-1] = [root]
	root   model.Digest32
}

// New builds the tree over txs, which must have exactly NumLeaves entries
// (the caller pads with model.DummyTxRequest().Tx beforehand).
func New(txs []model.Tx) (*Tree, error) {
	if len(txs) != NumLeaves {
		return nil, fmt.Errorf("txtree: expected %d leaves, got %d", NumLeaves, len(txs))
	}

	leaves := make([][]byte, NumLeaves)
	for i, tx := range txs {
		leaves[i] = leafHash(tx)
	}

	levels := buildLevels(leaves)
	var root model.Digest32
	copy(root[:], levels[len(levels)-1][0])

	return &Tree{levels: levels, root: root}, nil
}

func buildLevels(leaves [][]byte) [][][]byte {
	levels := make([][][]byte, 0, Height+1)
	levels = append(levels, leaves)
	cur := leaves
	for len(cur) > 1 {
		next := make([][]byte, len(cur)/2)
		for i := range next {
			next[i] = nodeHash(cur[2*i], cur[2*i+1])
		}
		levels = append(levels, next)
		cur = next
	}
	return levels
}

// Root returns the tree's root digest.
func (t *Tree) Root() model.Digest32 { return t.root }

// Prove returns the sibling path for leaf index i, bottom-up.
func (t *Tree) Prove(i uint32) ([][]byte, error) {
	if i >= NumLeaves {
		return nil, fmt.Errorf("txtree: index %d out of range", i)
	}
	proof := make([][]byte, 0, Height)
	idx := int(i)
	for level := 0; level < Height; level++ {
		siblingIdx := idx ^ 1
		proof = append(proof, t.levels[level][siblingIdx])
		idx /= 2
	}
	return proof, nil
}

// Verify checks that leaf, combined with proof along index i, reproduces
// root.
func Verify(root model.Digest32, leaf model.Tx, index uint32, proof [][]byte) bool {
	if len(proof) != Height {
		return false
	}
	h := leafHash(leaf)
	idx := index
	for _, sibling := range proof {
		if idx&1 == 0 {
			h = nodeHash(h, sibling)
		} else {
			h = nodeHash(sibling, h)
		}
		idx /= 2
	}
	var got model.Digest32
	copy(got[:], h)
	return got == root
}

func leafHash(tx model.Tx) []byte {
	h := sha256.New()
	h.Write([]byte("txtree-leaf"))
	h.Write(tx.TransferTreeRoot[:])
	var nonceBuf [8]byte
	putUint64(nonceBuf[:], tx.Nonce)
	h.Write(nonceBuf[:])
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte("txtree-node"))
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
