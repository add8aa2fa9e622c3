// Package assembler implements the block-assembly algorithm BlockAssembler
// runs on every accepting-tx tick: sort and pad a batch of requests, build
// its tx tree, and hand back one inclusion proposal per original request.
package assembler

import (
	"errors"
	"sort"
	"time"

	"github.com/empower1/block-builder/internal/model"
	"github.com/empower1/block-builder/internal/poseidon"
	"github.com/empower1/block-builder/internal/txtree"
)

var ErrEmptyBatch = errors.New("assembler: cannot assemble an empty batch")
var ErrTooManyRequests = errors.New("assembler: batch exceeds NumSendersInBlock")

// Window carries the timing inputs Assemble needs to compute expiry, which
// is normalized to now + proposing_block_interval + tx_timeout at
// proposal time.
type Window struct {
	ProposingBlockInterval time.Duration
	TxTimeout              time.Duration
}

func (w Window) expiry(now time.Time) uint64 {
	return uint64(now.Add(w.ProposingBlockInterval).Add(w.TxTimeout).Unix())
}

// Assemble builds a ProposalMemo from an original, FIFO-ordered batch of
// requests. Every real request must carry a distinct pubkey; callers
// (Storage.AddTx) are responsible for rejecting a second concurrent
// request from a pubkey already queued, so ties never occur here.
func Assemble(isRegistrationBlock bool, original []model.TxRequest, w Window, now time.Time) (*model.ProposalMemo, error) {
	if len(original) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(original) > model.NumSendersInBlock {
		return nil, ErrTooManyRequests
	}

	sorted := make([]model.TxRequest, len(original))
	copy(sorted, original)
	for len(sorted) < model.NumSendersInBlock {
		sorted = append(sorted, model.DummyTxRequest())
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[j].PubKey.Less(sorted[i].PubKey) })

	pubkeys := make([]model.PubKey, len(sorted))
	txs := make([]model.Tx, len(sorted))
	for i, r := range sorted {
		pubkeys[i] = r.PubKey
		txs[i] = r.Tx
	}
	pubkeyHash := poseidon.HashPubKeys(toRawPubKeys(pubkeys))

	tree, err := txtree.New(txs)
	if err != nil {
		return nil, err
	}
	root := tree.Root()
	expiry := w.expiry(now)

	proposals := make([]model.BlockProposal, len(original))
	for i, r := range original {
		idx := indexOf(sorted, r)
		proof, err := tree.Prove(uint32(idx))
		if err != nil {
			return nil, err
		}
		proposals[i] = model.BlockProposal{
			TxTreeRoot:  root,
			Expiry:      expiry,
			TxIndex:     uint32(idx),
			MerkleProof: proof,
			PubKeys:     pubkeys,
			PubKeyHash:  pubkeyHash,
		}
	}

	return &model.ProposalMemo{
		IsRegistrationBlock: isRegistrationBlock,
		Expiry:              expiry,
		PubKeys:              pubkeys,
		PubKeyHash:           pubkeyHash,
		TxTreeRoot:           root,
		TxRequests:           append([]model.TxRequest(nil), original...),
		Proposals:            proposals,
	}, nil
}

// AssembleEmpty builds a ProposalMemo over an all-dummy sender list, for
// the synthetic blocks the deposit watchdog enqueues to advance the chain
// when no sender has anything pending.
func AssembleEmpty(isRegistrationBlock bool, w Window, now time.Time) (*model.ProposalMemo, error) {
	dummies := make([]model.TxRequest, model.NumSendersInBlock)
	for i := range dummies {
		dummies[i] = model.DummyTxRequest()
	}

	pubkeys := make([]model.PubKey, len(dummies))
	txs := make([]model.Tx, len(dummies))
	for i, r := range dummies {
		pubkeys[i] = r.PubKey
		txs[i] = r.Tx
	}
	pubkeyHash := poseidon.HashPubKeys(toRawPubKeys(pubkeys))

	tree, err := txtree.New(txs)
	if err != nil {
		return nil, err
	}

	return &model.ProposalMemo{
		IsRegistrationBlock: isRegistrationBlock,
		Expiry:              w.expiry(now),
		PubKeys:             pubkeys,
		PubKeyHash:          pubkeyHash,
		TxTreeRoot:          tree.Root(),
		TxRequests:          nil,
		Proposals:           nil,
	}, nil
}

func indexOf(sorted []model.TxRequest, target model.TxRequest) int {
	for i, r := range sorted {
		if r.PubKey == target.PubKey && r.Tx == target.Tx {
			return i
		}
	}
	return -1
}

func toRawPubKeys(pks []model.PubKey) [][32]byte {
	out := make([][32]byte, len(pks))
	for i, pk := range pks {
		out[i] = pk
	}
	return out
}
