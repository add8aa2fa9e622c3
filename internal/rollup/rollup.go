// Package rollup speaks to the on-chain rollup contract and block-builder
// registry: posting assembled blocks, reading penalties and nonces, and
// announcing liveness. It is the one place secp256k1 call-signing happens.
package rollup

import (
	"context"
	"errors"

	"github.com/empower1/block-builder/internal/model"
)

var ErrNotImplemented = errors.New("rollup: not implemented by this realization")

// Contract is the subset of the rollup contract's ABI the block builder
// calls. Block assembly and signature aggregation never import this
// package directly; only internal/poster does.
type Contract interface {
	// PostRegistrationBlock submits a block whose senders may still need
	// on-chain account registration.
	PostRegistrationBlock(ctx context.Context, task model.BlockPostTask, aggSignature AggregatedSignature) error

	// PostNonRegistrationBlock submits a block whose senders already carry
	// account ids.
	PostNonRegistrationBlock(ctx context.Context, task model.BlockPostTask, aggSignature AggregatedSignature) error

	// GetLatestBlockNumber returns the rollup's current block height.
	GetLatestBlockNumber(ctx context.Context) (uint32, error)

	// GetPenalty returns the current per-block posting penalty fee, in wei.
	GetPenalty(ctx context.Context) (uint64, error)

	// GetBlockBuilderNonce returns the next expected nonce for this
	// builder's address in the given category. 0 means "none posted yet".
	GetBlockBuilderNonce(ctx context.Context, isRegistration bool) (uint32, error)
}

// Registry is the block-builder liveness registry contract.
type Registry interface {
	// EmitHeartBeat announces that builderURL is still serving proposals.
	EmitHeartBeat(ctx context.Context, builderURL string) error
}

// AggregatedSignature is the calldata bundle internal/bls produces from a
// BlockPostTask's collected UserSignatures: which senders signed, their
// aggregate pubkey and signature, and the hash-to-curve message point.
type AggregatedSignature struct {
	SenderFlag   []byte // bitmap, one bit per pubkey slot, set if that sender signed
	AggPubKey    [48]byte
	AggSignature [96]byte
	MessagePoint [96]byte
}
