// Package prover talks to the validity prover: the service that keeps an
// independently verified view of rollup block numbers, deposit indices, and
// account registrations. Its ZK verification internals are out of scope;
// this package only needs its query API.
package prover

import "context"

// AccountInfo is what the validity prover reports about one pubkey.
type AccountInfo struct {
	PubKeyIsDummy bool
	AccountID     *uint64 // nil if not yet registered on-chain
}

// Client is the validity prover's query surface.
type Client interface {
	// GetBlockNumber returns the prover's latest synced rollup block number.
	GetBlockNumber(ctx context.Context) (uint32, error)

	// GetNextDepositIndex returns the index the next deposit would receive.
	GetNextDepositIndex(ctx context.Context) (uint32, error)

	// GetLatestIncludedDepositIndex returns the highest deposit index
	// already included in a posted block, or nil if none has been.
	GetLatestIncludedDepositIndex(ctx context.Context) (*uint32, error)

	// GetAccountInfoBatch reports account registration state for each
	// pubkey in pubkeys, in the same order.
	GetAccountInfoBatch(ctx context.Context, pubkeys [][32]byte) ([]AccountInfo, error)
}
