// Package nonce tracks the next on-chain nonce the block builder should use
// for registration and non-registration posts, and the set of nonces
// currently reserved by in-flight BlockPostTasks.
package nonce

import (
	"context"
	"errors"
)

// ignoredNonce is the on-chain sentinel meaning "no block has ever been
// posted by this builder"; it is never handed out as a usable nonce.
const ignoredNonce uint32 = 0

// defaultNonce is substituted for ignoredNonce so reservations start at 1.
const defaultNonce uint32 = 1

var ErrNotFound = errors.New("nonce: no reservation found")

// OnchainSource reports the next nonce the rollup contract expects for this
// builder. A poster.RollupContract satisfies this directly.
type OnchainSource interface {
	GetBlockBuilderNonce(ctx context.Context, isRegistration bool) (uint32, error)
}

// Manager reserves and releases block-post nonces, keeping local
// reservations in sync with on-chain state so two in-flight posts never
// collide and a failed post's nonce can be freed for reuse.
type Manager interface {
	// ReserveNonce syncs with on-chain state, then reserves and returns the
	// next nonce for the given category.
	ReserveNonce(ctx context.Context, isRegistration bool) (uint32, error)

	// ReleaseNonce frees a previously reserved nonce, e.g. after its post
	// expires or is superseded.
	ReleaseNonce(ctx context.Context, nonce uint32, isRegistration bool) error

	// SmallestReservedNonce returns the smallest nonce still reserved for
	// the category, or ErrNotFound if none are reserved.
	SmallestReservedNonce(ctx context.Context, isRegistration bool) (uint32, error)
}

func normalizeOnchainNext(n uint32) uint32 {
	if n == ignoredNonce {
		return defaultNonce
	}
	return n
}
