// Package storevault gives the block builder just enough of the
// store-vault service's surface to validate and consume fee proofs
// senders attach to their requests. The store-vault service itself, and
// the ZK fee-proof verification circuit, are both out of this module's
// scope; this package only defines the boundary the core calls through.
package storevault

import (
	"context"

	"github.com/empower1/block-builder/internal/model"
)

// Client validates a sender's fee proof and marks it consumed so it can't
// be replayed against a second request.
type Client interface {
	// ValidateFeeProof checks that proof pays beneficiary on behalf of
	// sender, without yet marking it spent.
	ValidateFeeProof(ctx context.Context, proof *model.FeeProof, sender model.PubKey, beneficiary model.PubKey) error

	// ConsumeFeeProof marks proof spent so later requests can't reuse it.
	// Callers invoke this only after a request is durably queued.
	ConsumeFeeProof(ctx context.Context, proof *model.FeeProof) error
}
