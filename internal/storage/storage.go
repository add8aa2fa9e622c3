// Package storage holds the block builder's core state machine: queued
// requests waiting to be assembled, proposals awaiting sender signatures,
// and the resulting BlockPostTasks waiting to go on-chain.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/empower1/block-builder/internal/assembler"
	"github.com/empower1/block-builder/internal/bls"
	"github.com/empower1/block-builder/internal/model"
	"github.com/empower1/block-builder/internal/poseidon"
	"github.com/empower1/block-builder/internal/prover"
)

var (
	ErrDuplicateRequest         = errors.New("storage: sender already has a request queued in this window")
	ErrProposalNotFound         = errors.New("storage: no proposal found for this request id")
	ErrProposalNotReady         = errors.New("storage: request accepted but not yet assembled into a block")
	ErrUnknownRequest           = errors.New("storage: signature submitted for an unknown request id")
	ErrFeeProofRequired         = errors.New("storage: fee proof required for this request")
	ErrAccountAlreadyRegistered = errors.New("storage: pubkey already has an on-chain account")
	ErrAccountNotFound          = errors.New("storage: pubkey has no on-chain account")
	ErrSignatureVerification    = errors.New("storage: signature verification failed")
)

// AccountLookup resolves whether a pubkey already has an on-chain account.
// AddTx uses it to enforce is_registration's account-state precondition;
// the validity prover's query surface is the natural collaborator here,
// since it already holds this state for rule E.
type AccountLookup interface {
	GetAccountInfoBatch(ctx context.Context, pubkeys [][32]byte) ([]prover.AccountInfo, error)
}

// Config carries the timing and fee-policy knobs Storage needs. It embeds
// the subset of config.Config relevant to request intake and assembly so
// the storage package doesn't import the top-level config package.
type Config struct {
	UseFee         bool
	FeeBeneficiary model.PubKey
	FeeValidator   model.FeeValidator
	Accounts       AccountLookup // nil disables the AddTx account-state check

	AcceptingTxInterval    time.Duration
	ProposingBlockInterval time.Duration
	TxTimeout              time.Duration
}

// verifySignature enforces add_signature's two preconditions: sig's pubkey
// must appear in memo's sender list, and sig must verify over the
// canonical message memo's other signatures are checked against.
func verifySignature(memo *model.ProposalMemo, sig model.UserSignature) error {
	found := false
	for _, pk := range memo.PubKeys {
		if pk == sig.PubKey {
			found = true
			break
		}
	}
	if !found {
		return ErrSignatureVerification
	}

	var accountIDHash model.Digest32
	if !memo.IsRegistrationBlock {
		accountIDs, _ := memo.AccountIDs()
		accountIDHash = poseidon.HashAccountIDs(accountIDs.Bytes())
	}
	message := memo.CanonicalMessage(accountIDHash)

	ok, err := bls.Verify(model.CompressPubKey(sig.PubKey), message, sig.Signature)
	if err != nil || !ok {
		return ErrSignatureVerification
	}
	return nil
}

func (c Config) window() assembler.Window {
	return assembler.Window{ProposingBlockInterval: c.ProposingBlockInterval, TxTimeout: c.TxTimeout}
}

// Storage is the block builder's queue, proposal, and post-task store. It
// is safe for concurrent use by the API handlers and the background jobs.
type Storage interface {
	// AddTx enqueues a sender's request for the next assembly tick.
	AddTx(ctx context.Context, isRegistration bool, req model.TxRequest) error

	// QueryProposal returns the proposal for requestID once it has been
	// assembled; ErrProposalNotReady if intake is still queued.
	QueryProposal(ctx context.Context, requestID string) (*model.BlockProposal, error)

	// AddSignature attaches a sender's signature to its block's proposing
	// state, if that block is still accepting signatures.
	AddSignature(ctx context.Context, requestID string, sig model.UserSignature) error

	// DequeueBlockPostTask pops the next task the poster should submit, nil
	// if none are ready.
	DequeueBlockPostTask(ctx context.Context) (*model.BlockPostTask, error)

	// ProcessRequests assembles any queued requests whose accepting window
	// has elapsed (or which have filled a full block) into a proposal.
	ProcessRequests(ctx context.Context, isRegistration bool) error

	// ProcessSignatures graduates any proposing block whose signing window
	// has elapsed into a BlockPostTask.
	ProcessSignatures(ctx context.Context) error

	// EnqueueEmptyBlock enqueues a forced, all-dummy block post, used to
	// advance the chain when deposits are waiting but no sender has sent a
	// tx.
	EnqueueEmptyBlock(ctx context.Context) error

	// ProcessFeeCollection consumes the fee proofs backing every signature
	// collected since the last call.
	ProcessFeeCollection(ctx context.Context, client FeeConsumer) error
}

// FeeConsumer is the subset of storevault.Client ProcessFeeCollection
// needs; keeping it local avoids storage depending on storevault's HTTP
// plumbing.
type FeeConsumer interface {
	ConsumeFeeProof(ctx context.Context, proof *model.FeeProof) error
}
