// Package poster runs the gate sequence a block builder applies before it
// submits a BlockPostTask on-chain: syncing with the validity prover,
// waiting out congestion penalties, rejecting expired proposals, resolving
// registration races, aggregating signatures, and finally calling the
// rollup contract with the correctly ordered nonce.
package poster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/empower1/block-builder/internal/bls"
	"github.com/empower1/block-builder/internal/metrics"
	"github.com/empower1/block-builder/internal/model"
	"github.com/empower1/block-builder/internal/nonce"
	"github.com/empower1/block-builder/internal/poseidon"
	"github.com/empower1/block-builder/internal/prover"
	"github.com/empower1/block-builder/internal/rollup"
)

const (
	validitySyncPollingInterval = 5 * time.Second
	validitySyncMaxRetry        = 10
	penaltyPollingInterval      = 2 * time.Second
	expiryBuffer                = 5 * time.Second
	defaultNonceWaitInterval    = 2 * time.Second
)

var (
	ErrValidityProverNotSynced = errors.New("poster: validity prover is not synced with the rollup contract")
	ErrAlreadyExpired          = errors.New("poster: block task expired before it could be posted")
)

// Config carries the per-builder policy values the gate sequence needs.
type Config struct {
	EthAllowanceForBlock uint64
	NonceWaitInterval    time.Duration // zero means "use the default"
}

func (c Config) nonceWaitInterval() time.Duration {
	if c.NonceWaitInterval > 0 {
		return c.NonceWaitInterval
	}
	return defaultNonceWaitInterval
}

// Poster drives one BlockPostTask through the gate sequence and, on
// success, submits it to the rollup contract.
type Poster struct {
	cfg      Config
	rollup   rollup.Contract
	prover   prover.Client
	nonces   nonce.Manager
	log      *zap.SugaredLogger
}

func New(cfg Config, rollupContract rollup.Contract, proverClient prover.Client, nonces nonce.Manager, log *zap.SugaredLogger) *Poster {
	return &Poster{cfg: cfg, rollup: rollupContract, prover: proverClient, nonces: nonces, log: log.Named("poster")}
}

// Post runs the full gate sequence for task and, if it survives, submits
// it on-chain. A task rejected by a gate is not retried by Post itself;
// the caller's job loop decides whether to drop or requeue it.
func (p *Poster) Post(ctx context.Context, task model.BlockPostTask) error {
	p.log.Infow("posting block",
		"is_registration_block", task.IsRegistrationBlock,
		"expiry", task.Expiry,
		"num_signatures", len(task.Signatures),
		"force_post", task.ForcePost,
	)

	if len(task.Signatures) == 0 && !task.ForcePost {
		p.log.Warnw("no signatures in block, skipping post")
		return nil
	}

	if err := p.waitForValidityProverSync(ctx); err != nil {
		return err
	}
	if err := p.waitForPenaltyBelowAllowance(ctx); err != nil {
		return err
	}
	if err := checkExpiry(task.Expiry, time.Now()); err != nil {
		if errors.Is(err, ErrAlreadyExpired) {
			metrics.PostsExpired.Inc()
		}
		return err
	}

	isRegistration := task.IsRegistrationBlock

	_, eliminated, err := p.resolveAccountIdentity(ctx, &task)
	if err != nil {
		return err
	}
	metrics.RuleEEliminations.Add(float64(len(eliminated)))

	agg, err := p.aggregateSignatures(task, eliminated)
	if err != nil {
		return err
	}

	// Reserve this builder's on-chain call nonce only once the task has
	// cleared every other gate; releasing it on a later failure lets a
	// retried post reuse the slot instead of burning nonces on every
	// transient error.
	builderNonce, err := p.nonces.ReserveNonce(ctx, isRegistration)
	if err != nil {
		return fmt.Errorf("poster: reserve nonce: %w", err)
	}
	p.log.Debugw("reserved builder call nonce", "nonce", builderNonce, "is_registration", isRegistration)

	if err := p.waitForNonceTurn(ctx, builderNonce, isRegistration); err != nil {
		if releaseErr := p.nonces.ReleaseNonce(ctx, builderNonce, isRegistration); releaseErr != nil {
			p.log.Errorw("failed to release nonce after waiting for its turn failed", "nonce", builderNonce, "error", releaseErr)
		}
		return err
	}

	var postErr error
	if isRegistration {
		postErr = p.rollup.PostRegistrationBlock(ctx, task, agg)
	} else {
		postErr = p.rollup.PostNonRegistrationBlock(ctx, task, agg)
	}
	if postErr != nil {
		if releaseErr := p.nonces.ReleaseNonce(ctx, builderNonce, isRegistration); releaseErr != nil {
			p.log.Errorw("failed to release nonce after a failed post", "nonce", builderNonce, "error", releaseErr)
		}
		return fmt.Errorf("poster: post block: %w", postErr)
	}
	metrics.PostsSucceeded.WithLabelValues(categoryLabel(isRegistration)).Inc()
	return nil
}

func categoryLabel(isRegistration bool) string {
	if isRegistration {
		return "registration"
	}
	return "non_registration"
}

func (p *Poster) waitForValidityProverSync(ctx context.Context) error {
	for retry := 0; ; retry++ {
		onchain, err := p.rollup.GetLatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("poster: get latest block number: %w", err)
		}
		synced, err := p.prover.GetBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("poster: get validity prover block number: %w", err)
		}
		if onchain == synced {
			return nil
		}
		if retry >= validitySyncMaxRetry {
			return fmt.Errorf("%w: onchain=%d prover=%d", ErrValidityProverNotSynced, onchain, synced)
		}
		p.log.Warnw("validity prover not synced", "onchain", onchain, "prover", synced, "retry", retry)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(validitySyncPollingInterval):
		}
	}
}

func (p *Poster) waitForPenaltyBelowAllowance(ctx context.Context) error {
	for {
		penalty, err := p.rollup.GetPenalty(ctx)
		if err != nil {
			return fmt.Errorf("poster: get penalty: %w", err)
		}
		if penalty <= p.cfg.EthAllowanceForBlock {
			return nil
		}
		p.log.Warnw("penalty above allowance", "penalty", penalty, "allowance", p.cfg.EthAllowanceForBlock)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(penaltyPollingInterval):
		}
	}
}

// waitForNonceTurn blocks until builderNonce is the smallest nonce still
// reserved for this category, so replicas sharing a NonceManager post in
// strict nonce order. A single-process builder clears this immediately,
// since no reservation can exist ahead of its own; the unbounded loop is
// only ever worked off by a peer replica calling ReleaseNonce.
func (p *Poster) waitForNonceTurn(ctx context.Context, builderNonce uint32, isRegistration bool) error {
	interval := p.cfg.nonceWaitInterval()
	for {
		smallest, err := p.nonces.SmallestReservedNonce(ctx, isRegistration)
		if err != nil {
			if errors.Is(err, nonce.ErrNotFound) {
				// Our own reservation is gone; nothing left to wait for.
				return nil
			}
			return fmt.Errorf("poster: smallest reserved nonce: %w", err)
		}
		if smallest == builderNonce {
			return nil
		}

		metrics.NonceWaits.Inc()
		p.log.Debugw("waiting for nonce turn", "nonce", builderNonce, "smallest_reserved", smallest, "is_registration", isRegistration)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func checkExpiry(expiry uint64, now time.Time) error {
	if expiry == 0 {
		return nil
	}
	deadline := time.Unix(int64(expiry), 0)
	if deadline.Before(now.Add(expiryBuffer)) {
		return ErrAlreadyExpired
	}
	return nil
}

// resolveAccountIdentity applies rule E: for a registration block, any
// pubkey the validity prover reports as already registered is eliminated
// from the aggregate (the sender must have raced a second registration tx
// through another channel). For a non-registration block it eliminates
// nothing. The returned digest is always zero; account_id_hash is computed
// in aggregateSignatures.
func (p *Poster) resolveAccountIdentity(ctx context.Context, task *model.BlockPostTask) (model.Digest32, map[model.PubKey]bool, error) {
	eliminated := make(map[model.PubKey]bool)
	if !task.IsRegistrationBlock {
		return model.Digest32{}, eliminated, nil
	}

	real := make([][32]byte, 0, len(task.PubKeys))
	realPubkeys := make([]model.PubKey, 0, len(task.PubKeys))
	for _, pk := range task.PubKeys {
		if pk.IsDummy() {
			continue
		}
		real = append(real, pk)
		realPubkeys = append(realPubkeys, pk)
	}
	if len(real) == 0 {
		return model.Digest32{}, eliminated, nil
	}

	infos, err := p.prover.GetAccountInfoBatch(ctx, real)
	if err != nil {
		return model.Digest32{}, nil, fmt.Errorf("poster: get account info batch: %w", err)
	}
	for i, info := range infos {
		if info.AccountID != nil {
			eliminated[realPubkeys[i]] = true
		}
	}
	return model.Digest32{}, eliminated, nil
}

// aggregateSignatures builds the calldata-ready aggregate from task's
// collected signatures, skipping any sender rule E eliminated.
func (p *Poster) aggregateSignatures(task model.BlockPostTask, eliminated map[model.PubKey]bool) (rollup.AggregatedSignature, error) {
	sigByPubKey := make(map[model.PubKey][96]byte, len(task.Signatures))
	for _, sig := range task.Signatures {
		if eliminated[sig.PubKey] {
			continue
		}
		sigByPubKey[sig.PubKey] = sig.Signature
	}

	senderFlag := make([]byte, (len(task.PubKeys)+7)/8)
	var sigs [][96]byte
	var pubkeys [][48]byte
	for i, pk := range task.PubKeys {
		sig, signed := sigByPubKey[pk]
		if !signed {
			continue
		}
		senderFlag[i/8] |= 1 << uint(i%8)
		sigs = append(sigs, sig)
		pubkeys = append(pubkeys, model.CompressPubKey(pk))
	}

	if len(sigs) == 0 {
		return rollup.AggregatedSignature{SenderFlag: senderFlag}, nil
	}

	aggSig, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return rollup.AggregatedSignature{}, fmt.Errorf("poster: aggregate signatures: %w", err)
	}
	aggPub, err := bls.AggregatePublicKeys(pubkeys)
	if err != nil {
		return rollup.AggregatedSignature{}, fmt.Errorf("poster: aggregate public keys: %w", err)
	}
	var accountIDHash model.Digest32
	if !task.IsRegistrationBlock {
		accountIDHash = poseidon.HashAccountIDs(task.AccountIDs.Bytes())
	}
	msgPoint := bls.HashToMessagePoint(task.CanonicalMessage(accountIDHash))

	return rollup.AggregatedSignature{
		SenderFlag:   senderFlag,
		AggPubKey:    aggPub,
		AggSignature: aggSig,
		MessagePoint: msgPoint,
	}, nil
}
