// Package config holds the block builder's runtime configuration.
//
// Population of this struct (from environment variables, flags, or a file)
// is the caller's responsibility; per the project's scope this package does
// not itself load configuration from the environment.
package config

import (
	"errors"
	"time"

	"github.com/empower1/block-builder/internal/model"
)

var (
	ErrMissingPrivateKey = errors.New("config: builder_private_key is required")
	ErrMissingBuilderURL = errors.New("config: builder_url is required")
	ErrInvalidInterval   = errors.New("config: intervals must be positive")
)

// Config mirrors the enumerated options consumed by the block builder core.
type Config struct {
	UseFee            bool
	UseCollateral     bool
	FeeBeneficiary    model.PubKey
	TxTimeout         time.Duration
	AcceptingTxWindow time.Duration
	ProposingWindow   time.Duration

	InitialHeartBeatDelay time.Duration
	HeartBeatInterval     time.Duration
	DepositCheckInterval  time.Duration // zero means "use the default"
	NonceWaitingTime      time.Duration // zero means "use the default"

	EthAllowanceForBlock uint64 // wei, as a plain uint64 for simplicity

	BuilderPrivateKeyHex string
	BuilderURL           string

	ClusterID string
	RedisURL  string
}

// Validate checks the fields that are fatal if missing, per the block
// builder's error taxonomy: a missing private key or URL should stop the
// process at startup rather than fail lazily later.
func (c Config) Validate() error {
	if c.BuilderPrivateKeyHex == "" {
		return ErrMissingPrivateKey
	}
	if c.BuilderURL == "" {
		return ErrMissingBuilderURL
	}
	if c.AcceptingTxWindow <= 0 || c.ProposingWindow <= 0 || c.TxTimeout <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// DepositCheckPollingInterval returns the configured deposit-check interval,
// falling back to a 2 second default when unset.
func (c Config) DepositCheckPollingInterval() time.Duration {
	if c.DepositCheckInterval > 0 {
		return c.DepositCheckInterval
	}
	return 2 * time.Second
}
