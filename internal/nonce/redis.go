package nonce

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisManager is a Manager realization backed by Redis, so multiple
// block-builder replicas sharing a cluster_id never hand out the same
// nonce. It mirrors InMemoryManager's semantics using INCR for the
// monotonic counter and a sorted set for the reservation window.
type RedisManager struct {
	rdb    *redis.Client
	rollup OnchainSource
	log    *zap.SugaredLogger

	nextKey      map[bool]string
	reservedKey  map[bool]string
}

// NewRedisManager builds a RedisManager whose keys are namespaced under
// block_builder:<clusterID>:... so multiple logical deployments can share
// one Redis instance.
func NewRedisManager(rdb *redis.Client, clusterID string, rollup OnchainSource, log *zap.SugaredLogger) *RedisManager {
	if clusterID == "" {
		clusterID = "default"
	}
	prefix := fmt.Sprintf("block_builder:%s", clusterID)
	return &RedisManager{
		rdb:    rdb,
		rollup: rollup,
		log:    log.Named("nonce.redis"),
		nextKey: map[bool]string{
			true:  prefix + ":next_registration_nonce",
			false: prefix + ":next_non_registration_nonce",
		},
		reservedKey: map[bool]string{
			true:  prefix + ":reserved_registration_nonces",
			false: prefix + ":reserved_non_registration_nonces",
		},
	}
}

func (m *RedisManager) syncOnchain(ctx context.Context, isRegistration bool) error {
	onchainRaw, err := m.rollup.GetBlockBuilderNonce(ctx, isRegistration)
	if err != nil {
		return err
	}
	onchainNext := normalizeOnchainNext(onchainRaw)

	// Raise the counter to onchainNext in one server-side step, so an INCR
	// from another replica between a read and a write is never overwritten.
	const raiseToScript = `local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) > cur then redis.call('SET', KEYS[1], ARGV[1]) end
return 0`
	nextKey := m.nextKey[isRegistration]
	if err := m.rdb.Eval(ctx, raiseToScript, []string{nextKey}, onchainNext).Err(); err != nil {
		return fmt.Errorf("nonce: redis raise %s: %w", nextKey, err)
	}

	reservedKey := m.reservedKey[isRegistration]
	maxScore := float64(onchainNext) - 1
	if err := m.rdb.ZRemRangeByScore(ctx, reservedKey, "-inf", fmt.Sprintf("%f", maxScore)).Err(); err != nil {
		return fmt.Errorf("nonce: redis zremrangebyscore %s: %w", reservedKey, err)
	}
	return nil
}

func (m *RedisManager) ReserveNonce(ctx context.Context, isRegistration bool) (uint32, error) {
	if err := m.syncOnchain(ctx, isRegistration); err != nil {
		return 0, err
	}

	nextKey := m.nextKey[isRegistration]
	valAfterIncr, err := m.rdb.Incr(ctx, nextKey).Result()
	if err != nil {
		return 0, fmt.Errorf("nonce: redis incr %s: %w", nextKey, err)
	}
	reserved := uint32(valAfterIncr - 1)

	reservedKey := m.reservedKey[isRegistration]
	if err := m.rdb.ZAdd(ctx, reservedKey, &redis.Z{Score: float64(reserved), Member: reserved}).Err(); err != nil {
		return 0, fmt.Errorf("nonce: redis zadd %s: %w", reservedKey, err)
	}

	m.log.Debugw("reserved nonce", "nonce", reserved, "is_registration", isRegistration)
	return reserved, nil
}

func (m *RedisManager) ReleaseNonce(ctx context.Context, n uint32, isRegistration bool) error {
	reservedKey := m.reservedKey[isRegistration]
	if err := m.rdb.ZRem(ctx, reservedKey, n).Err(); err != nil {
		return fmt.Errorf("nonce: redis zrem %s: %w", reservedKey, err)
	}
	return nil
}

func (m *RedisManager) SmallestReservedNonce(ctx context.Context, isRegistration bool) (uint32, error) {
	reservedKey := m.reservedKey[isRegistration]
	vals, err := m.rdb.ZRangeByScore(ctx, reservedKey, &redis.ZRangeBy{Min: "-inf", Max: "+inf", Offset: 0, Count: 1}).Result()
	if err != nil {
		return 0, fmt.Errorf("nonce: redis zrangebyscore %s: %w", reservedKey, err)
	}
	if len(vals) == 0 {
		return 0, ErrNotFound
	}
	var n uint32
	if _, err := fmt.Sscanf(vals[0], "%d", &n); err != nil {
		return 0, fmt.Errorf("nonce: parse reserved member %q: %w", vals[0], err)
	}
	return n, nil
}

var _ Manager = (*RedisManager)(nil)
