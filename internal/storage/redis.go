package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/empower1/block-builder/internal/assembler"
	"github.com/empower1/block-builder/internal/model"
)

// RedisStorage is a cache-backed Storage realization so a builder can
// restart without losing in-flight requests. It does not support multiple
// builder replicas sharing one queue: two replicas racing ProcessRequests
// against the same pending queue could each assemble a disjoint proposal
// from the same senders, so replica coordination is left to the deployer
// (run one active builder per cluster id). Each mutation is a sequence of
// individual Redis commands; there is no pipeline and no cross-command
// transaction, matching the rest of this store's best-effort consistency.
type RedisStorage struct {
	rdb *redis.Client
	cfg Config
	log *zap.SugaredLogger

	regQueueKey    string
	nonRegQueueKey string
	requestMapKey  string
	proposingKey   string
	tasksHiKey     string
	tasksLoKey     string
	feeQueueKey    string
	windowKey      map[bool]string
}

func NewRedisStorage(rdb *redis.Client, clusterID string, cfg Config, log *zap.SugaredLogger) *RedisStorage {
	if clusterID == "" {
		clusterID = "default"
	}
	prefix := fmt.Sprintf("block_builder:%s", clusterID)
	return &RedisStorage{
		rdb:            rdb,
		cfg:            cfg,
		log:            log.Named("storage.redis"),
		regQueueKey:    prefix + ":registration_requests",
		nonRegQueueKey: prefix + ":non_registration_requests",
		requestMapKey:  prefix + ":request_to_block",
		proposingKey:   prefix + ":proposing_states",
		tasksHiKey:     prefix + ":tasks_hi",
		tasksLoKey:     prefix + ":tasks_lo",
		feeQueueKey:    prefix + ":pending_fee_proofs",
		windowKey: map[bool]string{
			true:  prefix + ":registration_window_started_at",
			false: prefix + ":non_registration_window_started_at",
		},
	}
}

func (s *RedisStorage) queueKey(isRegistration bool) string {
	if isRegistration {
		return s.regQueueKey
	}
	return s.nonRegQueueKey
}

func (s *RedisStorage) AddTx(ctx context.Context, isRegistration bool, req model.TxRequest) error {
	if s.cfg.UseFee && req.FeeProof == nil {
		return ErrFeeProofRequired
	}
	if s.cfg.UseFee && s.cfg.FeeValidator != nil {
		if err := s.cfg.FeeValidator.Validate(req.FeeProof, req.PubKey, s.cfg.FeeBeneficiary); err != nil {
			return err
		}
	}
	if s.cfg.Accounts != nil {
		infos, err := s.cfg.Accounts.GetAccountInfoBatch(ctx, [][32]byte{req.PubKey})
		if err != nil {
			return fmt.Errorf("storage: account lookup: %w", err)
		}
		hasAccount := len(infos) > 0 && infos[0].AccountID != nil
		if isRegistration && hasAccount {
			return ErrAccountAlreadyRegistered
		}
		if !isRegistration && !hasAccount {
			return ErrAccountNotFound
		}
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("storage: marshal tx request: %w", err)
	}

	queueKey := s.queueKey(isRegistration)
	length, err := s.rdb.LLen(ctx, queueKey).Result()
	if err != nil {
		return fmt.Errorf("storage: redis llen %s: %w", queueKey, err)
	}
	for i := int64(0); i < length; i++ {
		raw, err := s.rdb.LIndex(ctx, queueKey, i).Result()
		if err != nil {
			return fmt.Errorf("storage: redis lindex %s: %w", queueKey, err)
		}
		var existing model.TxRequest
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("storage: unmarshal queued request: %w", err)
		}
		if existing.PubKey == req.PubKey {
			return ErrDuplicateRequest
		}
	}

	if err := s.rdb.RPush(ctx, queueKey, buf).Err(); err != nil {
		return fmt.Errorf("storage: redis rpush %s: %w", queueKey, err)
	}
	if err := s.rdb.SetNX(ctx, s.windowKey[isRegistration], time.Now().Unix(), 0).Err(); err != nil {
		return fmt.Errorf("storage: redis setnx window: %w", err)
	}
	return s.rdb.HSet(ctx, s.requestMapKey, req.RequestID, "").Err()
}

func (s *RedisStorage) ProcessRequests(ctx context.Context, isRegistration bool) error {
	queueKey := s.queueKey(isRegistration)
	length, err := s.rdb.LLen(ctx, queueKey).Result()
	if err != nil {
		return fmt.Errorf("storage: redis llen %s: %w", queueKey, err)
	}
	if length == 0 {
		return nil
	}

	windowStartRaw, err := s.rdb.Get(ctx, s.windowKey[isRegistration]).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("storage: redis get window: %w", err)
	}
	windowStart := time.Unix(windowStartRaw, 0)
	full := length >= model.NumSendersInBlock
	expired := windowStartRaw > 0 && time.Since(windowStart) >= s.cfg.AcceptingTxInterval
	if !(full || expired) {
		return nil
	}

	chunkSize := length
	if chunkSize > model.NumSendersInBlock {
		chunkSize = model.NumSendersInBlock
	}

	chunk := make([]model.TxRequest, 0, chunkSize)
	for i := int64(0); i < chunkSize; i++ {
		raw, err := s.rdb.LPop(ctx, queueKey).Result()
		if err != nil {
			return fmt.Errorf("storage: redis lpop %s: %w", queueKey, err)
		}
		var req model.TxRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return fmt.Errorf("storage: unmarshal popped request: %w", err)
		}
		chunk = append(chunk, req)
	}
	if err := s.rdb.Del(ctx, s.windowKey[isRegistration]).Err(); err != nil {
		return fmt.Errorf("storage: redis del window: %w", err)
	}

	memo, err := assembler.Assemble(isRegistration, chunk, s.cfg.window(), time.Now())
	if err != nil {
		return err
	}

	blockID := uuid.NewString()
	state := &model.ProposingBlockState{Memo: memo}
	return s.storeProposingState(ctx, blockID, state, chunk)
}

type proposingEnvelope struct {
	State     *model.ProposingBlockState `json:"state"`
	CreatedAt int64                      `json:"created_at"`
}

func (s *RedisStorage) storeProposingState(ctx context.Context, blockID string, state *model.ProposingBlockState, chunk []model.TxRequest) error {
	env := proposingEnvelope{State: state, CreatedAt: time.Now().Unix()}
	buf, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("storage: marshal proposing state: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.proposingKey, blockID, buf).Err(); err != nil {
		return fmt.Errorf("storage: redis hset proposing state: %w", err)
	}
	for _, r := range chunk {
		if err := s.rdb.HSet(ctx, s.requestMapKey, r.RequestID, blockID).Err(); err != nil {
			return fmt.Errorf("storage: redis hset request map: %w", err)
		}
	}
	return nil
}

func (s *RedisStorage) loadProposingState(ctx context.Context, blockID string) (*proposingEnvelope, error) {
	raw, err := s.rdb.HGet(ctx, s.proposingKey, blockID).Result()
	if err == redis.Nil {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis hget proposing state: %w", err)
	}
	var env proposingEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("storage: unmarshal proposing state: %w", err)
	}
	return &env, nil
}

func (s *RedisStorage) QueryProposal(ctx context.Context, requestID string) (*model.BlockProposal, error) {
	blockID, err := s.rdb.HGet(ctx, s.requestMapKey, requestID).Result()
	if err == redis.Nil {
		return nil, ErrUnknownRequest
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis hget request map: %w", err)
	}
	if blockID == "" {
		return nil, ErrProposalNotReady
	}
	env, err := s.loadProposingState(ctx, blockID)
	if err != nil {
		return nil, err
	}
	for i, r := range env.State.Memo.TxRequests {
		if r.RequestID == requestID {
			proposal := env.State.Memo.Proposals[i]
			return &proposal, nil
		}
	}
	return nil, ErrProposalNotFound
}

func (s *RedisStorage) AddSignature(ctx context.Context, requestID string, sig model.UserSignature) error {
	blockID, err := s.rdb.HGet(ctx, s.requestMapKey, requestID).Result()
	if err == redis.Nil || blockID == "" {
		return ErrUnknownRequest
	}
	if err != nil {
		return fmt.Errorf("storage: redis hget request map: %w", err)
	}
	env, err := s.loadProposingState(ctx, blockID)
	if err != nil {
		return err
	}

	if err := verifySignature(env.State.Memo, sig); err != nil {
		return err
	}

	var feeProof *model.FeeProof
	for _, r := range env.State.Memo.TxRequests {
		if r.RequestID == requestID {
			feeProof = r.FeeProof
			break
		}
	}

	if !env.State.AddSignature(sig) {
		return nil
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("storage: marshal proposing state: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.proposingKey, blockID, buf).Err(); err != nil {
		return fmt.Errorf("storage: redis hset proposing state: %w", err)
	}

	if feeProof != nil {
		feeBuf, err := json.Marshal(feeProof)
		if err != nil {
			return fmt.Errorf("storage: marshal fee proof: %w", err)
		}
		if err := s.rdb.RPush(ctx, s.feeQueueKey, feeBuf).Err(); err != nil {
			return fmt.Errorf("storage: redis rpush fee queue: %w", err)
		}
	}
	return nil
}

func (s *RedisStorage) ProcessSignatures(ctx context.Context) error {
	blockIDs, err := s.rdb.HKeys(ctx, s.proposingKey).Result()
	if err != nil {
		return fmt.Errorf("storage: redis hkeys proposing: %w", err)
	}
	for _, blockID := range blockIDs {
		env, err := s.loadProposingState(ctx, blockID)
		if err == ErrProposalNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if time.Since(time.Unix(env.CreatedAt, 0)) < s.cfg.ProposingBlockInterval {
			continue
		}

		task := env.State.ToBlockPostTask(false)
		if err := s.enqueueTask(ctx, task); err != nil {
			return err
		}
		if err := s.rdb.HDel(ctx, s.proposingKey, blockID).Err(); err != nil {
			return fmt.Errorf("storage: redis hdel proposing state: %w", err)
		}
		for _, r := range env.State.Memo.TxRequests {
			if err := s.rdb.HDel(ctx, s.requestMapKey, r.RequestID).Err(); err != nil {
				return fmt.Errorf("storage: redis hdel request map: %w", err)
			}
		}
	}
	return nil
}

func (s *RedisStorage) enqueueTask(ctx context.Context, task model.BlockPostTask) error {
	buf, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("storage: marshal block post task: %w", err)
	}
	key := s.tasksLoKey
	if len(task.Signatures) > 0 || task.ForcePost {
		key = s.tasksHiKey
	}
	return s.rdb.RPush(ctx, key, buf).Err()
}

func (s *RedisStorage) DequeueBlockPostTask(ctx context.Context) (*model.BlockPostTask, error) {
	raw, err := s.rdb.LPop(ctx, s.tasksHiKey).Result()
	if err == redis.Nil {
		raw, err = s.rdb.LPop(ctx, s.tasksLoKey).Result()
	}
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis lpop task queue: %w", err)
	}
	var task model.BlockPostTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("storage: unmarshal block post task: %w", err)
	}
	return &task, nil
}

func (s *RedisStorage) EnqueueEmptyBlock(ctx context.Context) error {
	memo, err := assembler.AssembleEmpty(false, s.cfg.window(), time.Now())
	if err != nil {
		return err
	}
	state := &model.ProposingBlockState{Memo: memo}
	return s.enqueueTask(ctx, state.ToBlockPostTask(true))
}

func (s *RedisStorage) ProcessFeeCollection(ctx context.Context, client FeeConsumer) error {
	for {
		raw, err := s.rdb.LPop(ctx, s.feeQueueKey).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("storage: redis lpop fee queue: %w", err)
		}
		var proof model.FeeProof
		if err := json.Unmarshal([]byte(raw), &proof); err != nil {
			return fmt.Errorf("storage: unmarshal fee proof: %w", err)
		}
		if err := client.ConsumeFeeProof(ctx, &proof); err != nil {
			return err
		}
	}
}

var _ Storage = (*RedisStorage)(nil)
