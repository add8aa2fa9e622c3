package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/empower1/block-builder/internal/assembler"
	"github.com/empower1/block-builder/internal/metrics"
	"github.com/empower1/block-builder/internal/model"
)

func categoryLabel(isRegistration bool) string {
	if isRegistration {
		return "registration"
	}
	return "non_registration"
}

type pendingQueue struct {
	mu        sync.Mutex
	requests  []model.TxRequest
	windowSet bool
	windowAt  time.Time
}

type proposingEntry struct {
	state     *model.ProposingBlockState
	createdAt time.Time
}

// MemoryStorage is a single-process Storage realization. Every field is
// guarded by its own mutex rather than one global lock, matching how the
// rest of this codebase scopes locking to the smallest shared structure.
type MemoryStorage struct {
	cfg Config
	log *zap.SugaredLogger

	registration    pendingQueue
	nonRegistration pendingQueue

	mu               sync.RWMutex
	requestIDToBlock map[string]string
	proposingStates  map[string]*proposingEntry

	tasksMu  sync.Mutex
	tasksHi  []model.BlockPostTask
	tasksLo  []model.BlockPostTask

	feeMu      sync.Mutex
	pendingFee []*model.FeeProof
}

func NewMemoryStorage(cfg Config, log *zap.SugaredLogger) *MemoryStorage {
	return &MemoryStorage{
		cfg:              cfg,
		log:              log.Named("storage.memory"),
		requestIDToBlock: make(map[string]string),
		proposingStates:  make(map[string]*proposingEntry),
	}
}

func (s *MemoryStorage) queueFor(isRegistration bool) *pendingQueue {
	if isRegistration {
		return &s.registration
	}
	return &s.nonRegistration
}

func (s *MemoryStorage) AddTx(ctx context.Context, isRegistration bool, req model.TxRequest) error {
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

	q := s.queueFor(isRegistration)
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.requests {
		if existing.PubKey == req.PubKey {
			return ErrDuplicateRequest
		}
	}
	if !q.windowSet {
		q.windowSet = true
		q.windowAt = time.Now()
	}
	q.requests = append(q.requests, req)

	s.mu.Lock()
	s.requestIDToBlock[req.RequestID] = ""
	s.mu.Unlock()
	metrics.RequestsAccepted.WithLabelValues(categoryLabel(isRegistration)).Inc()
	return nil
}

func (s *MemoryStorage) ProcessRequests(_ context.Context, isRegistration bool) error {
	q := s.queueFor(isRegistration)

	q.mu.Lock()
	full := len(q.requests) >= model.NumSendersInBlock
	expired := q.windowSet && time.Since(q.windowAt) >= s.cfg.AcceptingTxInterval
	if len(q.requests) == 0 || !(full || expired) {
		q.mu.Unlock()
		return nil
	}
	chunkSize := len(q.requests)
	if chunkSize > model.NumSendersInBlock {
		chunkSize = model.NumSendersInBlock
	}
	chunk := q.requests[:chunkSize]
	q.requests = append([]model.TxRequest(nil), q.requests[chunkSize:]...)
	q.windowSet = len(q.requests) > 0
	if q.windowSet {
		q.windowAt = time.Now()
	}
	q.mu.Unlock()

	memo, err := assembler.Assemble(isRegistration, chunk, s.cfg.window(), time.Now())
	if err != nil {
		return err
	}

	blockID := uuid.NewString()
	s.mu.Lock()
	s.proposingStates[blockID] = &proposingEntry{state: &model.ProposingBlockState{Memo: memo}, createdAt: time.Now()}
	for _, r := range chunk {
		s.requestIDToBlock[r.RequestID] = blockID
	}
	s.mu.Unlock()

	s.log.Debugw("assembled block", "block_id", blockID, "is_registration", isRegistration, "senders", len(chunk))
	metrics.ProposalsAssembled.WithLabelValues(categoryLabel(isRegistration)).Inc()
	return nil
}

func (s *MemoryStorage) QueryProposal(_ context.Context, requestID string) (*model.BlockProposal, error) {
	s.mu.RLock()
	blockID, ok := s.requestIDToBlock[requestID]
	if !ok {
		s.mu.RUnlock()
		return nil, ErrUnknownRequest
	}
	if blockID == "" {
		s.mu.RUnlock()
		return nil, ErrProposalNotReady
	}
	entry, ok := s.proposingStates[blockID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrProposalNotFound
	}

	for i, r := range entry.state.Memo.TxRequests {
		if r.RequestID == requestID {
			proposal := entry.state.Memo.Proposals[i]
			return &proposal, nil
		}
	}
	return nil, ErrProposalNotFound
}

func (s *MemoryStorage) AddSignature(_ context.Context, requestID string, sig model.UserSignature) error {
	s.mu.Lock()
	blockID, ok := s.requestIDToBlock[requestID]
	if !ok || blockID == "" {
		s.mu.Unlock()
		return ErrUnknownRequest
	}
	entry, ok := s.proposingStates[blockID]
	s.mu.Unlock()
	if !ok {
		return ErrProposalNotFound
	}

	if err := verifySignature(entry.state.Memo, sig); err != nil {
		return err
	}

	var feeProof *model.FeeProof
	for _, r := range entry.state.Memo.TxRequests {
		if r.RequestID == requestID {
			feeProof = r.FeeProof
			break
		}
	}

	s.mu.Lock()
	added := entry.state.AddSignature(sig)
	s.mu.Unlock()

	if added {
		metrics.SignaturesReceived.Inc()
	}
	if added && feeProof != nil {
		s.feeMu.Lock()
		s.pendingFee = append(s.pendingFee, feeProof)
		s.feeMu.Unlock()
	}
	return nil
}

func (s *MemoryStorage) ProcessSignatures(_ context.Context) error {
	s.mu.Lock()
	var ready []string
	for blockID, entry := range s.proposingStates {
		if time.Since(entry.createdAt) >= s.cfg.ProposingBlockInterval {
			ready = append(ready, blockID)
		}
	}
	graduated := make([]*proposingEntry, 0, len(ready))
	for _, blockID := range ready {
		entry := s.proposingStates[blockID]
		graduated = append(graduated, entry)
		delete(s.proposingStates, blockID)
		for _, r := range entry.state.Memo.TxRequests {
			delete(s.requestIDToBlock, r.RequestID)
		}
	}
	s.mu.Unlock()

	for _, entry := range graduated {
		task := entry.state.ToBlockPostTask(false)
		s.enqueueTask(task)
	}
	return nil
}

func (s *MemoryStorage) enqueueTask(task model.BlockPostTask) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if len(task.Signatures) > 0 || task.ForcePost {
		s.tasksHi = append(s.tasksHi, task)
		metrics.TasksEnqueued.WithLabelValues("hi").Inc()
	} else {
		s.tasksLo = append(s.tasksLo, task)
		metrics.TasksEnqueued.WithLabelValues("lo").Inc()
	}
}

func (s *MemoryStorage) DequeueBlockPostTask(_ context.Context) (*model.BlockPostTask, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	if len(s.tasksHi) > 0 {
		task := s.tasksHi[0]
		s.tasksHi = s.tasksHi[1:]
		return &task, nil
	}
	if len(s.tasksLo) > 0 {
		task := s.tasksLo[0]
		s.tasksLo = s.tasksLo[1:]
		return &task, nil
	}
	return nil, nil
}

func (s *MemoryStorage) EnqueueEmptyBlock(_ context.Context) error {
	memo, err := assembler.AssembleEmpty(false, s.cfg.window(), time.Now())
	if err != nil {
		return err
	}
	state := &model.ProposingBlockState{Memo: memo}
	s.enqueueTask(state.ToBlockPostTask(true))
	return nil
}

func (s *MemoryStorage) ProcessFeeCollection(ctx context.Context, client FeeConsumer) error {
	s.feeMu.Lock()
	proofs := s.pendingFee
	s.pendingFee = nil
	s.feeMu.Unlock()

	for _, proof := range proofs {
		if err := client.ConsumeFeeProof(ctx, proof); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot captures the queue and task state walsnapshot needs to warm-start
// a restarted builder. Proposing blocks already out for signature are left
// out: their signing window will have elapsed by the time a restart
// completes, so recovering them would just mean re-posting stale proposals.
type Snapshot struct {
	RegistrationQueue    []model.TxRequest
	NonRegistrationQueue []model.TxRequest
	TasksHi              []model.BlockPostTask
	TasksLo              []model.BlockPostTask
}

func (s *MemoryStorage) Snapshot() Snapshot {
	s.registration.mu.Lock()
	regQueue := append([]model.TxRequest(nil), s.registration.requests...)
	s.registration.mu.Unlock()

	s.nonRegistration.mu.Lock()
	nonRegQueue := append([]model.TxRequest(nil), s.nonRegistration.requests...)
	s.nonRegistration.mu.Unlock()

	s.tasksMu.Lock()
	tasksHi := append([]model.BlockPostTask(nil), s.tasksHi...)
	tasksLo := append([]model.BlockPostTask(nil), s.tasksLo...)
	s.tasksMu.Unlock()

	return Snapshot{
		RegistrationQueue:    regQueue,
		NonRegistrationQueue: nonRegQueue,
		TasksHi:              tasksHi,
		TasksLo:              tasksLo,
	}
}

// Restore repopulates a freshly constructed MemoryStorage from a prior
// Snapshot. Callers should restore before any other goroutine has started
// calling into the store.
func (s *MemoryStorage) Restore(snap Snapshot) {
	if len(snap.RegistrationQueue) > 0 {
		s.registration.requests = append([]model.TxRequest(nil), snap.RegistrationQueue...)
		s.registration.windowSet = true
		s.registration.windowAt = time.Now()
	}
	if len(snap.NonRegistrationQueue) > 0 {
		s.nonRegistration.requests = append([]model.TxRequest(nil), snap.NonRegistrationQueue...)
		s.nonRegistration.windowSet = true
		s.nonRegistration.windowAt = time.Now()
	}
	s.tasksHi = append([]model.BlockPostTask(nil), snap.TasksHi...)
	s.tasksLo = append([]model.BlockPostTask(nil), snap.TasksLo...)
}

var _ Storage = (*MemoryStorage)(nil)
