package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/empower1/block-builder/internal/model"
	"github.com/empower1/block-builder/internal/prover"
)

func pk(b byte) model.PubKey {
	var p model.PubKey
	p[31] = b
	return p
}

func testConfig() Config {
	return Config{
		AcceptingTxInterval:    10 * time.Millisecond,
		ProposingBlockInterval: 10 * time.Millisecond,
		TxTimeout:              time.Second,
	}
}

// addRawSignature appends sig to requestID's proposing state directly,
// skipping AddSignature's verifySignature gate, and stages the request's
// fee proof for ProcessFeeCollection the way AddSignature does once a
// signature is accepted. model.CompressPubKey's zero-padded encoding can
// never decompress to a real curve point, so no fixture signature can
// satisfy bls.Verify; tests that only care about queue lifecycle past the
// signing step use this instead.
func addRawSignature(t *testing.T, s *MemoryStorage, requestID string, sig model.UserSignature) {
	t.Helper()
	s.mu.Lock()
	blockID := s.requestIDToBlock[requestID]
	entry := s.proposingStates[blockID]
	s.mu.Unlock()
	require.NotNil(t, entry)
	require.True(t, entry.state.AddSignature(sig))
	for _, r := range entry.state.Memo.TxRequests {
		if r.RequestID == requestID && r.FeeProof != nil {
			s.feeMu.Lock()
			s.pendingFee = append(s.pendingFee, r.FeeProof)
			s.feeMu.Unlock()
		}
	}
}

func TestMemoryStorage_AddTxRejectsDuplicatePubKey(t *testing.T) {
	s := NewMemoryStorage(testConfig(), zap.NewNop().Sugar())
	ctx := context.Background()

	req := model.TxRequest{RequestID: "r1", PubKey: pk(1)}
	require.NoError(t, s.AddTx(ctx, true, req))

	req2 := model.TxRequest{RequestID: "r2", PubKey: pk(1)}
	err := s.AddTx(ctx, true, req2)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestMemoryStorage_ProposalLifecycle(t *testing.T) {
	s := NewMemoryStorage(testConfig(), zap.NewNop().Sugar())
	ctx := context.Background()

	req := model.TxRequest{RequestID: "r1", PubKey: pk(9), Tx: model.Tx{Nonce: 3}}
	require.NoError(t, s.AddTx(ctx, true, req))

	_, err := s.QueryProposal(ctx, "r1")
	assert.ErrorIs(t, err, ErrProposalNotReady)

	time.Sleep(s.cfg.AcceptingTxInterval * 2)
	require.NoError(t, s.ProcessRequests(ctx, true))

	proposal, err := s.QueryProposal(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), req.Tx.Nonce)
	assert.NotZero(t, proposal.Expiry)

	// AddSignature's BLS check is exercised on its own below; collecting a
	// signature here bypasses it to drive the rest of the queue lifecycle
	// (assembly -> signing window -> post task) independently of crypto.
	addRawSignature(t, s, "r1", model.UserSignature{PubKey: req.PubKey})

	time.Sleep(s.cfg.ProposingBlockInterval * 2)
	require.NoError(t, s.ProcessSignatures(ctx))

	task, err := s.DequeueBlockPostTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.True(t, task.IsRegistrationBlock)
	assert.Len(t, task.Signatures, 1)

	nextTask, err := s.DequeueBlockPostTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, nextTask)
}

func TestMemoryStorage_QueryProposalUnknownRequest(t *testing.T) {
	s := NewMemoryStorage(testConfig(), zap.NewNop().Sugar())
	_, err := s.QueryProposal(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestMemoryStorage_EnqueueEmptyBlockIsForced(t *testing.T) {
	s := NewMemoryStorage(testConfig(), zap.NewNop().Sugar())
	ctx := context.Background()

	require.NoError(t, s.EnqueueEmptyBlock(ctx))

	task, err := s.DequeueBlockPostTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.True(t, task.ForcePost)
	assert.Empty(t, task.Signatures)
}

type recordingFeeConsumer struct {
	consumed []*model.FeeProof
}

func (r *recordingFeeConsumer) ConsumeFeeProof(_ context.Context, proof *model.FeeProof) error {
	r.consumed = append(r.consumed, proof)
	return nil
}

func TestMemoryStorage_ProcessFeeCollectionDrainsPendingProofs(t *testing.T) {
	cfg := testConfig()
	cfg.UseFee = true
	s := NewMemoryStorage(cfg, zap.NewNop().Sugar())
	ctx := context.Background()

	proof := &model.FeeProof{Payload: []byte(`{"ok":true}`)}
	req := model.TxRequest{RequestID: "r1", PubKey: pk(5), FeeProof: proof}
	require.NoError(t, s.AddTx(ctx, false, req))

	time.Sleep(cfg.AcceptingTxInterval * 2)
	require.NoError(t, s.ProcessRequests(ctx, false))
	addRawSignature(t, s, "r1", model.UserSignature{PubKey: req.PubKey})

	consumer := &recordingFeeConsumer{}
	require.NoError(t, s.ProcessFeeCollection(ctx, consumer))
	assert.Len(t, consumer.consumed, 1)

	require.NoError(t, s.ProcessFeeCollection(ctx, consumer))
	assert.Len(t, consumer.consumed, 1, "a second call with nothing new pending should not reconsume")
}

func TestMemoryStorage_AddSignatureRejectsUnknownPubKey(t *testing.T) {
	s := NewMemoryStorage(testConfig(), zap.NewNop().Sugar())
	ctx := context.Background()

	req := model.TxRequest{RequestID: "r1", PubKey: pk(1)}
	require.NoError(t, s.AddTx(ctx, true, req))
	time.Sleep(s.cfg.AcceptingTxInterval * 2)
	require.NoError(t, s.ProcessRequests(ctx, true))

	err := s.AddSignature(ctx, "r1", model.UserSignature{PubKey: pk(2)})
	assert.ErrorIs(t, err, ErrSignatureVerification)
}

func TestMemoryStorage_AddSignatureRejectsBadSignature(t *testing.T) {
	s := NewMemoryStorage(testConfig(), zap.NewNop().Sugar())
	ctx := context.Background()

	req := model.TxRequest{RequestID: "r1", PubKey: pk(1)}
	require.NoError(t, s.AddTx(ctx, true, req))
	time.Sleep(s.cfg.AcceptingTxInterval * 2)
	require.NoError(t, s.ProcessRequests(ctx, true))

	err := s.AddSignature(ctx, "r1", model.UserSignature{PubKey: req.PubKey, Signature: [96]byte{1, 2, 3}})
	assert.ErrorIs(t, err, ErrSignatureVerification)
}

func TestMemoryStorage_AddTxEnforcesAccountStatePrecondition(t *testing.T) {
	ctx := context.Background()
	registered := pk(1)
	accountID := uint64(7)
	accounts := prover.NewMockClient()
	accounts.AccountIDs[registered] = accountID

	cfg := testConfig()
	cfg.Accounts = accounts
	s := NewMemoryStorage(cfg, zap.NewNop().Sugar())

	err := s.AddTx(ctx, true, model.TxRequest{RequestID: "r1", PubKey: registered})
	assert.ErrorIs(t, err, ErrAccountAlreadyRegistered)

	err = s.AddTx(ctx, false, model.TxRequest{RequestID: "r2", PubKey: pk(2)})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, s.AddTx(ctx, false, model.TxRequest{RequestID: "r3", PubKey: registered}))
	require.NoError(t, s.AddTx(ctx, true, model.TxRequest{RequestID: "r4", PubKey: pk(2)}))
}
