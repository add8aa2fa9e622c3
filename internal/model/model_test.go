package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPubKeyIsDummy(t *testing.T) {
	assert.True(t, DummyPubKey.IsDummy())

	var real PubKey
	real[31] = 1
	assert.False(t, real.IsDummy())
}

func TestPubKeyLessAndString(t *testing.T) {
	var a, b PubKey
	a[31] = 1
	b[31] = 2
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Equal(t, "0x", b.String()[:2])
	assert.Len(t, b.String(), 2+len(b)*2)
}

func TestSortPubKeysDescending(t *testing.T) {
	var a, b, c PubKey
	a[31] = 1
	b[31] = 2
	c[31] = 3
	pks := []PubKey{a, b, c}
	SortPubKeysDescending(pks)
	assert.Equal(t, []PubKey{c, b, a}, pks)
}

func TestAccountIDPackedBytesRoundTrip(t *testing.T) {
	ids := AccountIDPacked{1, 2, 300}
	b := ids.Bytes()
	assert.Len(t, b, 24)

	trimmed := ids.TrimmedBytes(2)
	assert.Len(t, trimmed, 16)

	assert.Len(t, ids.TrimmedBytes(10), 24)
}

func newMemo(registration bool, pubkeys []PubKey, reqs []TxRequest) *ProposalMemo {
	return &ProposalMemo{
		IsRegistrationBlock: registration,
		PubKeys:             pubkeys,
		TxRequests:          reqs,
		Proposals:           make([]BlockProposal, len(reqs)),
	}
}

func TestProposalMemoGetProposal(t *testing.T) {
	var pk PubKey
	pk[31] = 5
	tx := Tx{Nonce: 1}
	req := TxRequest{PubKey: pk, Tx: tx}
	memo := newMemo(true, []PubKey{pk}, []TxRequest{req})
	memo.Proposals[0] = BlockProposal{TxIndex: 0}

	got, ok := memo.GetProposal(pk, tx)
	assert.True(t, ok)
	assert.Equal(t, uint32(0), got.TxIndex)

	_, ok = memo.GetProposal(pk, Tx{Nonce: 2})
	assert.False(t, ok)
}

func TestProposalMemoAccountIDsRegistrationBlockIsNil(t *testing.T) {
	memo := newMemo(true, nil, nil)
	ids, ok := memo.AccountIDs()
	assert.False(t, ok)
	assert.Nil(t, ids)
}

func TestProposalMemoAccountIDsNonRegistration(t *testing.T) {
	var real PubKey
	real[31] = 9
	id := uint64(42)
	req := TxRequest{PubKey: real, AccountID: &id}
	memo := newMemo(false, []PubKey{real, DummyPubKey}, []TxRequest{req})

	ids, ok := memo.AccountIDs()
	assert.True(t, ok)
	assert.Equal(t, AccountIDPacked{42, DummyAccountID}, ids)
}

func TestProposalMemoAccountIDsMissingIDFails(t *testing.T) {
	var real PubKey
	real[31] = 9
	req := TxRequest{PubKey: real}
	memo := newMemo(false, []PubKey{real}, []TxRequest{req})

	_, ok := memo.AccountIDs()
	assert.False(t, ok)
}

func TestProposingBlockStateAddSignatureDeduplicates(t *testing.T) {
	var pk PubKey
	pk[31] = 3
	state := &ProposingBlockState{Memo: newMemo(true, []PubKey{pk}, nil)}

	added := state.AddSignature(UserSignature{PubKey: pk, Signature: [96]byte{1}})
	assert.True(t, added)
	assert.Len(t, state.Signatures, 1)

	added = state.AddSignature(UserSignature{PubKey: pk, Signature: [96]byte{2}})
	assert.False(t, added)
	assert.Len(t, state.Signatures, 1)
	assert.Equal(t, [96]byte{1}, state.Signatures[0].Signature)
}

func TestProposingBlockStateToBlockPostTask(t *testing.T) {
	var pk PubKey
	pk[31] = 3
	id := uint64(7)
	memo := newMemo(false, []PubKey{pk}, []TxRequest{{PubKey: pk, AccountID: &id}})
	memo.TxTreeRoot = Digest32{1, 2, 3}
	state := &ProposingBlockState{Memo: memo}
	state.AddSignature(UserSignature{PubKey: pk, Signature: [96]byte{9}})

	task := state.ToBlockPostTask(false)
	assert.False(t, task.ForcePost)
	assert.False(t, task.IsRegistrationBlock)
	assert.Equal(t, memo.TxTreeRoot, task.TxTreeRoot)
	assert.Equal(t, AccountIDPacked{7}, task.AccountIDs)
	assert.Len(t, task.Signatures, 1)

	forced := state.ToBlockPostTask(true)
	assert.True(t, forced.ForcePost)
}

func TestDummyTxRequest(t *testing.T) {
	dummy := DummyTxRequest()
	assert.Equal(t, DummyPubKey, dummy.PubKey)
	assert.NotNil(t, dummy.AccountID)
	assert.Equal(t, DummyAccountID, *dummy.AccountID)
}
