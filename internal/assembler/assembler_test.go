package assembler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/block-builder/internal/model"
	"github.com/empower1/block-builder/internal/txtree"
)

func pubkeyFrom(b byte) model.PubKey {
	var pk model.PubKey
	pk[31] = b
	return pk
}

func TestAssemble_SingleSenderPadding(t *testing.T) {
	req := model.TxRequest{
		RequestID: "req-1",
		PubKey:    pubkeyFrom(0x01),
		Tx:        model.Tx{Nonce: 0},
	}
	w := Window{ProposingBlockInterval: 5 * time.Second, TxTimeout: 10 * time.Second}
	now := time.Unix(1000, 0)

	memo, err := Assemble(true, []model.TxRequest{req}, w, now)
	require.NoError(t, err)

	assert.Len(t, memo.PubKeys, model.NumSendersInBlock)
	for i := 1; i < len(memo.PubKeys); i++ {
		assert.False(t, memo.PubKeys[i-1].Less(memo.PubKeys[i]), "pubkeys must be sorted descending")
	}
	assert.Equal(t, uint64(1015), memo.Expiry)

	require.Len(t, memo.Proposals, 1)
	prop := memo.Proposals[0]
	// The dummy pubkey is the maximum possible value, so it sorts first and
	// the lone real sender lands in the last slot.
	assert.Equal(t, uint32(model.NumSendersInBlock-1), prop.TxIndex)
	assert.True(t, txtree.Verify(memo.TxTreeRoot, req.Tx, prop.TxIndex, prop.MerkleProof))
}

func TestAssemble_MultipleSendersUniqueIndices(t *testing.T) {
	reqs := []model.TxRequest{
		{RequestID: "a", PubKey: pubkeyFrom(0x05), Tx: model.Tx{Nonce: 1}},
		{RequestID: "b", PubKey: pubkeyFrom(0x02), Tx: model.Tx{Nonce: 2}},
		{RequestID: "c", PubKey: pubkeyFrom(0x09), Tx: model.Tx{Nonce: 3}},
	}
	w := Window{ProposingBlockInterval: time.Second, TxTimeout: time.Second}
	memo, err := Assemble(false, reqs, w, time.Unix(0, 0))
	require.NoError(t, err)

	seen := map[uint32]bool{}
	for i, p := range memo.Proposals {
		assert.False(t, seen[p.TxIndex], "tx_index must be unique per request")
		seen[p.TxIndex] = true
		assert.True(t, txtree.Verify(memo.TxTreeRoot, memo.TxRequests[i].Tx, p.TxIndex, p.MerkleProof))
	}

	// Sender with the largest pubkey among reals (0x09) should have the
	// smallest tx_index among the three reals.
	indexOfReq := func(id string) uint32 {
		for i, r := range memo.TxRequests {
			if r.RequestID == id {
				return memo.Proposals[i].TxIndex
			}
		}
		t.Fatalf("request %s not found", id)
		return 0
	}
	assert.Less(t, indexOfReq("c"), indexOfReq("a"))
	assert.Less(t, indexOfReq("a"), indexOfReq("b"))
}

func TestAssemble_EmptyBatchRejected(t *testing.T) {
	_, err := Assemble(true, nil, Window{ProposingBlockInterval: time.Second, TxTimeout: time.Second}, time.Now())
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestAssemble_RegistrationBlockHasNoAccountIDs(t *testing.T) {
	req := model.TxRequest{RequestID: "r", PubKey: pubkeyFrom(0x11), Tx: model.Tx{}}
	memo, err := Assemble(true, []model.TxRequest{req}, Window{ProposingBlockInterval: time.Second, TxTimeout: time.Second}, time.Unix(0, 0))
	require.NoError(t, err)
	_, ok := memo.AccountIDs()
	assert.False(t, ok)
}
