package poster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/empower1/block-builder/internal/model"
	"github.com/empower1/block-builder/internal/nonce"
	"github.com/empower1/block-builder/internal/prover"
	"github.com/empower1/block-builder/internal/rollup"
)

func newTestPoster(t *testing.T) (*Poster, *rollup.MockContract, *prover.MockClient) {
	t.Helper()
	rc := rollup.NewMockContract()
	pc := prover.NewMockClient()
	nm := nonce.NewInMemoryManager(rc, zap.NewNop().Sugar())
	return New(Config{EthAllowanceForBlock: 1000}, rc, pc, nm, zap.NewNop().Sugar()), rc, pc
}

func TestPoster_SkipsEmptyUnforcedBlock(t *testing.T) {
	p, rc, _ := newTestPoster(t)
	task := model.BlockPostTask{IsRegistrationBlock: false}
	require.NoError(t, p.Post(context.Background(), task))
	assert.Empty(t, rc.PostedNonRegistration)
}

func TestPoster_PostsForcedEmptyBlock(t *testing.T) {
	p, rc, _ := newTestPoster(t)
	task := model.BlockPostTask{IsRegistrationBlock: false, ForcePost: true}
	require.NoError(t, p.Post(context.Background(), task))
	assert.Len(t, rc.PostedNonRegistration, 1)
}

func TestPoster_RejectsExpiredTask(t *testing.T) {
	p, rc, _ := newTestPoster(t)
	task := model.BlockPostTask{
		IsRegistrationBlock: false,
		ForcePost:           true,
		Expiry:              uint64(time.Now().Add(-time.Hour).Unix()),
	}
	err := p.Post(context.Background(), task)
	assert.ErrorIs(t, err, ErrAlreadyExpired)
	assert.Empty(t, rc.PostedNonRegistration)
}

func TestPoster_PostsWhenValidityProverIsSynced(t *testing.T) {
	p, rc, pc := newTestPoster(t)
	rc.BlockNumber = 5
	pc.BlockNumber = 5

	task := model.BlockPostTask{IsRegistrationBlock: false, ForcePost: true}
	require.NoError(t, p.Post(context.Background(), task))
	assert.Len(t, rc.PostedNonRegistration, 1)
}

func TestPoster_RuleEEliminatesAlreadyRegisteredSender(t *testing.T) {
	p, rc, pc := newTestPoster(t)

	var pk model.PubKey
	pk[31] = 9
	id := uint64(42)
	pc.AccountIDs[pk] = id

	task := model.BlockPostTask{
		IsRegistrationBlock: true,
		ForcePost:           true,
		PubKeys:             []model.PubKey{pk, model.DummyPubKey},
		Signatures: []model.UserSignature{
			{PubKey: pk, Signature: [96]byte{1}},
		},
	}
	require.NoError(t, p.Post(context.Background(), task))
	require.Len(t, rc.PostedRegistration, 1)
	assert.Len(t, rc.PostedRegistration[0].Signatures, 1, "the task itself still carries the eliminated sender's signature; only aggregation skips it")
}
