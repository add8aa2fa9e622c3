package rollup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/block-builder/internal/model"
)

func TestMockContract_NoncesAdvancePerCategory(t *testing.T) {
	c := NewMockContract()
	ctx := context.Background()

	n, err := c.GetBlockBuilderNonce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	require.NoError(t, c.PostRegistrationBlock(ctx, model.BlockPostTask{}, AggregatedSignature{}))

	n, err = c.GetBlockBuilderNonce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n, "after nonce 1 is posted the next expected nonce is 2")

	n, err = c.GetBlockBuilderNonce(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n, "non-registration nonce is unaffected by a registration post")
}

func TestSigner_SignIsDeterministicForSameDigest(t *testing.T) {
	var priv [32]byte
	priv[31] = 7
	s := NewSigner(priv)

	digest := [32]byte{1, 2, 3}
	sig1 := s.Sign(digest)
	sig2 := s.Sign(digest)
	assert.Equal(t, sig1, sig2)
	assert.NotEmpty(t, s.Address())
}
