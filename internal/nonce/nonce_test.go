package nonce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOnchain struct {
	registration    uint32
	nonRegistration uint32
}

func (f *fakeOnchain) GetBlockBuilderNonce(_ context.Context, isRegistration bool) (uint32, error) {
	if isRegistration {
		return f.registration, nil
	}
	return f.nonRegistration, nil
}

func TestInMemoryManager_ReserveStartsAtOneWhenOnchainIsZero(t *testing.T) {
	m := NewInMemoryManager(&fakeOnchain{}, zap.NewNop().Sugar())
	ctx := context.Background()

	n, err := m.ReserveNonce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	n2, err := m.ReserveNonce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n2)
}

func TestInMemoryManager_ReleaseAndSmallestReserved(t *testing.T) {
	m := NewInMemoryManager(&fakeOnchain{}, zap.NewNop().Sugar())
	ctx := context.Background()

	n1, err := m.ReserveNonce(ctx, false)
	require.NoError(t, err)
	n2, err := m.ReserveNonce(ctx, false)
	require.NoError(t, err)
	require.Less(t, n1, n2)

	smallest, err := m.SmallestReservedNonce(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, n1, smallest)

	require.NoError(t, m.ReleaseNonce(ctx, n1, false))
	smallest, err = m.SmallestReservedNonce(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, n2, smallest)
}

func TestInMemoryManager_SmallestReservedNoneReserved(t *testing.T) {
	m := NewInMemoryManager(&fakeOnchain{}, zap.NewNop().Sugar())
	_, err := m.SmallestReservedNonce(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryManager_SyncReapsStaleReservations(t *testing.T) {
	onchain := &fakeOnchain{registration: 1}
	m := NewInMemoryManager(onchain, zap.NewNop().Sugar())
	ctx := context.Background()

	n1, err := m.ReserveNonce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n1)

	// The chain has now advanced past n1 (another builder's post landed).
	onchain.registration = 2

	n2, err := m.ReserveNonce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n2)

	smallest, err := m.SmallestReservedNonce(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), smallest, "reservation below the on-chain next nonce must be reaped")
}

func TestInMemoryManager_CategoriesAreIndependent(t *testing.T) {
	m := NewInMemoryManager(&fakeOnchain{}, zap.NewNop().Sugar())
	ctx := context.Background()

	reg, err := m.ReserveNonce(ctx, true)
	require.NoError(t, err)
	nonReg, err := m.ReserveNonce(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), reg)
	assert.Equal(t, uint32(1), nonReg)
}
