package prover

import (
	"context"
	"sync"
)

// MockClient is an in-memory Client for tests and local development.
type MockClient struct {
	mu sync.Mutex

	BlockNumber                 uint32
	NextDepositIndex            uint32
	LatestIncludedDepositIndex  *uint32
	AccountIDs                  map[[32]byte]uint64
}

func NewMockClient() *MockClient {
	return &MockClient{AccountIDs: make(map[[32]byte]uint64)}
}

func (m *MockClient) GetBlockNumber(_ context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BlockNumber, nil
}

func (m *MockClient) GetNextDepositIndex(_ context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NextDepositIndex, nil
}

func (m *MockClient) GetLatestIncludedDepositIndex(_ context.Context) (*uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LatestIncludedDepositIndex, nil
}

func (m *MockClient) GetAccountInfoBatch(_ context.Context, pubkeys [][32]byte) ([]AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]AccountInfo, len(pubkeys))
	for i, pk := range pubkeys {
		if id, ok := m.AccountIDs[pk]; ok {
			idCopy := id
			infos[i] = AccountInfo{AccountID: &idCopy}
		}
	}
	return infos, nil
}

var _ Client = (*MockClient)(nil)
