package rollup

import (
	"context"
	"sync"

	"github.com/empower1/block-builder/internal/model"
)

// MockContract is an in-memory Contract used by tests and local
// development. It never talks to a real chain.
type MockContract struct {
	mu sync.Mutex

	RegistrationNonce    uint32
	NonRegistrationNonce uint32
	BlockNumber          uint32
	Penalty              uint64

	PostedRegistration    []model.BlockPostTask
	PostedNonRegistration []model.BlockPostTask
}

func NewMockContract() *MockContract { return &MockContract{} }

func (m *MockContract) PostRegistrationBlock(_ context.Context, task model.BlockPostTask, _ AggregatedSignature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostedRegistration = append(m.PostedRegistration, task)
	// Nonces start at 1; 0 only ever reports "none posted yet".
	if m.RegistrationNonce == 0 {
		m.RegistrationNonce = 1
	}
	m.RegistrationNonce++
	m.BlockNumber++
	return nil
}

func (m *MockContract) PostNonRegistrationBlock(_ context.Context, task model.BlockPostTask, _ AggregatedSignature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostedNonRegistration = append(m.PostedNonRegistration, task)
	if m.NonRegistrationNonce == 0 {
		m.NonRegistrationNonce = 1
	}
	m.NonRegistrationNonce++
	m.BlockNumber++
	return nil
}

func (m *MockContract) GetLatestBlockNumber(_ context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BlockNumber, nil
}

func (m *MockContract) GetPenalty(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Penalty, nil
}

func (m *MockContract) GetBlockBuilderNonce(_ context.Context, isRegistration bool) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isRegistration {
		return m.RegistrationNonce, nil
	}
	return m.NonRegistrationNonce, nil
}

var _ Contract = (*MockContract)(nil)

// MockRegistry records heartbeats without sending them anywhere.
type MockRegistry struct {
	mu         sync.Mutex
	Heartbeats []string
}

func NewMockRegistry() *MockRegistry { return &MockRegistry{} }

func (m *MockRegistry) EmitHeartBeat(_ context.Context, builderURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Heartbeats = append(m.Heartbeats, builderURL)
	return nil
}

var _ Registry = (*MockRegistry)(nil)
