package storevault

import (
	"context"
	"errors"
	"sync"

	"github.com/empower1/block-builder/internal/model"
)

var ErrProofAlreadyConsumed = errors.New("storevault: fee proof already consumed")

// MockClient is an in-memory Client for tests: every proof validates
// successfully unless a proof with the same payload bytes has already
// been consumed.
type MockClient struct {
	mu        sync.Mutex
	consumed  map[string]bool
}

func NewMockClient() *MockClient {
	return &MockClient{consumed: make(map[string]bool)}
}

func keyOf(proof *model.FeeProof) string {
	return string(proof.Payload)
}

func (m *MockClient) ValidateFeeProof(_ context.Context, proof *model.FeeProof, _ model.PubKey, _ model.PubKey) error {
	if proof == nil {
		return errors.New("storevault: nil fee proof")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumed[keyOf(proof)] {
		return ErrProofAlreadyConsumed
	}
	return nil
}

func (m *MockClient) ConsumeFeeProof(_ context.Context, proof *model.FeeProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed[keyOf(proof)] = true
	return nil
}

var _ Client = (*MockClient)(nil)
