package nonce

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type category struct {
	mu       sync.RWMutex
	next     uint32
	reserved map[uint32]struct{}
}

func newCategory() *category {
	return &category{reserved: make(map[uint32]struct{})}
}

// InMemoryManager is a single-process Manager realization backed by plain
// maps. It is not safe to share across processes; use RedisManager for that.
type InMemoryManager struct {
	rollup           OnchainSource
	log              *zap.SugaredLogger
	registration     *category
	nonRegistration  *category
}

func NewInMemoryManager(rollup OnchainSource, log *zap.SugaredLogger) *InMemoryManager {
	return &InMemoryManager{
		rollup:          rollup,
		log:             log.Named("nonce.memory"),
		registration:    newCategory(),
		nonRegistration: newCategory(),
	}
}

func (m *InMemoryManager) categoryFor(isRegistration bool) *category {
	if isRegistration {
		return m.registration
	}
	return m.nonRegistration
}

func (m *InMemoryManager) syncOnchain(ctx context.Context) error {
	onchainReg, err := m.rollup.GetBlockBuilderNonce(ctx, true)
	if err != nil {
		return err
	}
	onchainNonReg, err := m.rollup.GetBlockBuilderNonce(ctx, false)
	if err != nil {
		return err
	}
	m.syncCategory(m.registration, normalizeOnchainNext(onchainReg))
	m.syncCategory(m.nonRegistration, normalizeOnchainNext(onchainNonReg))
	return nil
}

func (m *InMemoryManager) syncCategory(c *category, onchainNext uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if onchainNext > c.next {
		c.next = onchainNext
	}
	for n := range c.reserved {
		if n < onchainNext {
			delete(c.reserved, n)
		}
	}
}

func (m *InMemoryManager) ReserveNonce(ctx context.Context, isRegistration bool) (uint32, error) {
	if err := m.syncOnchain(ctx); err != nil {
		return 0, err
	}

	c := m.categoryFor(isRegistration)
	c.mu.Lock()
	nonce := c.next
	c.next++
	c.reserved[nonce] = struct{}{}
	c.mu.Unlock()

	m.log.Debugw("reserved nonce", "nonce", nonce, "is_registration", isRegistration)
	return nonce, nil
}

func (m *InMemoryManager) ReleaseNonce(_ context.Context, n uint32, isRegistration bool) error {
	c := m.categoryFor(isRegistration)
	c.mu.Lock()
	delete(c.reserved, n)
	c.mu.Unlock()
	return nil
}

func (m *InMemoryManager) SmallestReservedNonce(_ context.Context, isRegistration bool) (uint32, error) {
	c := m.categoryFor(isRegistration)
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.reserved) == 0 {
		return 0, ErrNotFound
	}
	nonces := make([]uint32, 0, len(c.reserved))
	for n := range c.reserved {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	return nonces[0], nil
}

var _ Manager = (*InMemoryManager)(nil)
