package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
)

// MemoryClaimStore keeps claim states in process. It backs tests and
// single-process deployments without Postgres.
type MemoryClaimStore struct {
	mu     sync.Mutex
	claims map[string]domain.ClaimState
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{claims: make(map[string]domain.ClaimState)}
}

func (m *MemoryClaimStore) Put(_ context.Context, st domain.ClaimState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[st.ID()] = st.Clone()
	return nil
}

func (m *MemoryClaimStore) Get(_ context.Context, claimID string) (domain.ClaimState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.claims[claimID]
	if !ok {
		return domain.ClaimState{}, false, nil
	}
	return st.Clone(), true, nil
}

func (m *MemoryClaimStore) Delete(_ context.Context, claimID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claims[claimID]
	delete(m.claims, claimID)
	return ok, nil
}

func (m *MemoryClaimStore) List(_ context.Context) ([]domain.ClaimState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ClaimState, 0, len(m.claims))
	for _, st := range m.claims {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.CreatedAt.Before(out[j].Record.CreatedAt)
	})
	return out, nil
}

type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (m *MemoryBlobStore) PutDocument(_ context.Context, documentID, filename string, content []byte) (string, error) {
	key := events.DocumentKey(documentID, filename)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), content...)
	return key, nil
}

func (m *MemoryBlobStore) GetDocument(_ context.Context, objectKey string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectKey)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobStore) PutIndex(_ context.Context, claimID string, body []byte) (string, error) {
	key := IndexKey(claimID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return key, nil
}
