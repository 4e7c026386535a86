package undolog

import (
	"context"
	"sync"
)

// InMemoryStore implementa Store em memória, para testes e execução local.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]OrderSnapshot
}

// NewInMemoryStore cria um undo log em memória.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string]OrderSnapshot)}
}

func (s *InMemoryStore) Put(ctx context.Context, transactionID string, snapshot OrderSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[transactionID] = snapshot
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, transactionID string) (OrderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[transactionID]
	if !ok {
		return OrderSnapshot{}, ErrSnapshotNotFound
	}
	return snapshot, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, transactionID)
	return nil
}
