package ledger

import (
	"context"
	"sync"
)

// MemoryPersister is an in-process Persister. It keeps the encoded document
// so every Load goes through the same decode path as durable backends.
// It is primarily useful for tests and for deployments that do not need the
// ledger to survive restarts.
type MemoryPersister struct {
	mu    sync.Mutex
	doc   []byte
	saves int
}

// NewMemoryPersister returns an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

// Load implements Persister.
func (m *MemoryPersister) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, ErrNoSnapshot
	}
	return DecodeSnapshot(m.doc)
}

// Save implements Persister.
func (m *MemoryPersister) Save(_ context.Context, s Snapshot) error {
	doc, err := EncodeSnapshot(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc
	m.saves++
	return nil
}

// Saves returns how many snapshots have been written.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
