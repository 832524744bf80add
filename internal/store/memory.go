package store

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend keeps documents in a map. Used by tests and dry runs.
type MemoryBackend struct {
	docs map[Name][]byte
	mu   sync.RWMutex
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[Name][]byte)}
}

func (b *MemoryBackend) Read(_ context.Context, name Name) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (b *MemoryBackend) Write(_ context.Context, name Name, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[name] = slices.Clone(data)
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
