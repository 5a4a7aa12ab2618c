package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/studyrent/internal/common"
)

type blob struct {
	data        []byte
	contentType string
}

// MemoryStore is a BlobStore kept in process memory. URLs it hands out use
// the memory:// scheme and are not fetchable.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]blob)}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = blob{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *MemoryStore) PresignPut(_ context.Context, key string) (string, error) {
	return "memory://" + key + "?op=put", nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.blobs[key]; !ok {
		return "", fmt.Errorf("object %s: %w", key, common.ErrorNotFound)
	}
	return "memory://" + key, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Get returns a stored object.
func (m *MemoryStore) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	return b.data, b.contentType, ok
}
