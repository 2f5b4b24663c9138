// Package memory keeps storage objects in-memory for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/modian-insight/internal/storage"
)

// BlobStore stores objects in a map keyed by cleaned key.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.Backend = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Read returns a copy of the stored bytes.
func (s *BlobStore) Read(_ context.Context, key string) ([]byte, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[cleaned]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data.
func (s *BlobStore) Write(_ context.Context, key string, data []byte) error {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cleaned] = append([]byte(nil), data...)
	return nil
}

// Delete drops the key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, cleaned)
	return nil
}

// Size returns the stored length.
func (s *BlobStore) Size(_ context.Context, key string) (int64, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[cleaned]
	if !ok {
		return 0, storage.ErrNotExist
	}
	return int64(len(data)), nil
}

// List returns the keys under prefix.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	if prefix != "" {
		cleaned, err := storage.CleanKey(prefix)
		if err != nil {
			return nil, err
		}
		prefix = cleaned + "/"
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
