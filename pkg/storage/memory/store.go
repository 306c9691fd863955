// Package memory is an in-process ChunkStore.
package memory

import (
	"context"
	"sync"

	"selfvault/pkg/storage"
	"selfvault/pkg/types"
)

type entry struct {
	data  []byte
	count int64
}

type Store struct {
	mu      sync.RWMutex
	entries map[types.Hash]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[types.Hash]*entry)}
}

func (s *Store) Get(ctx context.Context, hash types.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (s *Store) Store(ctx context.Context, hash types.Hash, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[hash]; ok {
		e.count++
		return nil
	}
	s.entries[hash] = &entry{data: append([]byte(nil), content...), count: 1}
	return nil
}

func (s *Store) Delete(ctx context.Context, hash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	if !ok {
		return storage.ErrNotFound
	}
	e.count--
	if e.count <= 0 {
		delete(s.entries, hash)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, hash types.Hash) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[hash]; ok {
		return e.count, nil
	}
	return 0, nil
}

func (s *Store) Has(ctx context.Context, hash types.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[hash]
	return ok, nil
}

// Len returns the number of distinct chunks held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Corrupt overwrites the stored bytes for hash. Used to exercise integrity checks.
func (s *Store) Corrupt(hash types.Hash, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	if ok {
		e.data = append([]byte(nil), data...)
	}
	return ok
}
