// Package cache holds the stats.Store implementations backed by process memory and Redis.
package cache

import (
	"context"
	"slices"
	"sync"

	"github.com/glup3/ghstats/internal/stats"
)

type memoryEntry struct {
	pages  []stats.PageEntry
	data   map[string][]stats.RepoRecord
	result stats.Result
}

// MemoryStore keeps snapshots in a map. It is safe for concurrent use and loses
// everything on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) PageList(_ context.Context, key stats.Key) ([]stats.PageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key.String()]
	if !ok {
		return nil, nil
	}
	return slices.Clone(entry.pages), nil
}

func (s *MemoryStore) PageData(_ context.Context, key stats.Key, etag string) ([]stats.RepoRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key.String()]
	if !ok {
		return nil, false, nil
	}
	repos, ok := entry.data[etag]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(repos), true, nil
}

func (s *MemoryStore) Aggregate(_ context.Context, key stats.Key) (*stats.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key.String()]
	if !ok {
		return nil, nil
	}
	result := entry.result
	result.Languages = slices.Clone(entry.result.Languages)
	return &result, nil
}

func (s *MemoryStore) Commit(_ context.Context, key stats.Key, snapshot stats.Snapshot) error {
	data := make(map[string][]stats.RepoRecord, len(snapshot.Data))
	for etag, repos := range snapshot.Data {
		data[etag] = slices.Clone(repos)
	}

	result := snapshot.Result
	result.Languages = slices.Clone(snapshot.Result.Languages)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key.String()] = memoryEntry{
		pages:  slices.Clone(snapshot.Pages),
		data:   data,
		result: result,
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
