package cache

import (
	"context"

	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
	"github.com/raaihank/pmo-sentinel/internal/store"
)

// CachedStore is a read-through cache in front of a store.Store.
// Writes go to the store and invalidate the project's snapshot. The
// snapshot version is read before the store so a load that races a write
// is not cached.
type CachedStore struct {
	store.Store
	cache ProjectCache
}

// NewCachedStore wraps s with c
func NewCachedStore(s store.Store, c ProjectCache) *CachedStore {
	return &CachedStore{Store: s, cache: c}
}

// ListEntries serves entries from the cache, loading them on a miss
func (s *CachedStore) ListEntries(ctx context.Context, project string) ([]privacy.Entry, error) {
	if entries, ok := s.cache.GetEntries(ctx, project); ok {
		return entries, nil
	}
	version, cacheable := s.cache.Version(ctx, project, KindEntries)
	entries, err := s.Store.ListEntries(ctx, project)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cache.SetEntries(ctx, project, version, entries)
	}
	return entries, nil
}

// CreateEntry stores the entry and invalidates the project's entries
func (s *CachedStore) CreateEntry(ctx context.Context, project, original string, entryType privacy.EntryType) (privacy.Entry, error) {
	defer s.cache.Invalidate(ctx, project, KindEntries)
	return s.Store.CreateEntry(ctx, project, original, entryType)
}

// CreateEntries stores a batch and invalidates the project's entries
func (s *CachedStore) CreateEntries(ctx context.Context, project string, items []store.NewEntry) (*store.BatchResult, error) {
	defer s.cache.Invalidate(ctx, project, KindEntries)
	return s.Store.CreateEntries(ctx, project, items)
}

// DeleteEntry deletes the entry and invalidates the project's entries
func (s *CachedStore) DeleteEntry(ctx context.Context, project, code string) error {
	defer s.cache.Invalidate(ctx, project, KindEntries)
	return s.Store.DeleteEntry(ctx, project, code)
}

// ListMemory serves memory from the cache, loading it on a miss
func (s *CachedStore) ListMemory(ctx context.Context, project string) ([]memory.Entry, error) {
	if entries, ok := s.cache.GetMemory(ctx, project); ok {
		return entries, nil
	}
	version, cacheable := s.cache.Version(ctx, project, KindMemory)
	entries, err := s.Store.ListMemory(ctx, project)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cache.SetMemory(ctx, project, version, entries)
	}
	return entries, nil
}

// UpsertMemory stores the record and invalidates the project's memory
func (s *CachedStore) UpsertMemory(ctx context.Context, project string, entry memory.Entry) error {
	defer s.cache.Invalidate(ctx, project, KindMemory)
	return s.Store.UpsertMemory(ctx, project, entry)
}

// DeleteMemory deletes the record and invalidates the project's memory
func (s *CachedStore) DeleteMemory(ctx context.Context, project string, memoryType memory.Type, key string) error {
	defer s.cache.Invalidate(ctx, project, KindMemory)
	return s.Store.DeleteMemory(ctx, project, memoryType, key)
}
