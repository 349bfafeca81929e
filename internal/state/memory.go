package state

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory with lazy expiry. Entries keep
// insertion order; when a positive bound is set, the oldest entries are
// evicted first. Suited to single-node deployments and tests.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int

	now func() time.Time
}

type memoryEntry struct {
	id        string
	record    *StoredResponse
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore returns an in-memory store. maxEntries 0 leaves the store
// unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the record for id, expiring it lazily if its TTL has passed.
func (s *MemoryStore) Get(_ context.Context, id string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	entry := element.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.remove(element)
		return nil, ErrNotFound
	}
	return entry.record, nil
}

// Set stores the record, refreshing its position in the eviction order.
func (s *MemoryStore) Set(_ context.Context, id string, record *StoredResponse, ttlSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = s.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if element, ok := s.entries[id]; ok {
		entry := element.Value.(*memoryEntry)
		entry.record = record
		entry.expiresAt = expiresAt
		s.order.MoveToBack(element)
		return nil
	}

	element := s.order.PushBack(&memoryEntry{id: id, record: record, expiresAt: expiresAt})
	s.entries[id] = element

	if s.maxEntries > 0 {
		for len(s.entries) > s.maxEntries {
			s.remove(s.order.Front())
		}
	}
	return nil
}

// Delete removes the record and reports whether it was present.
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	s.remove(element)
	return true, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

// Len reports the number of live entries, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) remove(element *list.Element) {
	entry := element.Value.(*memoryEntry)
	delete(s.entries, entry.id)
	s.order.Remove(element)
}
