package trace

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore is a bounded LRU of trace records with per-record TTL and a
// response-id index kept consistent under eviction and overwrite.
type MemoryStore struct {
	mu                sync.Mutex
	maxEntries        int
	entries           map[string]*list.Element // request id -> element
	order             *list.List               // front = least recently used
	responseToRequest map[string]string

	now func() time.Time
}

type traceEntry struct {
	record    *Record
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore returns an LRU trace store holding at most maxEntries
// records; values below 1 are clamped to 1.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &MemoryStore{
		maxEntries:        maxEntries,
		entries:           make(map[string]*list.Element),
		order:             list.New(),
		responseToRequest: make(map[string]string),
		now:               time.Now,
	}
}

// GetByRequestID returns the record for a request id and marks it recently
// used.
func (s *MemoryStore) GetByRequestID(_ context.Context, requestID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired()

	element, ok := s.entries[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	entry := element.Value.(*traceEntry)
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.evict(element)
		return nil, ErrNotFound
	}
	s.order.MoveToBack(element)
	return entry.record, nil
}

// GetByResponseID resolves the response-id index, then the record.
func (s *MemoryStore) GetByResponseID(ctx context.Context, responseID string) (*Record, error) {
	s.mu.Lock()
	requestID, ok := s.responseToRequest[responseID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetByRequestID(ctx, requestID)
}

// Set stores the record under its request id, updating the response index
// and evicting the least recently used records past the bound.
func (s *MemoryStore) Set(_ context.Context, record *Record, ttlSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpired()

	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = s.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if element, ok := s.entries[record.RequestID]; ok {
		entry := element.Value.(*traceEntry)
		if old := entry.record.ResponseID; old != "" && old != record.ResponseID {
			delete(s.responseToRequest, old)
		}
		entry.record = record
		entry.expiresAt = expiresAt
		s.order.MoveToBack(element)
	} else {
		element := s.order.PushBack(&traceEntry{record: record, expiresAt: expiresAt})
		s.entries[record.RequestID] = element
	}

	if record.ResponseID != "" {
		s.responseToRequest[record.ResponseID] = record.RequestID
	}

	for len(s.entries) > s.maxEntries {
		s.evict(s.order.Front())
	}
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) purgeExpired() {
	if len(s.entries) == 0 {
		return
	}
	now := s.now()
	var expired []*list.Element
	for element := s.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*traceEntry)
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			expired = append(expired, element)
		}
	}
	for _, element := range expired {
		s.evict(element)
	}
}

func (s *MemoryStore) evict(element *list.Element) {
	entry := element.Value.(*traceEntry)
	delete(s.entries, entry.record.RequestID)
	if entry.record.ResponseID != "" {
		delete(s.responseToRequest, entry.record.ResponseID)
	}
	s.order.Remove(element)
}
