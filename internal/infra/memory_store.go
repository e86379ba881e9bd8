package infra

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

const changeBufferSize = 256

// MemoryStore implements domain.Store in process memory.
// Values are stored JSON-encoded so callers never share mutable state with it.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	changes chan domain.StoreChange
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string][]byte),
		changes: make(chan domain.StoreChange, changeBufferSize),
	}
}

// Get decodes the value under key into dst.
func (s *MemoryStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, domain.ErrStoreClosed
	}
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

// Set stores value under key and publishes a change.
func (s *MemoryStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	s.data[key] = raw
	publish(s.changes, domain.StoreChange{Key: key})
	return nil
}

// Changes returns the change-notification stream.
func (s *MemoryStore) Changes() <-chan domain.StoreChange {
	return s.changes
}

// Close closes the change stream.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.changes)
	}
	return nil
}

// publish never blocks the writer; a full buffer drops the notification.
func publish(ch chan domain.StoreChange, change domain.StoreChange) {
	select {
	case ch <- change:
	default:
	}
}

// Ensure MemoryStore implements domain.Store.
var _ domain.Store = (*MemoryStore)(nil)
