package order

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests and the demo wiring.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewMemoryStore builds an empty in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]Order)}
}

// Put inserts or replaces an order snapshot.
func (s *MemoryStore) Put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Meta == nil {
		o.Meta = make(map[string]string)
	}
	s.orders[o.ID] = o
}

func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	meta := make(map[string]string, len(o.Meta))
	for k, v := range o.Meta {
		meta[k] = v
	}
	o.Meta = meta
	return o, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	s.orders[id] = o
	return nil
}

func (s *MemoryStore) SetMeta(_ context.Context, id, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Meta == nil {
		o.Meta = make(map[string]string)
	}
	o.Meta[key] = value
	s.orders[id] = o
	return nil
}

func (s *MemoryStore) DeleteMeta(_ context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	delete(o.Meta, key)
	s.orders[id] = o
	return nil
}
