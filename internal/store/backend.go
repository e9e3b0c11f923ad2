package store

import (
	"sort"
	"sync"
)

// Backend is the raw string key/value storage a Store writes to. One
// backend is scoped to one browser tab and never outlives it.
type Backend interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string)
	RemoveItem(key string)
	Keys() []string
}

// MemoryBackend is an in-memory Backend. It is safe for concurrent use.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]string)}
}

func (b *MemoryBackend) GetItem(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.items[key]
	return v, ok
}

func (b *MemoryBackend) SetItem(key, value string) {
	b.mu.Lock()
	b.items[key] = value
	b.mu.Unlock()
}

func (b *MemoryBackend) RemoveItem(key string) {
	b.mu.Lock()
	delete(b.items, key)
	b.mu.Unlock()
}

// Keys returns all keys in lexical order.
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.items))
	for k := range b.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored items, namespaced or not.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}
