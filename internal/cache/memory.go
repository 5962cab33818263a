package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// MemoryCache is a Tier backed by a thread-safe LRU
type MemoryCache[V any] struct {
	name string
	lru  *lru.Cache[string, V]
}

// NewMemory creates an LRU tier holding at most size entries
func NewMemory[V any](name string, size int) (*MemoryCache[V], error) {
	l, err := lru.NewWithEvict[string, V](size, func(key string, _ V) {
		logrus.Tracef("Evicted %s from %s tier", key, name)
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s tier: %w", name, err)
	}
	return &MemoryCache[V]{name: name, lru: l}, nil
}

func (m *MemoryCache[V]) Get(key string) (V, bool) {
	return m.lru.Get(key)
}

func (m *MemoryCache[V]) Set(key string, value V) {
	m.lru.Add(key, value)
}

// Clear drops all entries
func (m *MemoryCache[V]) Clear() {
	n := m.lru.Len()
	m.lru.Purge()
	logrus.Debugf("Cleared %s tier (%d entries)", m.name, n)
}

func (m *MemoryCache[V]) Len() int {
	return m.lru.Len()
}

func (m *MemoryCache[V]) Name() string {
	return m.name
}
