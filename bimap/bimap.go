// Package bimap implements a bidirectional map, used to translate between
// wire values and their human readable names in both directions.
package bimap

import (
	"errors"
	"sync"
)

var ErrImmutable = errors.New("Cannot modify immutable map")

// BiMap is a bidirectional map. Keys and values are both unique.
type BiMap[K comparable, V comparable] struct {
	lock      sync.RWMutex
	immutable bool
	forward   map[K]V
	inverse   map[V]K
}

// NewBiMap returns an empty, mutable bidirectional map
func NewBiMap[K comparable, V comparable]() *BiMap[K, V] {
	return &BiMap[K, V]{
		forward: make(map[K]V),
		inverse: make(map[V]K),
	}
}

// New builds an immutable map out of the given pairs
func New[K comparable, V comparable](pairs map[K]V) *BiMap[K, V] {
	b := NewBiMap[K, V]()
	for k, v := range pairs {
		b.Insert(k, v)
	}
	b.MakeImmutable()
	return b
}

// Insert puts a key and value into the map. An existing pairing of
// either side is replaced.
func (b *BiMap[K, V]) Insert(k K, v V) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.immutable {
		panic(ErrImmutable)
	}
	if old, ok := b.forward[k]; ok {
		delete(b.inverse, old)
	}
	if old, ok := b.inverse[v]; ok {
		delete(b.forward, old)
	}
	b.forward[k] = v
	b.inverse[v] = k
}

func (b *BiMap[K, V]) Exists(k K) bool {
	b.lock.RLock()
	defer b.lock.RUnlock()
	_, ok := b.forward[k]
	return ok
}

func (b *BiMap[K, V]) ExistsInverse(v V) bool {
	b.lock.RLock()
	defer b.lock.RUnlock()
	_, ok := b.inverse[v]
	return ok
}

// Get returns the value for the key
func (b *BiMap[K, V]) Get(k K) (V, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	v, ok := b.forward[k]
	return v, ok
}

// GetInverse returns the key for the value
func (b *BiMap[K, V]) GetInverse(v V) (K, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	k, ok := b.inverse[v]
	return k, ok
}

func (b *BiMap[K, V]) Delete(k K) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.immutable {
		panic(ErrImmutable)
	}
	if v, ok := b.forward[k]; ok {
		delete(b.forward, k)
		delete(b.inverse, v)
	}
}

func (b *BiMap[K, V]) DeleteInverse(v V) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.immutable {
		panic(ErrImmutable)
	}
	if k, ok := b.inverse[v]; ok {
		delete(b.inverse, v)
		delete(b.forward, k)
	}
}

func (b *BiMap[K, V]) Size() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.forward)
}

// MakeImmutable freezes the map. Any later mutation panics.
func (b *BiMap[K, V]) MakeImmutable() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.immutable = true
}

// GetForwardMap returns a copy of the key -> value map
func (b *BiMap[K, V]) GetForwardMap() map[K]V {
	b.lock.RLock()
	defer b.lock.RUnlock()
	m := make(map[K]V, len(b.forward))
	for k, v := range b.forward {
		m[k] = v
	}
	return m
}

// GetInverseMap returns a copy of the value -> key map
func (b *BiMap[K, V]) GetInverseMap() map[V]K {
	b.lock.RLock()
	defer b.lock.RUnlock()
	m := make(map[V]K, len(b.inverse))
	for v, k := range b.inverse {
		m[v] = k
	}
	return m
}
