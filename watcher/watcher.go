// Package watcher represents a cache of rendered device values, keyed by name.
// Can fire events if a watched value changes
package watcher

import (
	"errors"
	"sync"
)

// Watcher caches the last published value of each key and fires callbacks on change
type Watcher struct {
	state     map[string]string           // current view of the published values
	callbacks map[string]func(key string) // set of callbacks
	lock      *sync.RWMutex
}

var ErrUnknownKey = errors.New("Unknown key")
var ErrUninitialized = errors.New("State uninitialized. Call Update() first.")

// New returns a new Watcher instance
func New() *Watcher {
	return &Watcher{
		callbacks: make(map[string]func(key string)),
		lock:      &sync.RWMutex{},
	}
}

// RegisterCallback registers a new callback that will be fired when the value of key changes
func (w *Watcher) RegisterCallback(key string, callback func(key string)) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.callbacks[key] = callback
}

// Update merges the new values into the cache. Callbacks fire for every key whose
// value changed, or for every supplied key on the first update after New or Reset.
func (w *Watcher) Update(values map[string]string) {
	w.lock.Lock()
	first := w.state == nil
	if first {
		w.state = make(map[string]string, len(values))
	}
	var changed []string
	for key, value := range values {
		old, ok := w.state[key]
		w.state[key] = value
		if first || !ok || old != value {
			if w.callbacks[key] != nil {
				changed = append(changed, key)
			}
		}
	}
	w.lock.Unlock()

	for _, key := range changed {
		w.lock.RLock()
		callback := w.callbacks[key]
		w.lock.RUnlock()
		callback(key)
	}
}

// Read returns one value from the cache
func (w *Watcher) Read(key string) (string, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()
	if w.state == nil {
		return "", ErrUninitialized
	}
	value, ok := w.state[key]
	if !ok {
		return "", ErrUnknownKey
	}
	return value, nil
}

// Reset forgets the cached values so the next Update fires every callback
func (w *Watcher) Reset() {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.state = nil
}
