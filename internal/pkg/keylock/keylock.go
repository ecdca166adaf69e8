/*
Package keylock provides mutual exclusion scoped to a string key.

It is used to serialize work on one room or one user without blocking work on
unrelated keys. Entries are reference counted and dropped when no goroutine holds
or waits for them, so the map does not grow with the number of keys ever seen.
*/
package keylock

import (
	"slices"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock hands out one mutex per key.
type KeyLock struct {
	// mu protects the entries map, not the keys themselves.
	mu sync.Mutex

	entries map[string]*entry
}

// New returns an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{entries: make(map[string]*entry)}
}

// Lock blocks until the lock for key is held and returns its release function.
func (k *KeyLock) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}

// LockAll locks every distinct key in ascending order and returns one release function.
// Goroutines that need several keys at once must use it so they agree on the order.
func (k *KeyLock) LockAll(keys ...string) (unlock func()) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, key := range sorted {
		unlocks = append(unlocks, k.Lock(key))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Len returns the number of keys currently held or awaited.
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.entries)
}
