// Package settings holds per-plugin configuration.
//
// A Store is a flat mapping of option name to value. Update merges a patch
// shallowly: keys in the patch overwrite stored values, other keys are left
// alone, and nothing is validated. Update reports which keys actually
// changed so owners can restart timers only when a relevant field moved.
// Malformed values surface when a typed reader consumes them.
package settings

import (
	"reflect"
	"sort"
	"sync"
)

// Map is a set of option values keyed by option name.
type Map map[string]any

// Clone returns a shallow copy of m. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Change describes a single key whose value moved during an Update.
type Change struct {
	Key string
	Old any
	New any
	// Added is true when the key was absent before the update.
	Added bool
	// Removed is true when a Restore dropped the key.
	Removed bool
}

// Changes is the field-level diff produced by Store.Update.
type Changes map[string]Change

// Has reports whether any of the keys changed.
func (c Changes) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := c[k]; ok {
			return true
		}
	}
	return false
}

// Any reports whether anything changed.
func (c Changes) Any() bool { return len(c) > 0 }

// Keys returns the changed keys in sorted order.
func (c Changes) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Store is a concurrency-safe settings map with change notification.
type Store struct {
	mu       sync.RWMutex
	values   Map
	notifier *Notifier
}

// NewStore creates a store seeded with a copy of defaults.
func NewStore(defaults Map) *Store {
	return &Store{
		values:   defaults.Clone(),
		notifier: NewNotifier(),
	}
}

// Get returns a snapshot of the current values. Mutating the snapshot does
// not affect the store.
func (s *Store) Get() Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.Clone()
}

// Value returns the raw value for key.
func (s *Store) Value(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Update merges patch into the store and returns the keys that changed.
// Observers are notified after the store lock is released.
func (s *Store) Update(patch Map) Changes {
	s.mu.Lock()
	changes := make(Changes)
	for k, v := range patch {
		old, existed := s.values[k]
		if existed && Equal(old, v) {
			continue
		}
		s.values[k] = v
		changes[k] = Change{Key: k, Old: old, New: v, Added: !existed}
	}
	s.mu.Unlock()

	if changes.Any() {
		s.notifier.notify(changes)
	}
	return changes
}

// Restore replaces every value with a copy of snapshot and notifies
// observers of the keys it moved. It is used to roll back an update whose
// consequences failed.
func (s *Store) Restore(snapshot Map) Changes {
	s.mu.Lock()
	changes := make(Changes)
	for k, v := range snapshot {
		old, existed := s.values[k]
		if existed && Equal(old, v) {
			continue
		}
		changes[k] = Change{Key: k, Old: old, New: v, Added: !existed}
	}
	for k, old := range s.values {
		if _, ok := snapshot[k]; !ok {
			changes[k] = Change{Key: k, Old: old, Removed: true}
		}
	}
	s.values = snapshot.Clone()
	s.mu.Unlock()

	if changes.Any() {
		s.notifier.notify(changes)
	}
	return changes
}

// Subscribe registers fn for changes to any of keys, or to every change when
// no keys are given. The returned function removes the subscription.
func (s *Store) Subscribe(fn Observer, keys ...string) func() {
	return s.notifier.subscribe(fn, keys)
}

// Equal compares option values, treating numbers of different Go types as
// equal when they hold the same value (TOML and JSON decoders disagree on
// int64 versus float64).
func Equal(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}
