package humidifier

import (
	"fmt"
	"reflect"
	"sync"
)

// Snapshot is the last-known device status keyed by property key.
type Snapshot map[string]any

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ChangeEvent describes one property value entering the snapshot.
// Outward is false for the first population of a key and true for every
// later differing value.
type ChangeEvent struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Outward bool   `json:"-"`
}

// StateDiffer owns the canonical snapshot and turns poll results into
// change events.
type StateDiffer struct {
	keys []string

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewStateDiffer creates a differ for the given ordered key set.
func NewStateDiffer(keys []string) *StateDiffer {
	k := make([]string, len(keys))
	copy(k, keys)
	return &StateDiffer{
		keys:     k,
		snapshot: make(Snapshot),
	}
}

// Keys returns the ordered key set.
func (d *StateDiffer) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Candidate zips values with the key set without touching the snapshot.
func (d *StateDiffer) Candidate(values []any) (Snapshot, error) {
	if len(values) != len(d.keys) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrValueCount, len(values), len(d.keys))
	}
	c := make(Snapshot, len(values))
	for i, k := range d.keys {
		c[k] = values[i]
	}
	return c, nil
}

// Apply merges one poll result into the snapshot and returns the resulting
// events in key order. Equal values produce nothing.
func (d *StateDiffer) Apply(values []any) ([]ChangeEvent, error) {
	if len(values) != len(d.keys) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrValueCount, len(values), len(d.keys))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var events []ChangeEvent
	for i, key := range d.keys {
		value := values[i]
		old, known := d.snapshot[key]
		switch {
		case !known:
			d.snapshot[key] = value
			events = append(events, ChangeEvent{Key: key, Value: value, Outward: false})
		case !valuesEqual(old, value):
			d.snapshot[key] = value
			events = append(events, ChangeEvent{Key: key, Value: value, Outward: true})
		}
	}
	return events, nil
}

// Snapshot returns a copy of the current snapshot.
func (d *StateDiffer) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot.Clone()
}

// Get returns one snapshot value.
func (d *StateDiffer) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.snapshot[key]
	return v, ok
}

// Len returns the number of keys currently known.
func (d *StateDiffer) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.snapshot)
}

// Reset empties the snapshot so the next poll repopulates silently.
func (d *StateDiffer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = make(Snapshot)
}

// valuesEqual is strict equality: no numeric/string coercion.
// Slices and maps (never comparable with ==) fall back to DeepEqual.
func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}
