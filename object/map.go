package object

import (
	"strings"

	"github.com/dolthub/swiss"
)

// mapEntry is what Map actually stores per key: the original (un-normalized)
// key Object alongside its value, so Inspect/keys/entries can display the
// exact key the program used rather than the internal mapKey form.
type mapEntry struct {
	Key   Object
	Value Object
}

// Map is an insertion-ordered mapping from a hashable value to any value,
// shared by reference. Lookups are backed by a swiss-table hash map for
// O(1) average get/set/delete; iteration order is tracked separately in
// order, since swiss.Map itself has no ordering guarantee.
type Map struct {
	table *swiss.Map[mapKey, *mapEntry]
	order []mapKey
}

// NewMap creates an empty Map sized for an expected number of entries.
func NewMap(sizeHint int) *Map {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Map{table: swiss.NewMap[mapKey, *mapEntry](uint32(sizeHint))}
}

func (m *Map) Type() Type { return MAP_OBJ }

func (m *Map) Inspect() string {
	parts := make([]string, 0, len(m.order))
	for _, k := range m.order {
		e, _ := m.table.Get(k)
		parts = append(parts, e.Key.Inspect()+": "+e.Value.Inspect())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Len reports the number of entries.
func (m *Map) Len() int { return int(m.table.Count()) }

// Get returns the value stored under key, and whether it was present.
func (m *Map) Get(key Object) (Object, bool, error) {
	k, err := keyFor(key)
	if err != nil {
		return nil, false, err
	}
	e, ok := m.table.Get(k)
	if !ok {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (m *Map) getByKey(k mapKey) (*mapEntry, bool) {
	return m.table.Get(k)
}

// Set stores value under key, preserving the position of an existing key
// or appending a new one at the end of iteration order.
func (m *Map) Set(key, value Object) error {
	k, err := keyFor(key)
	if err != nil {
		return err
	}
	if _, existed := m.table.Get(k); !existed {
		m.order = append(m.order, k)
	}
	m.table.Put(k, &mapEntry{Key: key, Value: value})
	return nil
}

// Delete removes key, reporting whether it was present.
func (m *Map) Delete(key Object) (bool, error) {
	k, err := keyFor(key)
	if err != nil {
		return false, err
	}
	if _, ok := m.table.Get(k); !ok {
		return false, nil
	}
	m.table.Delete(k)
	for i, existing := range m.order {
		if existing == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Has reports whether key is present.
func (m *Map) Has(key Object) (bool, error) {
	k, err := keyFor(key)
	if err != nil {
		return false, err
	}
	_, ok := m.table.Get(k)
	return ok, nil
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []Object {
	out := make([]Object, len(m.order))
	for i, k := range m.order {
		e, _ := m.table.Get(k)
		out[i] = e.Key
	}
	return out
}

// Values returns the values in insertion order.
func (m *Map) Values() []Object {
	out := make([]Object, len(m.order))
	for i, k := range m.order {
		e, _ := m.table.Get(k)
		out[i] = e.Value
	}
	return out
}

// Entries returns the (key, value) pairs in insertion order.
func (m *Map) Entries() [][2]Object {
	out := make([][2]Object, len(m.order))
	for i, k := range m.order {
		e, _ := m.table.Get(k)
		out[i] = [2]Object{e.Key, e.Value}
	}
	return out
}

// Each calls fn for every (key, value) pair in insertion order, stopping
// early if fn returns an error.
func (m *Map) Each(fn func(key, value Object) error) error {
	for _, k := range m.order {
		e, _ := m.table.Get(k)
		if err := fn(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}
