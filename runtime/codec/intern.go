package codec

import (
	"fmt"

	"github.com/conduit-lang/compcache/runtime/composition"
)

// moduleKey interns module identities by content, so independently built
// identities for the same module collapse to one entry.
type moduleKey struct {
	name     string
	location string
}

func internKey(v any) any {
	if m, ok := v.(*composition.ModuleIdentity); ok {
		return moduleKey{name: m.Name, location: m.Location}
	}
	return v
}

// writeTable assigns IDs to objects in first-sight order, starting at 1.
// Strings and module identities are keyed by value; descriptors and exports
// by pointer.
type writeTable struct {
	ids  map[any]uint32
	refs int
}

func newWriteTable() *writeTable {
	return &writeTable{ids: make(map[any]uint32)}
}

// intern returns the ID for v and whether this is its first occurrence.
func (t *writeTable) intern(v any) (uint32, bool) {
	key := internKey(v)
	if id, ok := t.ids[key]; ok {
		t.refs++
		return id, false
	}
	id := uint32(len(t.ids) + 1)
	t.ids[key] = id
	return id, true
}

func (t *writeTable) len() int { return len(t.ids) }

// readTable maps IDs back to the objects registered for them. IDs must arrive
// in the same first-sight order the writer assigned them.
type readTable struct {
	values []any
	refs   int
}

func newReadTable() *readTable {
	return &readTable{}
}

// lookup classifies id: 0 is absent, a known ID returns its object, and the
// next unassigned ID is new (the caller reads the body and registers it).
func (t *readTable) lookup(id uint32) (existing any, isNew bool, err error) {
	switch {
	case id == 0:
		return nil, false, nil
	case int(id) <= len(t.values):
		t.refs++
		return t.values[id-1], false, nil
	case int(id) == len(t.values)+1:
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("%w: reference %d out of sequence (next is %d)", ErrCorrupt, id, len(t.values)+1)
	}
}

// register binds the object for a new ID. It must be called before the body
// is decoded, so references from inside the body resolve to the same object.
func (t *readTable) register(id uint32, v any) error {
	if int(id) != len(t.values)+1 {
		return fmt.Errorf("%w: register %d out of sequence", ErrCorrupt, id)
	}
	t.values = append(t.values, v)
	return nil
}

func (t *readTable) len() int { return len(t.values) }
