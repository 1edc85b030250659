package composition

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Type is a loaded type handle. Hosting environments implement it; the cache
// only needs the descriptor back.
type Type interface {
	Descriptor() *TypeDescriptor
}

// Resolver turns a descriptor into a loaded type. Resolution may load the
// owning module, so it is only invoked when a consumer reads a type-valued
// metadata entry.
type Resolver interface {
	Resolve(t *TypeDescriptor) (Type, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(t *TypeDescriptor) (Type, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(t *TypeDescriptor) (Type, error) { return f(t) }

// ErrNoResolver is returned when a deferred type is read from metadata that has no resolver.
var ErrNoResolver = errors.New("composition: no resolver for deferred type")

// DeferredType is a type-valued metadata entry whose type has not been loaded yet.
type DeferredType struct {
	Desc *TypeDescriptor
}

// Descriptor implements Type.
func (d *DeferredType) Descriptor() *TypeDescriptor { return d.Desc }

func (d *DeferredType) String() string { return "deferred " + d.Desc.String() }

// MetadataArray is an array-valued metadata entry stamped with its element type.
type MetadataArray struct {
	ElementType *TypeDescriptor
	Items       []any
}

// UnresolvableValue stands in for an opaque metadata value that could not be
// materialized on load. Payload is kept verbatim so the value survives being
// written again.
type UnresolvableValue struct {
	Payload []byte
	Err     error
}

func (u *UnresolvableValue) String() string {
	return fmt.Sprintf("unresolvable metadata (%d bytes): %v", len(u.Payload), u.Err)
}

// MetadataEntry is one key/value pair of a Metadata mapping.
type MetadataEntry struct {
	Key   string
	Value any
}

// Metadata is an ordered, read-only string-keyed mapping attached to exports
// and imports.
//
// Values returned by Get and Range are resolved: every *DeferredType (also
// inside a *MetadataArray) is turned into a loaded Type through the resolver
// the first time its key is read, and the result is reused afterwards. Raw and
// Entries return the stored representation without resolving anything.
//
// A nil *Metadata is an empty mapping.
type Metadata struct {
	entries  []MetadataEntry
	index    map[string]int
	resolver Resolver

	mu       sync.Mutex
	resolved map[string]any
}

// NewMetadata creates metadata from a map. Keys are ordered lexically so the
// serialized form is deterministic.
func NewMetadata(values map[string]any) *Metadata {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]MetadataEntry, len(keys))
	for i, k := range keys {
		entries[i] = MetadataEntry{Key: k, Value: values[k]}
	}
	return NewLazyMetadata(entries, nil)
}

// NewLazyMetadata creates metadata that keeps entries in the given order and
// resolves deferred types through resolver. A later entry with a repeated key
// replaces the earlier value in place.
func NewLazyMetadata(entries []MetadataEntry, resolver Resolver) *Metadata {
	m := &Metadata{
		entries:  make([]MetadataEntry, 0, len(entries)),
		index:    make(map[string]int, len(entries)),
		resolver: resolver,
		resolved: make(map[string]any),
	}
	for _, e := range entries {
		if i, ok := m.index[e.Key]; ok {
			m.entries[i].Value = e.Value
			continue
		}
		m.index[e.Key] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return m
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns the keys in order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns the stored entries in order, without resolving.
func (m *Metadata) Entries() []MetadataEntry {
	if m == nil {
		return nil
	}
	out := make([]MetadataEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Raw returns the stored value for key without resolving it.
func (m *Metadata) Raw(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.entries[i].Value, true
}

// Get returns the resolved value for key.
func (m *Metadata) Get(key string) (any, bool, error) {
	raw, ok := m.Raw(key)
	if !ok {
		return nil, false, nil
	}
	v, err := m.resolve(key, raw)
	if err != nil {
		return nil, true, err
	}
	return v, true, nil
}

// Range calls fn with each resolved entry in order until fn returns false.
// It stops at the first resolution error.
func (m *Metadata) Range(fn func(key string, value any) bool) error {
	if m == nil {
		return nil
	}
	for _, e := range m.entries {
		v, err := m.resolve(e.Key, e.Value)
		if err != nil {
			return err
		}
		if !fn(e.Key, v) {
			return nil
		}
	}
	return nil
}

// Map returns all entries resolved into a plain map.
func (m *Metadata) Map() (map[string]any, error) {
	out := make(map[string]any, m.Len())
	err := m.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Metadata) resolve(key string, raw any) (any, error) {
	if !needsResolution(raw) {
		return raw, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.resolved[key]; ok {
		return v, nil
	}
	v, err := m.resolveValue(raw)
	if err != nil {
		return nil, fmt.Errorf("composition: metadata %q: %w", key, err)
	}
	m.resolved[key] = v
	return v, nil
}

func (m *Metadata) resolveValue(raw any) (any, error) {
	switch v := raw.(type) {
	case *DeferredType:
		if m.resolver == nil {
			return nil, ErrNoResolver
		}
		t, err := m.resolver.Resolve(v.Desc)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", v.Desc, err)
		}
		return t, nil
	case *MetadataArray:
		items := make([]any, len(v.Items))
		for i, item := range v.Items {
			r, err := m.resolveValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = r
		}
		return &MetadataArray{ElementType: v.ElementType, Items: items}, nil
	default:
		return raw, nil
	}
}

func needsResolution(v any) bool {
	switch v := v.(type) {
	case *DeferredType:
		return true
	case *MetadataArray:
		for _, item := range v.Items {
			if needsResolution(item) {
				return true
			}
		}
	}
	return false
}
