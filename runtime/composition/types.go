package composition

import (
	"strconv"
	"strings"
)

// Handle is a module-local metadata token identifying a type or member.
type Handle int32

// String renders the handle as an 8-digit hex token.
func (h Handle) String() string {
	s := strconv.FormatUint(uint64(uint32(h)), 16)
	return "0x" + strings.Repeat("0", max(0, 8-len(s))) + s
}

// ModuleIdentity identifies the module that owns a type.
// Two identities are the same module when Name and Location match, regardless
// of which instance carries them.
type ModuleIdentity struct {
	Name     string // Display name, e.g. "Acme.Core, Version=1.0.0.0"
	Location string // Optional location hint; empty when unknown
}

// NewModuleIdentity creates a module identity.
func NewModuleIdentity(name, location string) *ModuleIdentity {
	return &ModuleIdentity{Name: name, Location: location}
}

// Equal reports whether both identities describe the same module.
func (m *ModuleIdentity) Equal(other *ModuleIdentity) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Name == other.Name && m.Location == other.Location
}

func (m *ModuleIdentity) String() string {
	if m == nil {
		return "<nil module>"
	}
	if m.Location == "" {
		return m.Name
	}
	return m.Name + " (" + m.Location + ")"
}

// TypeDescriptor identifies a type without loading it.
//
// GenericArgs may reach back to the descriptor itself (for example a type
// closed over its own declaring type). Such cycles are built during
// construction and are supported by Equal and by the cache codec.
type TypeDescriptor struct {
	Module       *ModuleIdentity   // Owning module
	Handle       Handle            // Module-local metadata token
	FullName     string            // Display name used in diagnostics
	IsArray      bool              // True for array types
	GenericArity int               // Number of generic type parameters
	GenericArgs  []*TypeDescriptor // Generic arguments; empty when not closed over any
}

// NewTypeDescriptor creates a non-generic, non-array type descriptor.
func NewTypeDescriptor(module *ModuleIdentity, handle Handle, fullName string) *TypeDescriptor {
	return &TypeDescriptor{Module: module, Handle: handle, FullName: fullName}
}

// IsGeneric reports whether the type declares generic parameters.
func (t *TypeDescriptor) IsGeneric() bool {
	return t != nil && t.GenericArity > 0
}

// Equal reports whether two descriptors match field by field, recursing into
// generic arguments. Cyclic descriptors compare equal when their shapes match.
func (t *TypeDescriptor) Equal(other *TypeDescriptor) bool {
	return newComparer().types(t, other)
}

// String renders the descriptor with its generic arguments. Cycles are
// rendered as "..." on revisit.
func (t *TypeDescriptor) String() string {
	var b strings.Builder
	writeTypeName(&b, t, map[*TypeDescriptor]bool{})
	return b.String()
}

func writeTypeName(b *strings.Builder, t *TypeDescriptor, seen map[*TypeDescriptor]bool) {
	if t == nil {
		b.WriteString("<nil type>")
		return
	}
	if seen[t] {
		b.WriteString("...")
		return
	}
	seen[t] = true
	defer delete(seen, t)

	name := t.FullName
	if name == "" {
		name = t.Handle.String()
	}
	b.WriteString(name)
	if len(t.GenericArgs) > 0 {
		b.WriteByte('[')
		for i, arg := range t.GenericArgs {
			if i > 0 {
				b.WriteString(", ")
			}
			writeTypeName(b, arg, seen)
		}
		b.WriteByte(']')
	}
	if t.IsArray {
		b.WriteString("[]")
	}
}
