package composition

import (
	"errors"
	"fmt"
)

// MemberKind discriminates the MemberDescriptor variants.
type MemberKind byte

const (
	MemberNone MemberKind = iota
	MemberConstructor
	MemberField
	MemberProperty
	MemberMethod
)

func (k MemberKind) String() string {
	switch k {
	case MemberNone:
		return "none"
	case MemberConstructor:
		return "constructor"
	case MemberField:
		return "field"
	case MemberProperty:
		return "property"
	case MemberMethod:
		return "method"
	default:
		return fmt.Sprintf("MemberKind(%d)", byte(k))
	}
}

// MemberDescriptor is a constructor, field, property or method of a declaring
// type. A nil MemberDescriptor means "no member".
//
// The set of implementations is closed: *ConstructorDescriptor,
// *FieldDescriptor, *PropertyDescriptor and *MethodDescriptor.
type MemberDescriptor interface {
	Kind() MemberKind
	Declaring() *TypeDescriptor
	Token() Handle
	isMember()
}

// ConstructorDescriptor identifies a constructor.
type ConstructorDescriptor struct {
	DeclaringType *TypeDescriptor
	Handle        Handle
}

func (c *ConstructorDescriptor) Kind() MemberKind           { return MemberConstructor }
func (c *ConstructorDescriptor) Declaring() *TypeDescriptor { return c.DeclaringType }
func (c *ConstructorDescriptor) Token() Handle              { return c.Handle }
func (*ConstructorDescriptor) isMember()                    {}

// FieldDescriptor identifies a field.
type FieldDescriptor struct {
	DeclaringType *TypeDescriptor
	Handle        Handle
}

func (f *FieldDescriptor) Kind() MemberKind           { return MemberField }
func (f *FieldDescriptor) Declaring() *TypeDescriptor { return f.DeclaringType }
func (f *FieldDescriptor) Token() Handle              { return f.Handle }
func (*FieldDescriptor) isMember()                    {}

// PropertyDescriptor identifies a property and its optional accessors.
type PropertyDescriptor struct {
	DeclaringType *TypeDescriptor
	Handle        Handle
	Getter        *Handle // Nil when the property has no getter
	Setter        *Handle // Nil when the property has no setter
}

func (p *PropertyDescriptor) Kind() MemberKind           { return MemberProperty }
func (p *PropertyDescriptor) Declaring() *TypeDescriptor { return p.DeclaringType }
func (p *PropertyDescriptor) Token() Handle              { return p.Handle }
func (*PropertyDescriptor) isMember()                    {}

// MethodDescriptor identifies a method, optionally closed over generic method
// arguments.
type MethodDescriptor struct {
	DeclaringType *TypeDescriptor
	Handle        Handle
	GenericArgs   []*TypeDescriptor
}

func (m *MethodDescriptor) Kind() MemberKind           { return MemberMethod }
func (m *MethodDescriptor) Declaring() *TypeDescriptor { return m.DeclaringType }
func (m *MethodDescriptor) Token() Handle              { return m.Handle }
func (*MethodDescriptor) isMember()                    {}

// HandleRef returns a pointer to h, for optional property accessors.
func HandleRef(h Handle) *Handle { return &h }

// ParameterDescriptor identifies a parameter of a method or constructor.
// A nil *ParameterDescriptor is the empty parameter.
type ParameterDescriptor struct {
	Module *ModuleIdentity // Module declaring the method
	Method Handle          // Metadata token of the method
	Index  int             // Zero-based parameter position
}

// Equal reports whether both parameters refer to the same position of the same method.
func (p *ParameterDescriptor) Equal(other *ParameterDescriptor) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Module.Equal(other.Module) && p.Method == other.Method && p.Index == other.Index
}

var (
	// ErrEmptyImportTarget is returned when an import binds to neither a member nor a parameter.
	ErrEmptyImportTarget = errors.New("composition: import target has neither member nor parameter")

	// ErrAmbiguousImportTarget is returned when an import binds to both a member and a parameter.
	ErrAmbiguousImportTarget = errors.New("composition: import target has both member and parameter")
)

// ImportTarget is where an import is delivered: a member of the part or a
// parameter of its importing constructor. Exactly one field is set.
type ImportTarget struct {
	Member    MemberDescriptor
	Parameter *ParameterDescriptor
}

// MemberTarget binds an import to a field or property.
func MemberTarget(m MemberDescriptor) ImportTarget {
	return ImportTarget{Member: m}
}

// ParameterTarget binds an import to a constructor or method parameter.
func ParameterTarget(p *ParameterDescriptor) ImportTarget {
	return ImportTarget{Parameter: p}
}

// IsParameter reports whether the target is a parameter.
func (t ImportTarget) IsParameter() bool { return t.Parameter != nil }

// Validate checks that exactly one of Member and Parameter is set. A typed
// nil member counts as unset.
func (t ImportTarget) Validate() error {
	hasMember := !IsNilMember(t.Member)
	switch {
	case !hasMember && t.Parameter == nil:
		return ErrEmptyImportTarget
	case hasMember && t.Parameter != nil:
		return ErrAmbiguousImportTarget
	}
	return nil
}

// IsNilMember reports whether m is nil or a nil descriptor pointer.
func IsNilMember(m MemberDescriptor) bool {
	switch m := m.(type) {
	case nil:
		return true
	case *ConstructorDescriptor:
		return m == nil
	case *FieldDescriptor:
		return m == nil
	case *PropertyDescriptor:
		return m == nil
	case *MethodDescriptor:
		return m == nil
	}
	return false
}
