package composition

import (
	"bytes"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// comparer carries the visited set for structural comparison so cyclic type
// descriptors terminate.
type comparer struct {
	seen map[[2]*TypeDescriptor]bool
}

func newComparer() *comparer {
	return &comparer{seen: make(map[[2]*TypeDescriptor]bool)}
}

func (c *comparer) types(a, b *TypeDescriptor) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}
	key := [2]*TypeDescriptor{a, b}
	if c.seen[key] {
		return true
	}
	c.seen[key] = true

	if !a.Module.Equal(b.Module) ||
		a.Handle != b.Handle ||
		a.FullName != b.FullName ||
		a.IsArray != b.IsArray ||
		a.GenericArity != b.GenericArity ||
		len(a.GenericArgs) != len(b.GenericArgs) {
		return false
	}
	return c.typeLists(a.GenericArgs, b.GenericArgs)
}

func (c *comparer) typeLists(a, b []*TypeDescriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !c.types(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (c *comparer) members(a, b MemberDescriptor) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() || a.Token() != b.Token() || !c.types(a.Declaring(), b.Declaring()) {
		return false
	}
	switch a := a.(type) {
	case *PropertyDescriptor:
		b := b.(*PropertyDescriptor)
		return handlesEqual(a.Getter, b.Getter) && handlesEqual(a.Setter, b.Setter)
	case *MethodDescriptor:
		return c.typeLists(a.GenericArgs, b.(*MethodDescriptor).GenericArgs)
	}
	return true
}

func handlesEqual(a, b *Handle) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (c *comparer) exports(a, b *Export) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ContractName == b.ContractName &&
		c.types(a.DeclaringType, b.DeclaringType) &&
		c.members(a.Member, b.Member) &&
		c.types(a.ExportedValueType, b.ExportedValueType) &&
		c.metadata(a.Metadata, b.Metadata)
}

func (c *comparer) imports(a, b *Import) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !c.members(a.Target.Member, b.Target.Member) ||
		!a.Target.Parameter.Equal(b.Target.Parameter) ||
		!c.types(a.SiteType, b.SiteType) ||
		a.Cardinality != b.Cardinality ||
		a.NonSharedInstanceRequired != b.NonSharedInstanceRequired ||
		!c.types(a.ExportFactoryType, b.ExportFactoryType) ||
		!stringsEqual(a.ExportFactorySharingBoundaries, b.ExportFactorySharingBoundaries) ||
		!c.metadata(a.Metadata, b.Metadata) ||
		len(a.SatisfyingExports) != len(b.SatisfyingExports) {
		return false
	}
	for i := range a.SatisfyingExports {
		if !c.exports(a.SatisfyingExports[i], b.SatisfyingExports[i]) {
			return false
		}
	}
	return true
}

func (c *comparer) importLists(a, b []*Import) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !c.imports(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (c *comparer) parts(a, b *Part) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !c.types(a.Type, b.Type) ||
		!c.members(a.ImportingConstructor, b.ImportingConstructor) ||
		!c.members(a.OnImportsSatisfied, b.OnImportsSatisfied) ||
		a.Shared != b.Shared ||
		a.SharingBoundary != b.SharingBoundary ||
		!c.importLists(a.ConstructorArguments, b.ConstructorArguments) ||
		!c.importLists(a.ImportingMembers, b.ImportingMembers) ||
		len(a.Exports) != len(b.Exports) {
		return false
	}
	for i := range a.Exports {
		if !c.exports(a.Exports[i], b.Exports[i]) {
			return false
		}
	}
	return true
}

func (c *comparer) metadata(a, b *Metadata) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, e := range a.Entries() {
		other, ok := b.Raw(e.Key)
		if !ok || !c.values(e.Value, other) {
			return false
		}
	}
	return true
}

func (c *comparer) values(a, b any) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case *TypeDescriptor:
		b, ok := b.(*TypeDescriptor)
		return ok && c.types(a, b)
	case Type:
		b, ok := b.(Type)
		return ok && c.types(a.Descriptor(), b.Descriptor())
	case *MetadataArray:
		b, ok := b.(*MetadataArray)
		if !ok || !c.types(a.ElementType, b.ElementType) || len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !c.values(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case *UnresolvableValue:
		b, ok := b.(*UnresolvableValue)
		return ok && bytes.Equal(a.Payload, b.Payload)
	case proto.Message:
		b, ok := b.(proto.Message)
		return ok && proto.Equal(a, b)
	default:
		return reflect.DeepEqual(a, b)
	}
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MembersEqual reports whether two member descriptors are structurally equal.
func MembersEqual(a, b MemberDescriptor) bool {
	return newComparer().members(a, b)
}

// Equal reports whether two exports are structurally equal.
func (e *Export) Equal(other *Export) bool {
	return newComparer().exports(e, other)
}

// Equal reports whether two imports are structurally equal, including their
// satisfying exports.
func (i *Import) Equal(other *Import) bool {
	return newComparer().imports(i, other)
}

// Equal reports whether two parts are structurally equal.
func (p *Part) Equal(other *Part) bool {
	return newComparer().parts(p, other)
}

// Equal reports whether two metadata mappings hold the same keys and raw values.
// Key order is not significant.
func (m *Metadata) Equal(other *Metadata) bool {
	return newComparer().metadata(m, other)
}

// Equal reports whether two graphs hold structurally equal parts in the same order.
func (g *Graph) Equal(other *Graph) bool {
	if g.Len() != other.Len() {
		return false
	}
	c := newComparer()
	for i := range g.parts {
		if !c.parts(g.parts[i], other.parts[i]) {
			return false
		}
	}
	return true
}

// sharing maps objects of one graph onto the other and back, so that two
// positions share an object in one graph exactly when they share it in the other.
type sharing struct {
	forward  map[any]any
	backward map[any]any
}

func (s *sharing) pair(a, b any, what string) (bool, error) {
	fa, okA := s.forward[a]
	fb, okB := s.backward[b]
	switch {
	case !okA && !okB:
		s.forward[a] = b
		s.backward[b] = a
		return true, nil
	case okA && fa == b && okB && fb == a:
		return false, nil
	default:
		return false, fmt.Errorf("composition: %s sharing differs", what)
	}
}

func (s *sharing) types(a, b *TypeDescriptor) error {
	if a == nil || b == nil {
		if a != b {
			return fmt.Errorf("composition: type presence differs")
		}
		return nil
	}
	first, err := s.pair(a, b, "type "+a.String())
	if err != nil || !first {
		return err
	}
	if len(a.GenericArgs) != len(b.GenericArgs) {
		return fmt.Errorf("composition: type %s generic arguments differ", a)
	}
	for i := range a.GenericArgs {
		if err := s.types(a.GenericArgs[i], b.GenericArgs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *sharing) exports(a, b *Export) error {
	first, err := s.pair(a, b, "export "+a.ContractName)
	if err != nil || !first {
		return err
	}
	if err := s.types(a.DeclaringType, b.DeclaringType); err != nil {
		return err
	}
	return s.types(a.ExportedValueType, b.ExportedValueType)
}

// SharingPreserved reports an error when b does not share objects the way a
// does: every export and type descriptor referenced from several places in a
// must map to one object referenced from the same places in b, and distinct
// objects must stay distinct. The graphs are assumed structurally equal.
func SharingPreserved(a, b *Graph) error {
	if a.Len() != b.Len() {
		return fmt.Errorf("composition: part count differs: %d != %d", a.Len(), b.Len())
	}
	s := &sharing{forward: make(map[any]any), backward: make(map[any]any)}
	for i := range a.parts {
		pa, pb := a.parts[i], b.parts[i]
		if err := s.types(pa.Type, pb.Type); err != nil {
			return err
		}
		if len(pa.Exports) != len(pb.Exports) {
			return fmt.Errorf("composition: part %d export count differs", i)
		}
		for j := range pa.Exports {
			if err := s.exports(pa.Exports[j], pb.Exports[j]); err != nil {
				return err
			}
		}
		ia, ib := pa.Imports(), pb.Imports()
		if len(ia) != len(ib) {
			return fmt.Errorf("composition: part %d import count differs", i)
		}
		for j := range ia {
			ea, eb := ia[j].SatisfyingExports, ib[j].SatisfyingExports
			if len(ea) != len(eb) {
				return fmt.Errorf("composition: part %d import %d satisfying export count differs", i, j)
			}
			for k := range ea {
				if err := s.exports(ea[k], eb[k]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
