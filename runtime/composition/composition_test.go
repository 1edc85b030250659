package composition

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cyclicPair(name string) *TypeDescriptor {
	mod := NewModuleIdentity("Cycles", "")
	a := NewTypeDescriptor(mod, 1, name)
	b := NewTypeDescriptor(mod, 2, name+".Inner")
	a.GenericArity, b.GenericArity = 1, 1
	a.GenericArgs = []*TypeDescriptor{b}
	b.GenericArgs = []*TypeDescriptor{a}
	return a
}

func TestHandle_String(t *testing.T) {
	assert.Equal(t, "0x02000001", Handle(0x02000001).String())
	assert.Equal(t, "0x00000000", Handle(0).String())
	assert.Equal(t, "0xffffffff", Handle(-1).String())
}

func TestModuleIdentity_Equal(t *testing.T) {
	a := NewModuleIdentity("Acme", "/lib")
	assert.True(t, a.Equal(NewModuleIdentity("Acme", "/lib")))
	assert.False(t, a.Equal(NewModuleIdentity("Acme", "")))
	assert.False(t, a.Equal(nil))

	var none *ModuleIdentity
	assert.True(t, none.Equal(nil))
	assert.Equal(t, "Acme (/lib)", a.String())
}

func TestTypeDescriptor_EqualCyclic(t *testing.T) {
	a, b := cyclicPair("Node"), cyclicPair("Node")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(cyclicPair("Other")))

	self := NewTypeDescriptor(nil, 7, "Self")
	self.GenericArgs = []*TypeDescriptor{self}
	assert.Equal(t, "Self[...]", self.String())
	assert.Equal(t, "Node[Node.Inner[...]]", a.String())
}

func TestTypeDescriptor_String(t *testing.T) {
	list := NewTypeDescriptor(nil, 1, "List")
	list.GenericArity = 1
	list.GenericArgs = []*TypeDescriptor{NewTypeDescriptor(nil, 2, "Int")}
	list.IsArray = true
	assert.Equal(t, "List[Int][]", list.String())
	assert.Equal(t, "0x02000009", NewTypeDescriptor(nil, 0x02000009, "").String())
}

func TestImportTarget_Validate(t *testing.T) {
	field := &FieldDescriptor{Handle: 1}
	param := &ParameterDescriptor{Index: 0}

	assert.NoError(t, MemberTarget(field).Validate())
	assert.NoError(t, ParameterTarget(param).Validate())
	assert.ErrorIs(t, ImportTarget{}.Validate(), ErrEmptyImportTarget)
	assert.ErrorIs(t, ImportTarget{Member: field, Parameter: param}.Validate(), ErrAmbiguousImportTarget)

	// A typed nil member is no member at all.
	var nilField *FieldDescriptor
	assert.ErrorIs(t, MemberTarget(nilField).Validate(), ErrEmptyImportTarget)
	assert.NoError(t, ImportTarget{Member: nilField, Parameter: param}.Validate())
}

func TestIsNilMember(t *testing.T) {
	assert.True(t, IsNilMember(nil))
	assert.True(t, IsNilMember((*ConstructorDescriptor)(nil)))
	assert.True(t, IsNilMember((*FieldDescriptor)(nil)))
	assert.True(t, IsNilMember((*PropertyDescriptor)(nil)))
	assert.True(t, IsNilMember((*MethodDescriptor)(nil)))
	assert.False(t, IsNilMember(&FieldDescriptor{}))
	assert.False(t, IsNilMember(&MethodDescriptor{}))
}

func TestMembersEqual(t *testing.T) {
	ty := NewTypeDescriptor(nil, 1, "T")
	a := &PropertyDescriptor{DeclaringType: ty, Handle: 5, Getter: HandleRef(6)}
	b := &PropertyDescriptor{DeclaringType: NewTypeDescriptor(nil, 1, "T"), Handle: 5, Getter: HandleRef(6)}

	assert.True(t, MembersEqual(a, b))
	assert.False(t, MembersEqual(a, &PropertyDescriptor{DeclaringType: ty, Handle: 5}))
	assert.False(t, MembersEqual(a, &FieldDescriptor{DeclaringType: ty, Handle: 5}))
	assert.True(t, MembersEqual(nil, nil))
	assert.False(t, MembersEqual(a, nil))
}

func TestParseCardinalityAndPolicy(t *testing.T) {
	for _, c := range []Cardinality{ZeroOrOne, ExactlyOne, ZeroOrMore} {
		got, err := ParseCardinality(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCardinality("many")
	assert.Error(t, err)

	for _, p := range []CreationPolicy{PolicyAny, PolicyShared, PolicyNonShared} {
		got, err := ParseCreationPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err = ParseCreationPolicy("sometimes")
	assert.Error(t, err)
	assert.False(t, CreationPolicy(3).Valid())
}

// ============================================================================
// Graph
// ============================================================================

func TestNewGraph(t *testing.T) {
	ty := NewTypeDescriptor(nil, 1, "T")
	p := &Part{Type: ty}

	g, err := NewGraph([]*Part{p})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	got, ok := g.PartFor(ty)
	assert.True(t, ok)
	assert.Same(t, p, got)

	_, err = NewGraph([]*Part{p, p})
	assert.Error(t, err)

	_, err = NewGraph([]*Part{nil})
	assert.Error(t, err)

	_, err = NewGraph([]*Part{{}})
	assert.Error(t, err)

	_, err = NewGraph([]*Part{{Type: ty, ImportingMembers: []*Import{{}}}})
	assert.ErrorIs(t, err, ErrEmptyImportTarget)

	_, err = NewGraph([]*Part{{Type: ty, SharingBoundary: "Scope"}})
	assert.ErrorIs(t, err, ErrBoundaryOnNonShared)

	_, err = NewGraph([]*Part{{Type: ty, Shared: true, SharingBoundary: "Scope"}})
	assert.NoError(t, err)
}

func TestGraph_PartsIsCopy(t *testing.T) {
	g := MustNewGraph(&Part{Type: NewTypeDescriptor(nil, 1, "A")})
	parts := g.Parts()
	parts[0] = nil
	assert.NotNil(t, g.Parts()[0])
}

func TestGraph_Exports(t *testing.T) {
	ty := NewTypeDescriptor(nil, 1, "T")
	shared := &Export{ContractName: "c"}
	g := MustNewGraph(
		&Part{Type: ty, Exports: []*Export{shared}},
		&Part{Type: ty, Exports: []*Export{shared, {ContractName: "d"}}},
	)
	exports := g.Exports()
	require.Len(t, exports, 2)
	assert.Same(t, shared, exports[0])
}

func TestSharingPreserved(t *testing.T) {
	build := func(shareExport bool) *Graph {
		ty := NewTypeDescriptor(nil, 1, "T")
		exp := &Export{ContractName: "c", DeclaringType: ty}
		satisfying := exp
		if !shareExport {
			satisfying = &Export{ContractName: "c", DeclaringType: ty}
		}
		return MustNewGraph(
			&Part{Type: ty, Exports: []*Export{exp}},
			&Part{Type: NewTypeDescriptor(nil, 2, "U"), ImportingMembers: []*Import{{
				Target:            MemberTarget(&FieldDescriptor{Handle: 3}),
				SatisfyingExports: []*Export{satisfying},
			}}},
		)
	}

	shared, split := build(true), build(false)
	assert.True(t, shared.Equal(split))
	assert.NoError(t, SharingPreserved(shared, build(true)))
	assert.Error(t, SharingPreserved(shared, split))
	assert.Error(t, SharingPreserved(split, shared))
}

// ============================================================================
// Metadata
// ============================================================================

type stubType struct{ desc *TypeDescriptor }

func (s stubType) Descriptor() *TypeDescriptor { return s.desc }

func TestMetadata_NilIsEmpty(t *testing.T) {
	var m *Metadata
	assert.Zero(t, m.Len())
	assert.Nil(t, m.Keys())
	_, ok, err := m.Get("x")
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.NoError(t, m.Range(func(string, any) bool { return true }))
	assert.True(t, m.Equal(NewMetadata(nil)))
}

func TestNewLazyMetadata_DuplicateKeys(t *testing.T) {
	m := NewLazyMetadata([]MetadataEntry{{"a", 1}, {"b", 2}, {"a", 3}}, nil)
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	v, _ := m.Raw("a")
	assert.Equal(t, 3, v)
}

func TestMetadata_RangeStops(t *testing.T) {
	m := NewMetadata(map[string]any{"a": 1, "b": 2, "c": 3})
	var seen []string
	require.NoError(t, m.Range(func(k string, _ any) bool {
		seen = append(seen, k)
		return k != "b"
	}))
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestMetadata_ConcurrentResolution(t *testing.T) {
	desc := NewTypeDescriptor(nil, 1, "Lazy")
	var calls atomic.Int32
	resolver := ResolverFunc(func(t *TypeDescriptor) (Type, error) {
		calls.Add(1)
		return stubType{desc: t}, nil
	})
	m := NewLazyMetadata([]MetadataEntry{{Key: "T", Value: &DeferredType{Desc: desc}}}, resolver)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := m.Get("T")
			assert.NoError(t, err)
			assert.Equal(t, stubType{desc: desc}, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestMetadata_ResolveErrorNotMemoized(t *testing.T) {
	fail := true
	resolver := ResolverFunc(func(t *TypeDescriptor) (Type, error) {
		if fail {
			return nil, errors.New("not loaded")
		}
		return stubType{desc: t}, nil
	})
	m := NewLazyMetadata([]MetadataEntry{{Key: "T", Value: &DeferredType{Desc: NewTypeDescriptor(nil, 1, "X")}}}, resolver)

	_, _, err := m.Get("T")
	assert.Error(t, err)
	_, err = m.Map()
	assert.Error(t, err)

	fail = false
	v, _, err := m.Get("T")
	require.NoError(t, err)
	assert.IsType(t, stubType{}, v)
}
