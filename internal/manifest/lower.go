package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/compcache/runtime/composition"
)

// Lower resolves the manifest into a composition graph.
//
// Every id becomes exactly one descriptor instance, so a type referenced from
// several places is shared in the graph. Each import is bound to the exports
// whose contract matches, in declaration order, and its cardinality is
// checked against the number of matches.
func (m *Manifest) Lower() (*composition.Graph, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	l := &lowerer{
		modules:    make(map[string]*composition.ModuleIdentity, len(m.Modules)),
		types:      make(map[string]*composition.TypeDescriptor, len(m.Types)),
		byContract: make(map[string][]*composition.Export),
	}
	if err := l.declare(m); err != nil {
		return nil, err
	}

	parts := make([]*composition.Part, len(m.Parts))
	for i := range m.Parts {
		p, err := l.part(&m.Parts[i])
		if err != nil {
			return nil, fmt.Errorf("manifest: part[%d]: %w", i, err)
		}
		parts[i] = p
	}
	// Imports are bound once every export is known, so a part can import
	// from a part declared after it.
	for i := range m.Parts {
		if err := l.imports(&m.Parts[i], parts[i]); err != nil {
			return nil, fmt.Errorf("manifest: part[%d] (%s): %w", i, m.Parts[i].Type, err)
		}
	}

	g, err := composition.NewGraph(parts)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return g, nil
}

type lowerer struct {
	modules    map[string]*composition.ModuleIdentity
	types      map[string]*composition.TypeDescriptor
	byContract map[string][]*composition.Export
}

func (l *lowerer) declare(m *Manifest) error {
	for _, mod := range m.Modules {
		l.modules[mod.ID] = composition.NewModuleIdentity(mod.Name, mod.Location)
	}

	// Allocate every descriptor first so generic arguments can form cycles.
	for _, t := range m.Types {
		var mod *composition.ModuleIdentity
		if t.Module != "" {
			var ok bool
			if mod, ok = l.modules[t.Module]; !ok {
				return fmt.Errorf("manifest: type %q: unknown module %q", t.ID, t.Module)
			}
		}
		td := composition.NewTypeDescriptor(mod, t.Handle, t.Name)
		td.IsArray = t.Array
		td.GenericArity = t.Arity
		l.types[t.ID] = td
	}
	for _, t := range m.Types {
		args, err := l.typeList(t.Args)
		if err != nil {
			return fmt.Errorf("manifest: type %q: %w", t.ID, err)
		}
		l.types[t.ID].GenericArgs = args
	}
	return nil
}

func (l *lowerer) typeRef(id string) (*composition.TypeDescriptor, error) {
	if id == "" {
		return nil, nil
	}
	t, ok := l.types[id]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", id)
	}
	return t, nil
}

func (l *lowerer) typeList(ids []string) ([]*composition.TypeDescriptor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]*composition.TypeDescriptor, len(ids))
	for i, id := range ids {
		t, err := l.typeRef(id)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, fmt.Errorf("empty type id in list")
		}
		out[i] = t
	}
	return out, nil
}

func (l *lowerer) member(declaring *composition.TypeDescriptor, m *Member, defaultKind string) (composition.MemberDescriptor, error) {
	if m == nil {
		return nil, nil
	}
	kind := m.Kind
	if kind == "" {
		kind = defaultKind
	}
	switch kind {
	case "constructor":
		return &composition.ConstructorDescriptor{DeclaringType: declaring, Handle: m.Handle}, nil
	case "field":
		return &composition.FieldDescriptor{DeclaringType: declaring, Handle: m.Handle}, nil
	case "property":
		return &composition.PropertyDescriptor{DeclaringType: declaring, Handle: m.Handle, Getter: m.Getter, Setter: m.Setter}, nil
	case "method":
		args, err := l.typeList(m.GenericArgs)
		if err != nil {
			return nil, err
		}
		return &composition.MethodDescriptor{DeclaringType: declaring, Handle: m.Handle, GenericArgs: args}, nil
	default:
		return nil, fmt.Errorf("unknown member kind %q", kind)
	}
}

func (l *lowerer) part(p *Part) (*composition.Part, error) {
	t, err := l.typeRef(p.Type)
	if err != nil {
		return nil, err
	}
	out := &composition.Part{
		Type:            t,
		Shared:          p.Shared,
		SharingBoundary: p.Boundary,
	}
	if out.ImportingConstructor, err = l.member(t, p.Constructor, "constructor"); err != nil {
		return nil, fmt.Errorf("constructor: %w", err)
	}
	if out.OnImportsSatisfied, err = l.member(t, p.OnImportsSatisfied, "method"); err != nil {
		return nil, fmt.Errorf("on_imports_satisfied: %w", err)
	}

	for i := range p.Exports {
		e, err := l.export(t, &p.Exports[i])
		if err != nil {
			return nil, fmt.Errorf("export[%d]: %w", i, err)
		}
		out.Exports = append(out.Exports, e)
		l.byContract[e.ContractName] = append(l.byContract[e.ContractName], e)
	}
	return out, nil
}

func (l *lowerer) export(declaring *composition.TypeDescriptor, e *Export) (*composition.Export, error) {
	if e.Contract == "" {
		return nil, fmt.Errorf("missing contract")
	}
	valueType := declaring
	if e.Type != "" {
		var err error
		if valueType, err = l.typeRef(e.Type); err != nil {
			return nil, err
		}
	}
	member, err := l.member(declaring, e.Member, "property")
	if err != nil {
		return nil, err
	}
	md, err := l.metadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	return &composition.Export{
		ContractName:      e.Contract,
		DeclaringType:     declaring,
		Member:            member,
		ExportedValueType: valueType,
		Metadata:          md,
	}, nil
}

func (l *lowerer) imports(p *Part, out *composition.Part) error {
	for i := range p.Imports {
		imp, err := l.bindImport(p, out, &p.Imports[i])
		if err != nil {
			return fmt.Errorf("import[%d] %q: %w", i, p.Imports[i].Contract, err)
		}
		if imp.Target.IsParameter() {
			out.ConstructorArguments = append(out.ConstructorArguments, imp)
		} else {
			out.ImportingMembers = append(out.ImportingMembers, imp)
		}
	}
	return nil
}

func (l *lowerer) bindImport(p *Part, part *composition.Part, i *Import) (*composition.Import, error) {
	card, err := composition.ParseCardinality(i.Cardinality)
	if err != nil {
		return nil, err
	}

	out := &composition.Import{
		Cardinality:                    card,
		NonSharedInstanceRequired:      i.NonShared,
		ExportFactorySharingBoundaries: i.FactoryBoundaries,
	}
	if out.SiteType, err = l.typeRef(i.SiteType); err != nil {
		return nil, err
	}
	if out.ExportFactoryType, err = l.typeRef(i.FactoryType); err != nil {
		return nil, err
	}
	if out.Metadata, err = l.metadata(i.Metadata); err != nil {
		return nil, err
	}

	if i.Parameter != nil {
		method := i.Parameter.Method
		if method == nil {
			if p.Constructor == nil {
				return nil, fmt.Errorf("parameter import on a part without importing constructor")
			}
			method = &p.Constructor.Handle
		}
		out.Target = composition.ParameterTarget(&composition.ParameterDescriptor{
			Module: part.Type.Module,
			Method: *method,
			Index:  i.Parameter.Index,
		})
	} else {
		m, err := l.member(part.Type, i.Member, "property")
		if err != nil {
			return nil, err
		}
		out.Target = composition.MemberTarget(m)
	}

	matches := l.byContract[i.Contract]
	switch {
	case card == composition.ExactlyOne && len(matches) != 1:
		return nil, fmt.Errorf("%s import has %d matching exports", card, len(matches))
	case card == composition.ZeroOrOne && len(matches) > 1:
		return nil, fmt.Errorf("%s import has %d matching exports", card, len(matches))
	}
	if len(matches) > 0 {
		out.SatisfyingExports = append([]*composition.Export(nil), matches...)
	}
	return out, nil
}

func (l *lowerer) metadata(md Metadata) (*composition.Metadata, error) {
	if len(md) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(md))
	for key, node := range md {
		v, err := l.value(&node)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", key, err)
		}
		values[key] = v
	}
	return composition.NewMetadata(values), nil
}

func (l *lowerer) value(n *yaml.Node) (any, error) {
	if n.Kind == yaml.AliasNode {
		return l.value(n.Alias)
	}

	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return scalar(n)
	case yaml.SequenceNode:
		items, err := l.values(n.Content)
		if err != nil {
			return nil, err
		}
		return &composition.MetadataArray{Items: items}, nil
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return nil, fmt.Errorf("line %d: special value must have exactly one key", n.Line)
		}
		return l.special(n.Content[0].Value, n.Content[1])
	default:
		return nil, fmt.Errorf("line %d: unsupported value", n.Line)
	}
}

func (l *lowerer) values(nodes []*yaml.Node) ([]any, error) {
	items := make([]any, len(nodes))
	for i, item := range nodes {
		v, err := l.value(item)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

func (l *lowerer) special(kind string, n *yaml.Node) (any, error) {
	switch kind {
	case "policy":
		return composition.ParseCreationPolicy(n.Value)
	case "type":
		t, err := l.requiredType(n)
		if err != nil {
			return nil, err
		}
		return &composition.DeferredType{Desc: t}, nil
	case "typeref":
		return l.requiredType(n)
	case "array":
		var spec struct {
			Element string      `yaml:"element"`
			Items   []yaml.Node `yaml:"items"`
		}
		if err := n.Decode(&spec); err != nil {
			return nil, err
		}
		elem, err := l.typeRef(spec.Element)
		if err != nil {
			return nil, err
		}
		nodes := make([]*yaml.Node, len(spec.Items))
		for i := range spec.Items {
			nodes[i] = &spec.Items[i]
		}
		items, err := l.values(nodes)
		if err != nil {
			return nil, err
		}
		return &composition.MetadataArray{ElementType: elem, Items: items}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown special value %q", n.Line, kind)
	}
}

func (l *lowerer) requiredType(n *yaml.Node) (*composition.TypeDescriptor, error) {
	t, err := l.typeRef(n.Value)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("line %d: missing type id", n.Line)
	}
	return t, nil
}

func scalar(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		err := n.Decode(&b)
		return b, err
	case "!!int":
		var i int64
		err := n.Decode(&i)
		return i, err
	case "!!float":
		var f float64
		err := n.Decode(&f)
		return f, err
	default:
		return n.Value, nil
	}
}
