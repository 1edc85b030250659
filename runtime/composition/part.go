package composition

import (
	"errors"
	"fmt"
)

// Cardinality is how many exports an import expects.
type Cardinality byte

const (
	ZeroOrOne Cardinality = iota
	ExactlyOne
	ZeroOrMore
)

// Valid reports whether c is a known cardinality.
func (c Cardinality) Valid() bool { return c <= ZeroOrMore }

func (c Cardinality) String() string {
	switch c {
	case ZeroOrOne:
		return "zero-or-one"
	case ExactlyOne:
		return "exactly-one"
	case ZeroOrMore:
		return "zero-or-more"
	default:
		return fmt.Sprintf("Cardinality(%d)", byte(c))
	}
}

// ParseCardinality parses the String form of a cardinality.
func ParseCardinality(s string) (Cardinality, error) {
	switch s {
	case "zero-or-one":
		return ZeroOrOne, nil
	case "exactly-one", "":
		return ExactlyOne, nil
	case "zero-or-more":
		return ZeroOrMore, nil
	}
	return 0, fmt.Errorf("composition: unknown cardinality %q", s)
}

// CreationPolicy is the sharing policy a part or import asks for. It is the one
// enumerated value metadata can carry without the opaque fallback.
type CreationPolicy byte

const (
	PolicyAny CreationPolicy = iota
	PolicyShared
	PolicyNonShared
)

// Valid reports whether p is a known policy.
func (p CreationPolicy) Valid() bool { return p <= PolicyNonShared }

func (p CreationPolicy) String() string {
	switch p {
	case PolicyAny:
		return "Any"
	case PolicyShared:
		return "Shared"
	case PolicyNonShared:
		return "NonShared"
	default:
		return fmt.Sprintf("CreationPolicy(%d)", byte(p))
	}
}

// ParseCreationPolicy parses the String form of a policy.
func ParseCreationPolicy(s string) (CreationPolicy, error) {
	switch s {
	case "Any", "any":
		return PolicyAny, nil
	case "Shared", "shared":
		return PolicyShared, nil
	case "NonShared", "nonshared", "non-shared":
		return PolicyNonShared, nil
	}
	return 0, fmt.Errorf("composition: unknown creation policy %q", s)
}

// Export is a named, typed value a part supplies.
type Export struct {
	ContractName      string           // Contract the export satisfies
	DeclaringType     *TypeDescriptor  // Type declaring the export
	Member            MemberDescriptor // How to obtain the value; nil exports the part itself
	ExportedValueType *TypeDescriptor  // Type of the exported value
	Metadata          *Metadata        // Export metadata; nil is empty
}

// Import is a dependency slot of a part, already bound to the exports that satisfy it.
type Import struct {
	Target                         ImportTarget    // Member or parameter receiving the value
	SiteType                       *TypeDescriptor // Declared type of the importing member or parameter
	Cardinality                    Cardinality     // How many exports are expected
	SatisfyingExports              []*Export       // Exports resolved when the graph was built
	NonSharedInstanceRequired      bool            // True when the import needs a fresh instance
	Metadata                       *Metadata       // Import metadata; nil is empty
	ExportFactoryType              *TypeDescriptor // Export factory type, nil when not a factory import
	ExportFactorySharingBoundaries []string        // Boundaries the export factory crosses
}

// IsExportFactory reports whether the import receives an export factory.
func (i *Import) IsExportFactory() bool { return i.ExportFactoryType != nil }

// Part describes one component of the graph.
type Part struct {
	Type                 *TypeDescriptor  // Declaring type
	ImportingConstructor MemberDescriptor // Constructor used to create the part; nil when created otherwise
	ConstructorArguments []*Import        // Imports bound to constructor parameters, in order
	ImportingMembers     []*Import        // Imports bound to members after construction
	Exports              []*Export        // Exports the part offers
	OnImportsSatisfied   MemberDescriptor // Method called once imports are set; nil when absent
	Shared               bool             // False for non-shared parts
	SharingBoundary      string           // Boundary of a shared part; "" is the root scope
}

// Imports returns constructor arguments followed by importing members.
func (p *Part) Imports() []*Import {
	out := make([]*Import, 0, len(p.ConstructorArguments)+len(p.ImportingMembers))
	out = append(out, p.ConstructorArguments...)
	return append(out, p.ImportingMembers...)
}

// ErrBoundaryOnNonShared is returned for a non-shared part that names a
// sharing boundary. Only shared parts live in a boundary.
var ErrBoundaryOnNonShared = errors.New("composition: sharing boundary on a non-shared part")

// Validate checks the structural requirements the codec relies on.
// It does not check whether imports are satisfiable.
func (p *Part) Validate() error {
	if p.Type == nil {
		return fmt.Errorf("composition: part has no type")
	}
	if !p.Shared && p.SharingBoundary != "" {
		return fmt.Errorf("composition: part %s: %w", p.Type, ErrBoundaryOnNonShared)
	}
	for i, imp := range p.Imports() {
		if imp == nil {
			return fmt.Errorf("composition: part %s: import %d is nil", p.Type, i)
		}
		if err := imp.Target.Validate(); err != nil {
			return fmt.Errorf("composition: part %s: import %d: %w", p.Type, i, err)
		}
		if !imp.Cardinality.Valid() {
			return fmt.Errorf("composition: part %s: import %d: invalid cardinality %d", p.Type, i, imp.Cardinality)
		}
		for j, exp := range imp.SatisfyingExports {
			if exp == nil {
				return fmt.Errorf("composition: part %s: import %d: satisfying export %d is nil", p.Type, i, j)
			}
		}
	}
	for i, exp := range p.Exports {
		if exp == nil {
			return fmt.Errorf("composition: part %s: export %d is nil", p.Type, i)
		}
	}
	return nil
}

// Graph is the runtime form of a composition: parts in a stable order with
// their imports already resolved.
type Graph struct {
	parts  []*Part
	byType map[*TypeDescriptor]*Part
}

// NewGraph builds a graph from parts, preserving their order.
func NewGraph(parts []*Part) (*Graph, error) {
	g := &Graph{
		parts:  make([]*Part, 0, len(parts)),
		byType: make(map[*TypeDescriptor]*Part, len(parts)),
	}
	seen := make(map[*Part]struct{}, len(parts))
	for i, p := range parts {
		if p == nil {
			return nil, fmt.Errorf("composition: part %d is nil", i)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("composition: part %d (%s) appears more than once", i, p.Type)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		seen[p] = struct{}{}
		g.parts = append(g.parts, p)
		if _, ok := g.byType[p.Type]; !ok {
			g.byType[p.Type] = p
		}
	}
	return g, nil
}

// MustNewGraph is like NewGraph but panics on error.
func MustNewGraph(parts ...*Part) *Graph {
	g, err := NewGraph(parts)
	if err != nil {
		panic(err)
	}
	return g
}

// Parts returns the parts in order.
// Returns a copy to prevent external mutation.
func (g *Graph) Parts() []*Part {
	if g == nil {
		return nil
	}
	out := make([]*Part, len(g.parts))
	copy(out, g.parts)
	return out
}

// Len returns the number of parts.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.parts)
}

// PartFor returns the first part declared by t. The lookup is by descriptor
// identity, which is stable within one loaded graph.
func (g *Graph) PartFor(t *TypeDescriptor) (*Part, bool) {
	if g == nil {
		return nil, false
	}
	p, ok := g.byType[t]
	return p, ok
}

// Exports returns every distinct export offered by the graph's parts, in part order.
func (g *Graph) Exports() []*Export {
	if g == nil {
		return nil
	}
	var out []*Export
	seen := make(map[*Export]struct{})
	for _, p := range g.parts {
		for _, e := range p.Exports {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
