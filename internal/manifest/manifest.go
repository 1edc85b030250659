// Package manifest reads composition catalogs from YAML.
//
// A manifest lists modules, types, and parts with their exports and imports,
// all cross-referenced by local ids. It is the discovered form of a
// composition: imports name a contract, and Lower binds each import to the
// exports that satisfy it.
//
// Example manifest:
//
//	modules:
//	  - id: core
//	    name: Acme.Core
//	types:
//	  - id: logger
//	    module: core
//	    handle: 0x02000001
//	    name: Acme.Logger
//	parts:
//	  - type: logger
//	    shared: true
//	    exports:
//	      - contract: Acme.ILogger
//	        metadata:
//	          Priority: {policy: NonShared}
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/compcache/runtime/composition"
)

// Manifest is a parsed catalog.
type Manifest struct {
	Modules []Module `yaml:"modules"`
	Types   []Type   `yaml:"types"`
	Parts   []Part   `yaml:"parts"`
}

// Module declares a module identity.
type Module struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location,omitempty"`
}

// Type declares a type descriptor. Args may name any type id, including the
// type itself.
type Type struct {
	ID     string             `yaml:"id"`
	Module string             `yaml:"module,omitempty"`
	Handle composition.Handle `yaml:"handle"`
	Name   string             `yaml:"name"`
	Array  bool               `yaml:"array,omitempty"`
	Arity  int                `yaml:"arity,omitempty"`
	Args   []string           `yaml:"args,omitempty"`
}

// Member declares a member of the enclosing part's type.
type Member struct {
	Kind        string              `yaml:"kind,omitempty"`
	Handle      composition.Handle  `yaml:"handle"`
	Getter      *composition.Handle `yaml:"getter,omitempty"`
	Setter      *composition.Handle `yaml:"setter,omitempty"`
	GenericArgs []string            `yaml:"generic_args,omitempty"`
}

// Parameter declares an import delivered to a constructor parameter.
// Method defaults to the part's importing constructor.
type Parameter struct {
	Method *composition.Handle `yaml:"method,omitempty"`
	Index  int                 `yaml:"index"`
}

// Metadata holds raw metadata values, lowered once type ids can be resolved.
//
// Plain scalars become strings, int64, float64, bool or nil. A mapping with a
// single key selects a special kind:
//
//	{policy: NonShared}                       creation policy
//	{type: logger}                            type, resolved lazily on read
//	{typeref: logger}                         type descriptor
//	{array: {element: logger, items: [...]}}  typed array
//
// A plain sequence is an array without element type.
type Metadata map[string]yaml.Node

// Export declares an export of the enclosing part.
type Export struct {
	Contract string   `yaml:"contract"`
	Type     string   `yaml:"type,omitempty"` // Exported value type; defaults to the part type
	Member   *Member  `yaml:"member,omitempty"`
	Metadata Metadata `yaml:"metadata,omitempty"`
}

// Import declares a dependency of the enclosing part. Exactly one of Member
// and Parameter is set.
type Import struct {
	Contract          string     `yaml:"contract"`
	SiteType          string     `yaml:"site_type,omitempty"`
	Cardinality       string     `yaml:"cardinality,omitempty"`
	Member            *Member    `yaml:"member,omitempty"`
	Parameter         *Parameter `yaml:"parameter,omitempty"`
	NonShared         bool       `yaml:"non_shared,omitempty"`
	FactoryType       string     `yaml:"factory_type,omitempty"`
	FactoryBoundaries []string   `yaml:"factory_boundaries,omitempty"`
	Metadata          Metadata   `yaml:"metadata,omitempty"`
}

// Part declares a part.
type Part struct {
	Type               string   `yaml:"type"`
	Shared             bool     `yaml:"shared,omitempty"`
	Boundary           string   `yaml:"boundary,omitempty"`
	Constructor        *Member  `yaml:"constructor,omitempty"`
	OnImportsSatisfied *Member  `yaml:"on_imports_satisfied,omitempty"`
	Exports            []Export `yaml:"exports,omitempty"`
	Imports            []Import `yaml:"imports,omitempty"`
}

// Parse decodes a manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return &m, nil
		}
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate checks that ids are unique and present. References between
// entries are checked by Lower.
func (m *Manifest) Validate() error {
	var errs []error

	modules := make(map[string]bool, len(m.Modules))
	for i, mod := range m.Modules {
		switch {
		case mod.ID == "":
			errs = append(errs, fmt.Errorf("module[%d]: missing id", i))
		case modules[mod.ID]:
			errs = append(errs, fmt.Errorf("module[%d]: duplicate id %q", i, mod.ID))
		}
		if mod.Name == "" {
			errs = append(errs, fmt.Errorf("module[%d]: missing name", i))
		}
		modules[mod.ID] = true
	}

	types := make(map[string]bool, len(m.Types))
	for i, t := range m.Types {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Errorf("type[%d]: missing id", i))
		case types[t.ID]:
			errs = append(errs, fmt.Errorf("type[%d]: duplicate id %q", i, t.ID))
		}
		if t.Arity < 0 {
			errs = append(errs, fmt.Errorf("type[%d]: negative arity", i))
		}
		types[t.ID] = true
	}

	for i, p := range m.Parts {
		if p.Type == "" {
			errs = append(errs, fmt.Errorf("part[%d]: missing type", i))
		}
		if p.Boundary != "" && !p.Shared {
			errs = append(errs, fmt.Errorf("part[%d]: boundary %q on a non-shared part", i, p.Boundary))
		}
		for j, imp := range p.Imports {
			if (imp.Member == nil) == (imp.Parameter == nil) {
				errs = append(errs, fmt.Errorf("part[%d].import[%d]: exactly one of member and parameter must be set", i, j))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("manifest: invalid: %w", errors.Join(errs...))
	}
	return nil
}
