package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/conduit-lang/compcache/runtime/composition"
)

// GraphOptions configures RenderGraph
type GraphOptions struct {
	NoColor bool
	// Metadata adds a table of every export and import metadata entry.
	Metadata bool
}

// RenderGraph prints a summary of g, one row per part.
func RenderGraph(w io.Writer, g *composition.Graph, opts GraphOptions) {
	imports := 0
	for _, p := range g.Parts() {
		imports += len(p.Imports())
	}

	summary := NewKeyValueTable(w, opts.NoColor)
	summary.AddRow("Parts", strconv.Itoa(g.Len()))
	summary.AddRow("Exports", strconv.Itoa(len(g.Exports())))
	summary.AddRow("Imports", strconv.Itoa(imports))
	summary.Render()
	fmt.Fprintln(w)

	parts := NewTable(w, []string{"#", "Type", "Module", "Sharing", "Exports", "Imports"}, &TableOptions{NoColor: opts.NoColor})
	for i, p := range g.Parts() {
		parts.AddRow(
			strconv.Itoa(i),
			p.Type.String(),
			moduleName(p.Type),
			sharing(p),
			contracts(p.Exports),
			strconv.Itoa(len(p.Imports())),
		)
	}
	parts.Render()

	if !opts.Metadata {
		return
	}

	fmt.Fprintln(w)
	md := NewTable(w, []string{"Part", "Owner", "Key", "Value"}, &TableOptions{NoColor: opts.NoColor})
	for i, p := range g.Parts() {
		for _, e := range p.Exports {
			addMetadata(md, i, "export "+e.ContractName, e.Metadata)
		}
		for j, imp := range p.Imports() {
			addMetadata(md, i, fmt.Sprintf("import %d (%s)", j, imp.Cardinality), imp.Metadata)
		}
	}
	if md.Len() == 0 {
		fmt.Fprintln(w, "No metadata.")
		return
	}
	md.Render()
}

func addMetadata(t *Table, part int, owner string, m *composition.Metadata) {
	for _, e := range m.Entries() {
		t.AddRow(strconv.Itoa(part), owner, e.Key, FormatValue(e.Value))
	}
}

func moduleName(t *composition.TypeDescriptor) string {
	if t.Module == nil {
		return "-"
	}
	return t.Module.Name
}

func sharing(p *composition.Part) string {
	switch {
	case !p.Shared:
		return "non-shared"
	case p.SharingBoundary == "":
		return "shared"
	default:
		return "shared@" + p.SharingBoundary
	}
}

func contracts(exports []*composition.Export) string {
	if len(exports) == 0 {
		return "-"
	}
	names := make([]string, len(exports))
	for i, e := range exports {
		names[i] = e.ContractName
	}
	return strings.Join(names, ", ")
}

// FormatValue renders a stored metadata value without resolving it.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case composition.CreationPolicy:
		return "policy " + v.String()
	case *composition.TypeDescriptor:
		return "typeref " + v.String()
	case *composition.DeferredType:
		return "type " + v.Desc.String()
	case composition.Type:
		return "type " + v.Descriptor().String()
	case *composition.MetadataArray:
		items := make([]string, len(v.Items))
		for i, item := range v.Items {
			items[i] = FormatValue(item)
		}
		return fmt.Sprintf("%s[%s]", v.ElementType, strings.Join(items, ", "))
	case *composition.UnresolvableValue:
		return "<" + v.String() + ">"
	default:
		return fmt.Sprintf("%v (%T)", v, v)
	}
}
