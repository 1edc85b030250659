package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/compcache/runtime/composition"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"Name", "Kind", "Shared"}, &TableOptions{NoColor: true})
	table.AddRow("Acme.Logger", "part", "yes")
	table.AddRow("Acme.Handler", "part")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Name          Kind  Shared", lines[0])
	assert.Equal(t, "────────────  ────  ──────", lines[1])
	assert.Equal(t, "Acme.Logger   part  yes", lines[2])
	assert.Equal(t, "Acme.Handler  part  ", lines[3])
	assert.Equal(t, 2, table.Len())
}

func TestTableEmptyHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, nil, nil).Render()
	assert.Empty(t, buf.String())
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)
	kv.AddRow("Parts", "3")
	kv.AddRow("Exports", "4")
	kv.Render()

	assert.Equal(t, "Parts:   3\nExports: 4\n", buf.String())
}

func TestStatusLines(t *testing.T) {
	var buf bytes.Buffer
	Header(&buf, "Verify", true)
	Success(&buf, true, "%d parts", 3)
	Failure(&buf, true, "sharing lost: %s", "export 1")

	assert.Equal(t, "Verify\n──────\n✓ 3 parts\n✗ sharing lost: export 1\n", buf.String())
}

func sampleGraph() *composition.Graph {
	mod := composition.NewModuleIdentity("Acme.Core", "")
	logger := composition.NewTypeDescriptor(mod, 0x02000001, "Acme.Logger")
	handler := composition.NewTypeDescriptor(nil, 0x02000002, "Acme.Handler")
	str := composition.NewTypeDescriptor(nil, 0x02000003, "System.String")

	export := &composition.Export{
		ContractName:      "Acme.ILogger",
		DeclaringType:     logger,
		ExportedValueType: logger,
		Metadata: composition.NewMetadata(map[string]any{
			"Name":     "console",
			"Policy":   composition.PolicyShared,
			"Handles":  &composition.DeferredType{Desc: handler},
			"Tags":     &composition.MetadataArray{ElementType: str, Items: []any{"a", nil}},
			"Weight":   int64(3),
			"Broken":   &composition.UnresolvableValue{Payload: []byte{1, 2}, Err: errors.New("unknown type")},
			"Concrete": logger,
		}),
	}
	return composition.MustNewGraph(
		&composition.Part{Type: logger, Exports: []*composition.Export{export}, Shared: true, SharingBoundary: "Request"},
		&composition.Part{
			Type: handler,
			ImportingMembers: []*composition.Import{{
				Target:            composition.ImportTarget{Member: &composition.FieldDescriptor{DeclaringType: handler, Handle: 0x04000001}},
				Cardinality:       composition.ExactlyOne,
				SatisfyingExports: []*composition.Export{export},
			}},
		},
	)
}

func TestRenderGraph(t *testing.T) {
	var buf bytes.Buffer
	RenderGraph(&buf, sampleGraph(), GraphOptions{NoColor: true})
	out := buf.String()

	assert.Contains(t, out, "Parts:   2")
	assert.Contains(t, out, "Exports: 1")
	assert.Contains(t, out, "Imports: 1")
	assert.Contains(t, out, "shared@Request")
	assert.Contains(t, out, "non-shared")
	assert.Contains(t, out, "Acme.Core")
	assert.Contains(t, out, "Acme.ILogger")
	assert.NotContains(t, out, "Value")
}

func TestRenderGraph_Metadata(t *testing.T) {
	var buf bytes.Buffer
	RenderGraph(&buf, sampleGraph(), GraphOptions{NoColor: true, Metadata: true})
	out := buf.String()

	assert.Contains(t, out, `"console"`)
	assert.Contains(t, out, "policy Shared")
	assert.Contains(t, out, "type Acme.Handler")
	assert.Contains(t, out, `System.String["a", null]`)
	assert.Contains(t, out, "3 (int64)")
	assert.Contains(t, out, "<unresolvable metadata (2 bytes): unknown type>")
	assert.Contains(t, out, "typeref Acme.Logger")
}

func TestRenderGraph_NoMetadata(t *testing.T) {
	mod := composition.NewModuleIdentity("M", "")
	g := composition.MustNewGraph(&composition.Part{Type: composition.NewTypeDescriptor(mod, 1, "T"), Shared: true})

	var buf bytes.Buffer
	RenderGraph(&buf, g, GraphOptions{NoColor: true, Metadata: true})
	assert.Contains(t, buf.String(), "No metadata.")
}
