package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/compcache/runtime/composition"
)

// scenario is a two-part graph: a consumer with one property import satisfied
// by the single export of a logger part.
type scenario struct {
	graph    *composition.Graph
	module   *composition.ModuleIdentity
	logger   *composition.TypeDescriptor
	consumer *composition.TypeDescriptor
	export   *composition.Export
}

func newScenario() *scenario {
	mod := composition.NewModuleIdentity("App", "")
	logger := composition.NewTypeDescriptor(mod, 0x02000001, "App.Logger")
	consumer := composition.NewTypeDescriptor(mod, 0x02000002, "App.Consumer")

	export := &composition.Export{
		ContractName:      "App.Logger",
		DeclaringType:     logger,
		ExportedValueType: logger,
		Metadata:          composition.NewMetadata(map[string]any{"Priority": composition.PolicyNonShared}),
	}
	loggerPart := &composition.Part{
		Type:    logger,
		Exports: []*composition.Export{export},
		Shared:  true,
	}

	prop := &composition.PropertyDescriptor{
		DeclaringType: consumer,
		Handle:        0x17000001,
		Setter:        composition.HandleRef(0x06000002),
	}
	consumerPart := &composition.Part{
		Type: consumer,
		ImportingMembers: []*composition.Import{{
			Target:            composition.MemberTarget(prop),
			SiteType:          logger,
			Cardinality:       composition.ExactlyOne,
			SatisfyingExports: []*composition.Export{export},
		}},
	}

	return &scenario{
		graph:    composition.MustNewGraph(consumerPart, loggerPart),
		module:   mod,
		logger:   logger,
		consumer: consumer,
		export:   export,
	}
}

// str encodes a first-sight string: its new ID, the length and the bytes.
func str(id byte, s string) []byte {
	return append([]byte{id, byte(len(s))}, s...)
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// scenarioBytes is the exact encoding of newScenario's graph.
func scenarioBytes() []byte {
	return cat(
		[]byte{0x01, 0x02}, // version, part count

		// part 0: consumer
		[]byte{0x01},                   // type #1
		[]byte{0x02},                   // module #2
		str(0x03, "App"),               // module name #3
		[]byte{0x00},                   // no location
		[]byte{0x02, 0x00, 0x00, 0x02}, // handle
		str(0x04, "App.Consumer"),      // full name #4
		[]byte{0x00, 0x00, 0x00},       // not array, arity 0, no generic args
		[]byte{0x00},                   // no importing constructor
		[]byte{0x00},                   // no constructor arguments
		[]byte{0x01},                   // one importing member

		[]byte{0x01},                   // member target
		[]byte{0x03, 0x05},             // property, member #5
		[]byte{0x01},                   // declaring type -> #1
		[]byte{0x01, 0x00, 0x00, 0x17}, // property handle
		[]byte{0x02},                   // setter only
		[]byte{0x02, 0x00, 0x00, 0x06}, // setter handle

		[]byte{0x06},                   // site type #6
		[]byte{0x02},                   // module -> #2
		[]byte{0x01, 0x00, 0x00, 0x02}, // handle
		str(0x07, "App.Logger"),        // full name #7
		[]byte{0x00, 0x00, 0x00},

		[]byte{0x01},       // exactly one
		[]byte{0x01, 0x08}, // one satisfying export, export #8
		[]byte{0x07},       // contract -> #7
		[]byte{0x06},       // declaring type -> #6
		[]byte{0x00},       // no member
		[]byte{0x06},       // exported value type -> #6
		[]byte{0x01},       // one metadata entry
		str(0x09, "Priority"),
		[]byte{byte(KindPolicy), 0x02},

		[]byte{0x00}, // shared instance allowed
		[]byte{0x00}, // not an export factory
		[]byte{0x00}, // no sharing boundaries
		[]byte{0x00}, // no import metadata

		[]byte{0x00}, // no exports
		[]byte{0x00}, // no OnImportsSatisfied
		[]byte{0x00}, // not shared

		// part 1: logger
		[]byte{0x06},       // type -> #6
		[]byte{0x00},       // no importing constructor
		[]byte{0x00, 0x00}, // no imports
		[]byte{0x01, 0x08}, // one export -> #8
		[]byte{0x00},       // no OnImportsSatisfied
		str(0x0A, ""),      // shared in the root boundary
	)
}

func encode(t *testing.T, g *composition.Graph, opts ...Option) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf, opts...).WriteGraph(g))
	return buf.Bytes()
}

func decode(t *testing.T, data []byte, opts ...Option) *composition.Graph {
	t.Helper()
	g, err := NewReader(bytes.NewReader(data), opts...).ReadGraph()
	require.NoError(t, err)
	return g
}

func roundTrip(t *testing.T, g *composition.Graph, opts ...Option) *composition.Graph {
	t.Helper()
	return decode(t, encode(t, g, opts...), opts...)
}

// minimalType encodes a first-sight type #1 with no module and the name "T" as #2.
func minimalType() []byte {
	return cat(
		[]byte{0x01, 0x00},
		[]byte{0x00, 0x00, 0x00, 0x00},
		str(0x02, "T"),
	)
}

// loadedType is a resolved Type as a hosting environment would return it.
type loadedType struct {
	desc *composition.TypeDescriptor
}

func (l *loadedType) Descriptor() *composition.TypeDescriptor { return l.desc }

// countingResolver counts how often each descriptor is resolved.
type countingResolver struct {
	calls int
	err   error
}

func (c *countingResolver) Resolve(t *composition.TypeDescriptor) (composition.Type, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &loadedType{desc: t}, nil
}
