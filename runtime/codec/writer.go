package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/conduit-lang/compcache/runtime/composition"
)

// ErrNilGraph is returned when a nil graph is written.
var ErrNilGraph = errors.New("codec: nil graph")

// Writer serializes one composition graph to a stream.
type Writer struct {
	out     *bufio.Writer
	opts    options
	table   *writeTable
	scratch []byte
	n       int64
	used    bool
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Writer{
		out:     bufio.NewWriter(w),
		opts:    o,
		table:   newWriteTable(),
		scratch: make([]byte, 0, 8),
	}
}

// WriteGraph writes the format header and the graph's parts, then flushes.
func (w *Writer) WriteGraph(g *composition.Graph) error {
	if g == nil {
		return ErrNilGraph
	}
	return w.WriteParts(g.Parts())
}

// WriteParts writes the format header and parts in order, then flushes.
// Parts are validated before any byte is written. A Writer runs exactly one
// pass.
func (w *Writer) WriteParts(parts []*composition.Part) error {
	if w.used {
		return ErrSessionUsed
	}
	w.used = true

	for i, p := range parts {
		if p == nil {
			return fmt.Errorf("codec: write part %d: nil part", i)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("codec: write part %d: %w", i, err)
		}
	}

	if err := w.writeUint(FormatVersion); err != nil {
		return fmt.Errorf("codec: write header: %w", err)
	}
	if err := w.writeCount(len(parts)); err != nil {
		return fmt.Errorf("codec: write part count: %w", err)
	}
	for i, p := range parts {
		if err := w.writePart(p); err != nil {
			return fmt.Errorf("codec: write part %d: %w", i, err)
		}
	}
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("codec: flush: %w", err)
	}
	return nil
}

// Stats reports the bytes written and the interning activity so far.
func (w *Writer) Stats() Stats {
	return Stats{Bytes: w.n, Objects: w.table.len(), BackReferences: w.table.refs}
}

// Primitives

func (w *Writer) writeByte(b byte) error {
	if err := w.out.WriteByte(b); err != nil {
		return err
	}
	w.n++
	return nil
}

func (w *Writer) writeBool(v bool) error {
	if v {
		return w.writeByte(1)
	}
	return w.writeByte(0)
}

func (w *Writer) writeUint(v uint32) error {
	buf, err := AppendCompressedUint(w.scratch[:0], v)
	if err != nil {
		return err
	}
	m, err := w.out.Write(buf)
	w.n += int64(m)
	return err
}

func (w *Writer) writeCount(n int) error {
	if n < 0 || n > MaxCompressedUint {
		return fmt.Errorf("codec: count %d out of range", n)
	}
	return w.writeUint(uint32(n))
}

func (w *Writer) writeHandle(h composition.Handle) error {
	buf := binary.LittleEndian.AppendUint32(w.scratch[:0], uint32(h))
	m, err := w.out.Write(buf)
	w.n += int64(m)
	return err
}

func (w *Writer) writeBytes(b []byte) error {
	if err := w.writeCount(len(b)); err != nil {
		return err
	}
	m, err := w.out.Write(b)
	w.n += int64(m)
	return err
}

// writeRef writes the interning ID for v and reports whether the body must follow.
// An absent value is written as ID 0.
func (w *Writer) writeRef(v any, absent bool) (bool, error) {
	if absent {
		return false, w.writeUint(0)
	}
	id, isNew := w.table.intern(v)
	if err := w.writeUint(id); err != nil {
		return false, err
	}
	return isNew, nil
}

func (w *Writer) writeString(s string) error {
	return w.writeOptionalString(s, true)
}

func (w *Writer) writeOptionalString(s string, present bool) error {
	isNew, err := w.writeRef(s, !present)
	if err != nil || !isNew {
		return err
	}
	return w.writeBytes([]byte(s))
}

func (w *Writer) writeStrings(list []string) error {
	if err := w.writeCount(len(list)); err != nil {
		return err
	}
	for _, s := range list {
		if err := w.writeString(s); err != nil {
			return err
		}
	}
	return nil
}

// Entities

func (w *Writer) writeModule(m *composition.ModuleIdentity) error {
	isNew, err := w.writeRef(m, m == nil)
	if err != nil || !isNew {
		return err
	}
	if err := w.writeString(m.Name); err != nil {
		return err
	}
	return w.writeOptionalString(m.Location, m.Location != "")
}

func (w *Writer) writeType(t *composition.TypeDescriptor) error {
	isNew, err := w.writeRef(t, t == nil)
	if err != nil || !isNew {
		return err
	}
	if err := w.writeModule(t.Module); err != nil {
		return err
	}
	if err := w.writeHandle(t.Handle); err != nil {
		return err
	}
	if err := w.writeString(t.FullName); err != nil {
		return err
	}
	if err := w.writeBool(t.IsArray); err != nil {
		return err
	}
	if t.GenericArity < 0 || t.GenericArity > math.MaxUint16 {
		return fmt.Errorf("codec: type %s: generic arity %d out of range", t, t.GenericArity)
	}
	if err := w.writeCount(t.GenericArity); err != nil {
		return err
	}
	return w.writeTypes(t.GenericArgs)
}

func (w *Writer) writeTypes(list []*composition.TypeDescriptor) error {
	if err := w.writeCount(len(list)); err != nil {
		return err
	}
	for _, t := range list {
		if err := w.writeType(t); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeMember(m composition.MemberDescriptor) error {
	if composition.IsNilMember(m) {
		return w.writeByte(byte(composition.MemberNone))
	}
	if err := w.writeByte(byte(m.Kind())); err != nil {
		return err
	}
	isNew, err := w.writeRef(m, false)
	if err != nil || !isNew {
		return err
	}
	if err := w.writeType(m.Declaring()); err != nil {
		return err
	}
	if err := w.writeHandle(m.Token()); err != nil {
		return err
	}

	switch m := m.(type) {
	case *composition.PropertyDescriptor:
		var flags byte
		if m.Getter != nil {
			flags |= propertyHasGetter
		}
		if m.Setter != nil {
			flags |= propertyHasSetter
		}
		if err := w.writeByte(flags); err != nil {
			return err
		}
		if m.Getter != nil {
			if err := w.writeHandle(*m.Getter); err != nil {
				return err
			}
		}
		if m.Setter != nil {
			return w.writeHandle(*m.Setter)
		}
	case *composition.MethodDescriptor:
		return w.writeTypes(m.GenericArgs)
	}
	return nil
}

func (w *Writer) writeParameter(p *composition.ParameterDescriptor) error {
	if p == nil {
		return w.writeBool(false)
	}
	if err := w.writeBool(true); err != nil {
		return err
	}
	if err := w.writeModule(p.Module); err != nil {
		return err
	}
	if err := w.writeHandle(p.Method); err != nil {
		return err
	}
	return w.writeCount(p.Index)
}

func (w *Writer) writeExport(e *composition.Export) error {
	isNew, err := w.writeRef(e, e == nil)
	if err != nil || !isNew {
		return err
	}
	if err := w.writeString(e.ContractName); err != nil {
		return err
	}
	if err := w.writeType(e.DeclaringType); err != nil {
		return err
	}
	if err := w.writeMember(e.Member); err != nil {
		return err
	}
	if err := w.writeType(e.ExportedValueType); err != nil {
		return err
	}
	return w.writeMetadata(e.Metadata)
}

func (w *Writer) writeExports(list []*composition.Export) error {
	if err := w.writeCount(len(list)); err != nil {
		return err
	}
	for i, e := range list {
		if e == nil {
			return fmt.Errorf("codec: export %d is nil", i)
		}
		if err := w.writeExport(e); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeImport(imp *composition.Import) error {
	if err := imp.Target.Validate(); err != nil {
		return err
	}
	if imp.Target.IsParameter() {
		if err := w.writeByte(targetParameter); err != nil {
			return err
		}
		if err := w.writeParameter(imp.Target.Parameter); err != nil {
			return err
		}
	} else {
		if err := w.writeByte(targetMember); err != nil {
			return err
		}
		if err := w.writeMember(imp.Target.Member); err != nil {
			return err
		}
	}
	if err := w.writeType(imp.SiteType); err != nil {
		return err
	}
	if !imp.Cardinality.Valid() {
		return fmt.Errorf("codec: invalid cardinality %d", imp.Cardinality)
	}
	if err := w.writeByte(byte(imp.Cardinality)); err != nil {
		return err
	}
	if err := w.writeExports(imp.SatisfyingExports); err != nil {
		return err
	}
	if err := w.writeBool(imp.NonSharedInstanceRequired); err != nil {
		return err
	}
	if err := w.writeType(imp.ExportFactoryType); err != nil {
		return err
	}
	if err := w.writeStrings(imp.ExportFactorySharingBoundaries); err != nil {
		return err
	}
	return w.writeMetadata(imp.Metadata)
}

func (w *Writer) writeImports(list []*composition.Import) error {
	if err := w.writeCount(len(list)); err != nil {
		return err
	}
	for i, imp := range list {
		if imp == nil {
			return fmt.Errorf("codec: import %d is nil", i)
		}
		if err := w.writeImport(imp); err != nil {
			return fmt.Errorf("import %d: %w", i, err)
		}
	}
	return nil
}

func (w *Writer) writePart(p *composition.Part) error {
	if p == nil {
		return errors.New("codec: nil part")
	}
	if err := w.writeType(p.Type); err != nil {
		return err
	}
	if err := w.writeMember(p.ImportingConstructor); err != nil {
		return err
	}
	if err := w.writeImports(p.ConstructorArguments); err != nil {
		return err
	}
	if err := w.writeImports(p.ImportingMembers); err != nil {
		return err
	}
	if err := w.writeExports(p.Exports); err != nil {
		return err
	}
	if err := w.writeMember(p.OnImportsSatisfied); err != nil {
		return err
	}
	return w.writeOptionalString(p.SharingBoundary, p.Shared)
}
