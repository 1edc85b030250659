package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/conduit-lang/compcache/runtime/composition"
)

// Reader reconstructs one composition graph from a stream.
//
// Reconstruction is all-or-nothing: any failure aborts the pass with a
// *DecodeError and no partial graph is returned.
type Reader struct {
	in    *offsetReader
	opts  options
	table *readTable
	used  bool
}

// offsetReader counts consumed bytes so failures can report a stream offset.
type offsetReader struct {
	r   *bufio.Reader
	off int64
}

func (o *offsetReader) ReadByte() (byte, error) {
	b, err := o.r.ReadByte()
	if err == nil {
		o.off++
	}
	return b, err
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	o.off += int64(n)
	return n, err
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Reader{
		in:    &offsetReader{r: bufio.NewReader(r)},
		opts:  o,
		table: newReadTable(),
	}
}

// ReadParts reads the format header and the part list. A Reader runs exactly one pass.
func (r *Reader) ReadParts() ([]*composition.Part, error) {
	if r.used {
		return nil, ErrSessionUsed
	}
	r.used = true

	version, err := r.readUint("header")
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, r.fail("header", fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, FormatVersion))
	}

	n, err := r.readCount("parts")
	if err != nil {
		return nil, err
	}
	parts := make([]*composition.Part, 0, n)
	for i := 0; i < n; i++ {
		p, err := r.readPart()
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// ReadGraph reads the part list and builds a graph with composition.NewGraph.
func (r *Reader) ReadGraph() (*composition.Graph, error) {
	parts, err := r.ReadParts()
	if err != nil {
		return nil, err
	}
	g, err := composition.NewGraph(parts)
	if err != nil {
		return nil, r.fail("graph", err)
	}
	return g, nil
}

// Stats reports the bytes consumed and the interning activity so far.
func (r *Reader) Stats() Stats {
	return Stats{Bytes: r.in.off, Objects: r.table.len(), BackReferences: r.table.refs}
}

// fail wraps err in a *DecodeError at the current offset, unless it already is one.
func (r *Reader) fail(entity string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &DecodeError{Offset: r.in.off, Entity: entity, Err: err}
}

// Primitives

func (r *Reader) readByte(entity string) (byte, error) {
	b, err := r.in.ReadByte()
	if err != nil {
		return 0, r.fail(entity, err)
	}
	return b, nil
}

func (r *Reader) readBool(entity string) (bool, error) {
	b, err := r.readByte(entity)
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, r.fail(entity, fmt.Errorf("%w: boolean byte %d", ErrCorrupt, b))
}

func (r *Reader) readUint(entity string) (uint32, error) {
	v, err := ReadCompressedUint(r.in)
	if err != nil {
		return 0, r.fail(entity, err)
	}
	return v, nil
}

// readCount reads a collection count and enforces the sanity ceiling before
// anything is allocated for it.
func (r *Reader) readCount(entity string) (int, error) {
	v, err := r.readUint(entity)
	if err != nil {
		return 0, err
	}
	if int64(v) > int64(r.opts.maxCount) {
		return 0, r.fail(entity, fmt.Errorf("%w: %d > %d", ErrCountTooLarge, v, r.opts.maxCount))
	}
	return int(v), nil
}

func (r *Reader) readHandle(entity string) (composition.Handle, error) {
	var buf [4]byte
	_, err := io.ReadFull(r.in, buf[:])
	if err != nil {
		return 0, r.fail(entity, err)
	}
	return composition.Handle(int32(binary.LittleEndian.Uint32(buf[:]))), nil
}

func (r *Reader) readBlob(entity string) ([]byte, error) {
	v, err := r.readUint(entity)
	if err != nil {
		return nil, err
	}
	if int64(v) > int64(r.opts.maxBlob) {
		return nil, r.fail(entity, fmt.Errorf("%w: length %d > %d", ErrCountTooLarge, v, r.opts.maxBlob))
	}
	buf := make([]byte, v)
	_, err = io.ReadFull(r.in, buf)
	if err != nil {
		return nil, r.fail(entity, err)
	}
	return buf, nil
}

// readRef reads an interning ID. It returns the object already registered for
// it, or isNew when the body follows.
func (r *Reader) readRef(entity string) (id uint32, existing any, isNew bool, err error) {
	id, err = r.readUint(entity)
	if err != nil {
		return 0, nil, false, err
	}
	existing, isNew, err = r.table.lookup(id)
	if err != nil {
		return 0, nil, false, r.fail(entity, err)
	}
	return id, existing, isNew, nil
}

func (r *Reader) register(entity string, id uint32, v any) error {
	if err := r.table.register(id, v); err != nil {
		return r.fail(entity, err)
	}
	return nil
}

func (r *Reader) wrongKind(entity string, got any) error {
	return r.fail(entity, fmt.Errorf("%w: reference resolves to %T", ErrCorrupt, got))
}

func (r *Reader) readOptionalString(entity string) (string, bool, error) {
	id, existing, isNew, err := r.readRef(entity)
	if err != nil {
		return "", false, err
	}
	switch {
	case id == 0:
		return "", false, nil
	case !isNew:
		s, ok := existing.(string)
		if !ok {
			return "", false, r.wrongKind(entity, existing)
		}
		return s, true, nil
	}
	buf, err := r.readBlob(entity)
	if err != nil {
		return "", false, err
	}
	s := string(buf)
	if err := r.register(entity, id, s); err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (r *Reader) readString(entity string) (string, error) {
	s, ok, err := r.readOptionalString(entity)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", r.fail(entity, fmt.Errorf("%w: missing required string", ErrCorrupt))
	}
	return s, nil
}

func (r *Reader) readStrings(entity string) ([]string, error) {
	n, err := r.readCount(entity)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = r.readString(entity); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Entities

func (r *Reader) readModule() (*composition.ModuleIdentity, error) {
	id, existing, isNew, err := r.readRef("module")
	if err != nil || id == 0 {
		return nil, err
	}
	if !isNew {
		m, ok := existing.(*composition.ModuleIdentity)
		if !ok {
			return nil, r.wrongKind("module", existing)
		}
		return m, nil
	}

	m := &composition.ModuleIdentity{}
	if err := r.register("module", id, m); err != nil {
		return nil, err
	}
	if m.Name, err = r.readString("module name"); err != nil {
		return nil, err
	}
	if m.Location, _, err = r.readOptionalString("module location"); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Reader) readType() (*composition.TypeDescriptor, error) {
	id, existing, isNew, err := r.readRef("type")
	if err != nil || id == 0 {
		return nil, err
	}
	if !isNew {
		t, ok := existing.(*composition.TypeDescriptor)
		if !ok {
			return nil, r.wrongKind("type", existing)
		}
		return t, nil
	}

	// Registered before the body so generic arguments can point back at it.
	t := &composition.TypeDescriptor{}
	if err := r.register("type", id, t); err != nil {
		return nil, err
	}
	if t.Module, err = r.readModule(); err != nil {
		return nil, err
	}
	if t.Handle, err = r.readHandle("type handle"); err != nil {
		return nil, err
	}
	if t.FullName, err = r.readString("type name"); err != nil {
		return nil, err
	}
	if t.IsArray, err = r.readBool("type array flag"); err != nil {
		return nil, err
	}
	if t.GenericArity, err = r.readCount("generic arity"); err != nil {
		return nil, err
	}
	if t.GenericArgs, err = r.readTypes("generic arguments"); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Reader) readTypes(entity string) ([]*composition.TypeDescriptor, error) {
	n, err := r.readCount(entity)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]*composition.TypeDescriptor, n)
	for i := range out {
		if out[i], err = r.readType(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reader) readMember() (composition.MemberDescriptor, error) {
	tag, err := r.readByte("member")
	if err != nil {
		return nil, err
	}
	kind := composition.MemberKind(tag)
	if kind == composition.MemberNone {
		return nil, nil
	}
	if kind > composition.MemberMethod {
		return nil, r.fail("member", fmt.Errorf("%w: member kind %d", ErrCorrupt, tag))
	}

	id, existing, isNew, err := r.readRef("member")
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, r.fail("member", fmt.Errorf("%w: %s member without reference", ErrCorrupt, kind))
	}
	if !isNew {
		m, ok := existing.(composition.MemberDescriptor)
		if !ok || m.Kind() != kind {
			return nil, r.wrongKind("member", existing)
		}
		return m, nil
	}

	switch kind {
	case composition.MemberConstructor:
		m := &composition.ConstructorDescriptor{}
		if err := r.register("member", id, m); err != nil {
			return nil, err
		}
		m.DeclaringType, m.Handle, err = r.readMemberHead()
		return m, err
	case composition.MemberField:
		m := &composition.FieldDescriptor{}
		if err := r.register("member", id, m); err != nil {
			return nil, err
		}
		m.DeclaringType, m.Handle, err = r.readMemberHead()
		return m, err
	case composition.MemberProperty:
		m := &composition.PropertyDescriptor{}
		if err := r.register("member", id, m); err != nil {
			return nil, err
		}
		if m.DeclaringType, m.Handle, err = r.readMemberHead(); err != nil {
			return nil, err
		}
		return m, r.readAccessors(m)
	default:
		m := &composition.MethodDescriptor{}
		if err := r.register("member", id, m); err != nil {
			return nil, err
		}
		if m.DeclaringType, m.Handle, err = r.readMemberHead(); err != nil {
			return nil, err
		}
		m.GenericArgs, err = r.readTypes("generic method arguments")
		return m, err
	}
}

func (r *Reader) readMemberHead() (*composition.TypeDescriptor, composition.Handle, error) {
	t, err := r.readType()
	if err != nil {
		return nil, 0, err
	}
	h, err := r.readHandle("member handle")
	if err != nil {
		return nil, 0, err
	}
	return t, h, nil
}

func (r *Reader) readAccessors(p *composition.PropertyDescriptor) error {
	flags, err := r.readByte("property flags")
	if err != nil {
		return err
	}
	if flags&^(propertyHasGetter|propertyHasSetter) != 0 {
		return r.fail("property flags", fmt.Errorf("%w: property flags 0x%02x", ErrCorrupt, flags))
	}
	if flags&propertyHasGetter != 0 {
		h, err := r.readHandle("property getter")
		if err != nil {
			return err
		}
		p.Getter = &h
	}
	if flags&propertyHasSetter != 0 {
		h, err := r.readHandle("property setter")
		if err != nil {
			return err
		}
		p.Setter = &h
	}
	return nil
}

func (r *Reader) readParameter() (*composition.ParameterDescriptor, error) {
	present, err := r.readBool("parameter")
	if err != nil || !present {
		return nil, err
	}
	p := &composition.ParameterDescriptor{}
	if p.Module, err = r.readModule(); err != nil {
		return nil, err
	}
	if p.Method, err = r.readHandle("parameter method"); err != nil {
		return nil, err
	}
	index, err := r.readUint("parameter index")
	if err != nil {
		return nil, err
	}
	p.Index = int(index)
	return p, nil
}

func (r *Reader) readExport() (*composition.Export, error) {
	id, existing, isNew, err := r.readRef("export")
	if err != nil || id == 0 {
		return nil, err
	}
	if !isNew {
		e, ok := existing.(*composition.Export)
		if !ok {
			return nil, r.wrongKind("export", existing)
		}
		return e, nil
	}

	e := &composition.Export{}
	if err := r.register("export", id, e); err != nil {
		return nil, err
	}
	if e.ContractName, err = r.readString("contract name"); err != nil {
		return nil, err
	}
	if e.DeclaringType, err = r.readType(); err != nil {
		return nil, err
	}
	if e.Member, err = r.readMember(); err != nil {
		return nil, err
	}
	if e.ExportedValueType, err = r.readType(); err != nil {
		return nil, err
	}
	if e.Metadata, err = r.readMetadata(); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Reader) readExports(entity string) ([]*composition.Export, error) {
	n, err := r.readCount(entity)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]*composition.Export, n)
	for i := range out {
		e, err := r.readExport()
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, r.fail(entity, fmt.Errorf("%w: absent export in list", ErrCorrupt))
		}
		out[i] = e
	}
	return out, nil
}

func (r *Reader) readImport() (*composition.Import, error) {
	tag, err := r.readByte("import target")
	if err != nil {
		return nil, err
	}

	imp := &composition.Import{}
	switch tag {
	case targetMember:
		m, err := r.readMember()
		if err != nil {
			return nil, err
		}
		imp.Target = composition.MemberTarget(m)
	case targetParameter:
		p, err := r.readParameter()
		if err != nil {
			return nil, err
		}
		imp.Target = composition.ParameterTarget(p)
	default:
		return nil, r.fail("import target", fmt.Errorf("%w: import target tag %d", ErrCorrupt, tag))
	}
	if err := imp.Target.Validate(); err != nil {
		return nil, r.fail("import target", fmt.Errorf("%w: %v", ErrCorrupt, err))
	}

	if imp.SiteType, err = r.readType(); err != nil {
		return nil, err
	}
	card, err := r.readByte("cardinality")
	if err != nil {
		return nil, err
	}
	imp.Cardinality = composition.Cardinality(card)
	if !imp.Cardinality.Valid() {
		return nil, r.fail("cardinality", fmt.Errorf("%w: cardinality %d", ErrCorrupt, card))
	}
	if imp.SatisfyingExports, err = r.readExports("satisfying exports"); err != nil {
		return nil, err
	}
	if imp.NonSharedInstanceRequired, err = r.readBool("non-shared flag"); err != nil {
		return nil, err
	}
	if imp.ExportFactoryType, err = r.readType(); err != nil {
		return nil, err
	}
	if imp.ExportFactorySharingBoundaries, err = r.readStrings("sharing boundaries"); err != nil {
		return nil, err
	}
	if imp.Metadata, err = r.readMetadata(); err != nil {
		return nil, err
	}
	return imp, nil
}

func (r *Reader) readImports(entity string) ([]*composition.Import, error) {
	n, err := r.readCount(entity)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]*composition.Import, n)
	for i := range out {
		if out[i], err = r.readImport(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reader) readPart() (*composition.Part, error) {
	var err error
	p := &composition.Part{}
	if p.Type, err = r.readType(); err != nil {
		return nil, err
	}
	if p.Type == nil {
		return nil, r.fail("part", fmt.Errorf("%w: part without type", ErrCorrupt))
	}
	if p.ImportingConstructor, err = r.readMember(); err != nil {
		return nil, err
	}
	if p.ConstructorArguments, err = r.readImports("constructor arguments"); err != nil {
		return nil, err
	}
	if p.ImportingMembers, err = r.readImports("importing members"); err != nil {
		return nil, err
	}
	if p.Exports, err = r.readExports("exports"); err != nil {
		return nil, err
	}
	if p.OnImportsSatisfied, err = r.readMember(); err != nil {
		return nil, err
	}
	if p.SharingBoundary, p.Shared, err = r.readOptionalString("sharing boundary"); err != nil {
		return nil, err
	}
	return p, nil
}
