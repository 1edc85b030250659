package codec

import (
	"fmt"

	"github.com/conduit-lang/compcache/runtime/composition"
)

// Metadata entries are written as: count, then per entry an interned key, a
// ValueKind byte and the kind-specific payload. Only type-valued entries are
// special-cased so that reading metadata never forces a type to load; any
// value outside the known kinds goes through the opaque codec.

func (w *Writer) writeMetadata(m *composition.Metadata) error {
	entries := m.Entries()
	if err := w.writeCount(len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.writeString(e.Key); err != nil {
			return err
		}
		if err := w.writeValue(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeValue(key string, v any) error {
	switch v := v.(type) {
	case nil:
		return w.writeByte(byte(KindNull))
	case string:
		if err := w.writeByte(byte(KindString)); err != nil {
			return err
		}
		return w.writeString(v)
	case composition.CreationPolicy:
		if !v.Valid() {
			return &UnsupportedValueError{Key: key, Type: fmt.Sprintf("%T", v), Err: fmt.Errorf("invalid policy %d", v)}
		}
		if err := w.writeByte(byte(KindPolicy)); err != nil {
			return err
		}
		return w.writeByte(byte(v))
	case *composition.TypeDescriptor:
		if v == nil {
			return w.writeByte(byte(KindNull))
		}
		if err := w.writeByte(byte(KindTypeRef)); err != nil {
			return err
		}
		return w.writeType(v)
	case *composition.DeferredType:
		if v == nil {
			return w.writeByte(byte(KindNull))
		}
		return w.writeTypeValue(v)
	case composition.Type:
		return w.writeTypeValue(v)
	case *composition.MetadataArray:
		if v == nil {
			return w.writeByte(byte(KindNull))
		}
		if err := w.writeByte(byte(KindArray)); err != nil {
			return err
		}
		if err := w.writeType(v.ElementType); err != nil {
			return err
		}
		if err := w.writeCount(len(v.Items)); err != nil {
			return err
		}
		for _, item := range v.Items {
			if err := w.writeValue(key, item); err != nil {
				return err
			}
		}
		return nil
	case *composition.UnresolvableValue:
		if v == nil {
			return w.writeByte(byte(KindNull))
		}
		if err := w.writeByte(byte(KindOpaque)); err != nil {
			return err
		}
		return w.writeBytes(v.Payload)
	default:
		if w.opts.opaque == nil {
			return &UnsupportedValueError{Key: key, Type: fmt.Sprintf("%T", v)}
		}
		data, err := w.opts.opaque.Marshal(v)
		if err != nil {
			return &UnsupportedValueError{Key: key, Type: fmt.Sprintf("%T", v), Err: err}
		}
		if err := w.writeByte(byte(KindOpaque)); err != nil {
			return err
		}
		return w.writeBytes(data)
	}
}

// writeTypeValue writes a loaded type by its descriptor. A type without a
// descriptor is written as null.
func (w *Writer) writeTypeValue(t composition.Type) error {
	desc := t.Descriptor()
	if desc == nil {
		return w.writeByte(byte(KindNull))
	}
	if err := w.writeByte(byte(KindType)); err != nil {
		return err
	}
	return w.writeType(desc)
}

func (r *Reader) readMetadata() (*composition.Metadata, error) {
	n, err := r.readCount("metadata")
	if err != nil {
		return nil, err
	}
	entries := make([]composition.MetadataEntry, 0, n)
	for i := 0; i < n; i++ {
		key, err := r.readString("metadata key")
		if err != nil {
			return nil, err
		}
		v, err := r.readValue(key, 0)
		if err != nil {
			return nil, err
		}
		entries = append(entries, composition.MetadataEntry{Key: key, Value: v})
	}
	return composition.NewLazyMetadata(entries, r.opts.resolver), nil
}

func (r *Reader) readValue(key string, depth int) (any, error) {
	if depth > maxValueDepth {
		return nil, r.fail("metadata value", fmt.Errorf("%w: metadata %q nested deeper than %d", ErrCorrupt, key, maxValueDepth))
	}
	tag, err := r.readByte("metadata value")
	if err != nil {
		return nil, err
	}

	switch ValueKind(tag) {
	case KindNull:
		return nil, nil
	case KindString:
		return r.readString("metadata value")
	case KindPolicy:
		b, err := r.readByte("policy")
		if err != nil {
			return nil, err
		}
		p := composition.CreationPolicy(b)
		if !p.Valid() {
			return nil, r.fail("policy", fmt.Errorf("%w: creation policy %d", ErrCorrupt, b))
		}
		return p, nil
	case KindType:
		t, err := r.readType()
		if err != nil {
			return nil, err
		}
		return &composition.DeferredType{Desc: t}, nil
	case KindTypeRef:
		t, err := r.readType()
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, nil
		}
		return t, nil
	case KindArray:
		elem, err := r.readType()
		if err != nil {
			return nil, err
		}
		n, err := r.readCount("metadata array")
		if err != nil {
			return nil, err
		}
		items := make([]any, n)
		for i := range items {
			if items[i], err = r.readValue(key, depth+1); err != nil {
				return nil, err
			}
		}
		return &composition.MetadataArray{ElementType: elem, Items: items}, nil
	case KindOpaque:
		return r.readOpaque(key)
	default:
		return nil, r.fail("metadata value", fmt.Errorf("%w: metadata %q: value kind %d", ErrCorrupt, key, tag))
	}
}

func (r *Reader) readOpaque(key string) (any, error) {
	payload, err := r.readBlob("opaque payload")
	if err != nil {
		return nil, err
	}

	var cause error
	if r.opts.opaque == nil {
		cause = fmt.Errorf("%w: opaque metadata disabled", ErrUnsupportedPayload)
	} else {
		v, err := r.opts.opaque.Unmarshal(payload)
		if err == nil {
			return v, nil
		}
		cause = err
	}

	if r.opts.policy == OpaqueSentinel {
		return &composition.UnresolvableValue{Payload: payload, Err: cause}, nil
	}
	return nil, r.fail("opaque payload", fmt.Errorf("metadata %q: %w", key, cause))
}
