// Package codec reads and writes composition graphs in a compact binary form.
//
// A stream starts with the compressed format version and is followed by the
// part list. Repeated or cyclic objects (strings, module identities, type
// descriptors, member descriptors and exports) are interned: the first
// occurrence carries a fresh ID followed by the body, later occurrences carry
// only the ID, and ID 0 means absent. Interning is what lets cyclic type
// descriptors serialize in bounded space and what preserves shared Export
// instances across a round trip.
//
// A Writer or Reader is one single-threaded session. Separate sessions over
// separate streams share nothing and may run concurrently.
package codec

import "github.com/conduit-lang/compcache/runtime/composition"

// FormatVersion is written at the start of every stream.
const FormatVersion = 1

// DefaultMaxCollectionCount is the default ceiling on decoded collection counts.
const DefaultMaxCollectionCount = 65535

// DefaultMaxBlobSize is the default ceiling on decoded string and opaque payload lengths.
const DefaultMaxBlobSize = 16 << 20

// maxValueDepth bounds nested metadata arrays on read.
const maxValueDepth = 32

// ValueKind tags a metadata value on the wire.
type ValueKind byte

const (
	KindNull ValueKind = iota
	KindString
	KindPolicy
	KindType
	KindArray
	KindTypeRef
	KindOpaque
)

// Import target tags.
const (
	targetMember    byte = 1
	targetParameter byte = 2
)

// Property accessor flags.
const (
	propertyHasGetter byte = 1 << 0
	propertyHasSetter byte = 1 << 1
)

// OpaquePolicy decides what a Reader does with an opaque metadata value it
// cannot materialize.
type OpaquePolicy int

const (
	// OpaqueStrict fails the whole read pass.
	OpaqueStrict OpaquePolicy = iota
	// OpaqueSentinel substitutes a *composition.UnresolvableValue and continues.
	OpaqueSentinel
)

type options struct {
	opaque   OpaqueCodec
	policy   OpaquePolicy
	resolver composition.Resolver
	maxCount int
	maxBlob  int
}

func defaultOptions() options {
	return options{
		opaque:   NewProtoOpaqueCodec(),
		policy:   OpaqueStrict,
		maxCount: DefaultMaxCollectionCount,
		maxBlob:  DefaultMaxBlobSize,
	}
}

// Option configures a Writer or Reader.
type Option func(*options)

// WithOpaqueCodec sets the fallback serializer for metadata values outside the
// known kinds. A nil codec disables the fallback: writers reject such values
// and readers reject opaque entries.
func WithOpaqueCodec(c OpaqueCodec) Option {
	return func(o *options) { o.opaque = c }
}

// WithOpaquePolicy sets how a Reader handles opaque values it cannot materialize.
func WithOpaquePolicy(p OpaquePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithResolver sets the resolver attached to metadata produced by a Reader.
func WithResolver(r composition.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithMaxCollectionCount sets the ceiling on decoded collection counts.
// Values below 1 keep the default.
func WithMaxCollectionCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxCount = n
		}
	}
}

// WithMaxBlobSize sets the ceiling on decoded string and opaque payload lengths.
// Values below 1 keep the default.
func WithMaxBlobSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBlob = n
		}
	}
}

// Stats summarizes one session.
type Stats struct {
	Bytes          int64 // Bytes written or read
	Objects        int   // Distinct interned objects
	BackReferences int   // Interned occurrences encoded as a bare ID
}
