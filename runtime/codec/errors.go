package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is returned when the stream holds bytes no writer produces:
	// unknown discriminants, out-of-sequence references, wrong reference kinds.
	ErrCorrupt = errors.New("codec: corrupt stream")

	// ErrCountTooLarge is returned when a collection count exceeds the reader's ceiling.
	ErrCountTooLarge = errors.New("codec: collection count exceeds limit")

	// ErrMalformedInteger is returned when a compressed integer has an invalid prefix.
	ErrMalformedInteger = errors.New("codec: malformed compressed integer")

	// ErrUnsupportedVersion is returned when the stream was written in another format version.
	ErrUnsupportedVersion = errors.New("codec: unsupported format version")

	// ErrUnsupportedPayload is returned when an opaque metadata value cannot be materialized.
	ErrUnsupportedPayload = errors.New("codec: unsupported opaque payload")

	// ErrSessionUsed is returned when a Writer or Reader is asked to run a second pass.
	ErrSessionUsed = errors.New("codec: session already used")
)

// DecodeError describes where a read pass failed. Every failure of a Reader
// pass is a *DecodeError; the cause is available through errors.Is/As.
type DecodeError struct {
	Offset int64  // Stream offset at which the failure was detected
	Entity string // Entity being decoded, e.g. "type" or "metadata"
	Err    error  // Underlying cause
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode %s at offset %d: %v", e.Entity, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err came from a failed read pass.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// UnsupportedValueError is returned when a metadata value has no encoding:
// it is outside the known kinds and the opaque codec rejected it or is disabled.
type UnsupportedValueError struct {
	Key  string // Metadata key holding the value
	Type string // Go type of the value
	Err  error  // Cause reported by the opaque codec, if any
}

func (e *UnsupportedValueError) Error() string {
	msg := fmt.Sprintf("codec: metadata %q: value of type %s cannot be serialized", e.Key, e.Type)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnsupportedValueError) Unwrap() error { return e.Err }
