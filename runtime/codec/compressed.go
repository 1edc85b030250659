package codec

import (
	"fmt"
	"io"
)

// MaxCompressedUint is the largest value the compressed encoding can carry.
const MaxCompressedUint = 0x1FFFFFFF

// AppendCompressedUint appends v in compressed form to dst.
//
// The encoding uses the high bits of the first byte as a length marker:
//
//	0xxxxxxx                             values up to 0x7F (1 byte)
//	10xxxxxx xxxxxxxx                    values up to 0x3FFF (2 bytes)
//	110xxxxx xxxxxxxx xxxxxxxx xxxxxxxx  values up to 0x1FFFFFFF (4 bytes)
//
// Payload bits are big-endian, so the decoder knows the length from the
// first byte alone.
func AppendCompressedUint(dst []byte, v uint32) ([]byte, error) {
	switch {
	case v <= 0x7F:
		return append(dst, byte(v)), nil
	case v <= 0x3FFF:
		return append(dst, byte(v>>8)|0x80, byte(v)), nil
	case v <= MaxCompressedUint:
		return append(dst, byte(v>>24)|0xC0, byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return dst, fmt.Errorf("codec: value %d exceeds compressed integer range", v)
	}
}

// CompressedUintLen returns the number of bytes AppendCompressedUint uses for v,
// or 0 when v is out of range.
func CompressedUintLen(v uint32) int {
	switch {
	case v <= 0x7F:
		return 1
	case v <= 0x3FFF:
		return 2
	case v <= MaxCompressedUint:
		return 4
	default:
		return 0
	}
}

// ReadCompressedUint reads one compressed integer from r.
//
// io.EOF is returned only when r is exhausted before the first byte; running
// out in the middle of a value is io.ErrUnexpectedEOF. A first byte with the
// 111 prefix is ErrMalformedInteger.
func ReadCompressedUint(r io.ByteReader) (uint32, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	var extra int
	var v uint32
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		extra, v = 1, uint32(b0&0x3F)
	case b0&0xE0 == 0xC0:
		extra, v = 3, uint32(b0&0x1F)
	default:
		return 0, fmt.Errorf("%w: leading byte 0x%02x", ErrMalformedInteger, b0)
	}

	for i := 0; i < extra; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v = v<<8 | uint32(b)
	}
	return v, nil
}
