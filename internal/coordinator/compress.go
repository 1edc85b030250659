package coordinator

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxGraphSize bounds the inflated size of a stored graph.
const DefaultMaxGraphSize = 64 << 20

// ErrTooLarge is returned when a blob inflates past the configured limit.
var ErrTooLarge = errors.New("decompressed graph exceeds size limit")

// gzipMagic opens every gzip member (RFC 1952).
var gzipMagic = []byte{0x1f, 0x8b}

// Compress compresses data using gzip compression.
// Graphs are written once and read many times, so the best level is used.
func Compress(data []byte) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("data cannot be nil")
	}

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// IsCompressed reports whether data starts with the gzip magic number.
// An uncompressed stream never does: its first byte is the format version.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Decompress decompresses gzip-compressed data up to DefaultMaxGraphSize.
// Data without the gzip magic number is returned unchanged, so raw codec
// streams load as well.
func Decompress(data []byte) ([]byte, error) {
	return DecompressLimit(data, DefaultMaxGraphSize)
}

// DecompressLimit is Decompress with an explicit ceiling on the inflated
// size. A non-positive limit means DefaultMaxGraphSize.
func DecompressLimit(data []byte, limit int64) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("data cannot be nil")
	}
	if !IsCompressed(data) {
		return data, nil
	}
	if limit <= 0 {
		limit = DefaultMaxGraphSize
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	// One byte past the limit tells an exact fit from an overflow.
	decompressed, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	if int64(len(decompressed)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}

	return decompressed, nil
}
