// Package coordinator serves composition graphs from a blob store, rebuilding
// them from discovery whenever the stored copy is missing or unreadable.
package coordinator

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/conduit-lang/compcache/runtime/codec"
)

// Fingerprint computes a cache key over the codec format version and the
// given inputs. Each input is length-prefixed, so ("ab", "c") and ("a", "bc")
// produce different keys.
func Fingerprint(inputs ...[]byte) string {
	h := newFingerprintHash()
	for _, in := range inputs {
		writeLength(h, int64(len(in)))
		h.Write(in)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintFiles computes a cache key over the contents of the given files,
// in order. The file names themselves are not part of the key.
func FingerprintFiles(paths ...string) (string, error) {
	h := newFingerprintHash()
	for _, path := range paths {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func newFingerprintHash() hash.Hash {
	h := sha256.New()
	writeLength(h, codec.FormatVersion)
	return h
}

func hashFile(h hash.Hash, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	writeLength(h, info.Size())
	if _, err := io.Copy(h, file); err != nil {
		return err
	}
	return nil
}

func writeLength(h hash.Hash, n int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
