package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// blobExt marks files owned by a FileStore.
const blobExt = ".blob"

// FileStore keeps one file per blob in a directory. Each file starts with an
// 8-byte big-endian expiry in Unix nanoseconds (0 for none), followed by the
// blob. Writes go through a temporary file and a rename, so readers never see
// a partial blob.
type FileStore struct {
	dir    string
	config Config
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string, config Config) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, config: config}, nil
}

// Dir returns the store's directory.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(key string) (string, error) {
	name := f.config.Prefix + key
	if key == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(f.dir, name+blobExt), nil
}

// Get retrieves a blob
func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMiss{Key: key}
		}
		return nil, err
	}
	if len(data) < 8 {
		// Truncated by an outside writer; treat as gone.
		_ = os.Remove(path)
		return nil, ErrMiss{Key: key}
	}

	if exp := int64(binary.BigEndian.Uint64(data[:8])); exp != 0 && time.Now().UnixNano() > exp {
		_ = os.Remove(path)
		return nil, ErrMiss{Key: key}
	}
	return data[8:], nil
}

// Set stores a blob with a TTL
func (f *FileStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	path, err := f.path(key)
	if err != nil {
		return err
	}

	var exp int64
	if t := f.config.expiry(ttl); !t.IsZero() {
		exp = t.UnixNano()
	}
	buf := make([]byte, 8, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(exp))
	buf = append(buf, value...)

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Delete removes a blob
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes every blob under the prefix
func (f *FileStore) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, blobExt) || !strings.HasPrefix(name, f.config.Prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Exists checks if a key exists
func (f *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := f.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case IsMiss(err):
		return false, nil
	default:
		return false, err
	}
}
