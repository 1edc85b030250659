package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Shared behavior
// ============================================================================

// backend creates stores that share one underlying backend, one per prefix.
type backend struct {
	name    string
	open    func(t *testing.T, prefix string) Store
	expire  func(t *testing.T) // makes a 1ms TTL elapse
	sharing bool               // stores with different prefixes see the same data
}

func sleepExpire(*testing.T) { time.Sleep(20 * time.Millisecond) }

func backends(t *testing.T) []backend {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := setupSQLite(t)
	dir := t.TempDir()

	return []backend{
		{
			name: "memory",
			open: func(t *testing.T, prefix string) Store {
				s, err := NewMemoryStoreWithConfig(16, Config{Prefix: prefix})
				require.NoError(t, err)
				return s
			},
			expire: sleepExpire,
		},
		{
			name: "file",
			open: func(t *testing.T, prefix string) Store {
				s, err := NewFileStore(dir, Config{Prefix: prefix})
				require.NoError(t, err)
				return s
			},
			expire:  sleepExpire,
			sharing: true,
		},
		{
			name: "redis",
			open: func(t *testing.T, prefix string) Store {
				return NewRedisStoreWithClient(client, Config{Prefix: prefix})
			},
			expire:  func(*testing.T) { mr.FastForward(time.Second) },
			sharing: true,
		},
		{
			name: "sqlite",
			open: func(t *testing.T, prefix string) Store {
				s, err := NewSQLStore(context.Background(), db, SQLite, "", Config{Prefix: prefix})
				require.NoError(t, err)
				return s
			},
			expire:  sleepExpire,
			sharing: true,
		},
	}
}

func setupSQLite(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStores_SetAndGet(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, "get:")
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "graph", []byte{0x01, 0x02, 0x00}, time.Minute))
			got, err := s.Get(ctx, "graph")
			require.NoError(t, err)
			assert.Equal(t, []byte{0x01, 0x02, 0x00}, got)

			// Overwrite
			require.NoError(t, s.Set(ctx, "graph", []byte("v2"), time.Minute))
			got, err = s.Get(ctx, "graph")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)

			// Empty blobs are stored as-is
			require.NoError(t, s.Set(ctx, "empty", []byte{}, -1))
			got, err = s.Get(ctx, "empty")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStores_Miss(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, "miss:")
			ctx := context.Background()

			_, err := s.Get(ctx, "nope")
			require.Error(t, err)
			assert.True(t, IsMiss(err))
			var miss ErrMiss
			require.True(t, errors.As(err, &miss))
			assert.Equal(t, "nope", miss.Key)

			ok, err := s.Exists(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, s.Delete(ctx, "nope"))
		})
	}
}

func TestStores_ExistsAndDelete(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, "del:")
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
			ok, err := s.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Delete(ctx, "k"))
			ok, err = s.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStores_Expiry(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, "ttl:")
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "short", []byte("v"), time.Millisecond))
			require.NoError(t, s.Set(ctx, "forever", []byte("v"), -1))
			b.expire(t)

			_, err := s.Get(ctx, "short")
			assert.True(t, IsMiss(err), "got %v", err)
			ok, err := s.Exists(ctx, "short")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, "forever")
			assert.NoError(t, err)
		})
	}
}

func TestStores_ClearRespectsPrefix(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			mine := b.open(t, "mine:")
			theirs := b.open(t, "theirs:")
			if !b.sharing {
				theirs = mine
			}

			for i := 0; i < 3; i++ {
				require.NoError(t, mine.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), -1))
			}
			if b.sharing {
				require.NoError(t, theirs.Set(ctx, "other", []byte("v"), -1))
			}

			require.NoError(t, mine.Clear(ctx))
			for i := 0; i < 3; i++ {
				ok, err := mine.Exists(ctx, fmt.Sprintf("k%d", i))
				require.NoError(t, err)
				assert.False(t, ok)
			}
			if b.sharing {
				ok, err := theirs.Exists(ctx, "other")
				require.NoError(t, err)
				assert.True(t, ok, "clear must not touch other prefixes")
			}
		})
	}
}

func TestStores_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mem, err := NewMemoryStore(0)
	require.NoError(t, err)
	_, err = mem.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)

	files, err := NewFileStore(t.TempDir(), DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, files.Set(ctx, "k", []byte("v"), 0), context.Canceled)
}

// ============================================================================
// Backend specifics
// ============================================================================

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s, err := NewMemoryStoreWithConfig(2, Config{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))
	_, err = s.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "c", []byte("3"), 0))

	assert.Equal(t, 2, s.Len())
	_, err = s.Get(ctx, "b")
	assert.True(t, IsMiss(err))
	_, err = s.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s, err := NewMemoryStore(4)
	require.NoError(t, err)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	got[1] = 'Y'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestFileStore_RejectsUnsafeKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), Config{})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", `a\b`} {
		err := s.Set(ctx, key, []byte("v"), 0)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, "?", d.Placeholder(3))

	d, err = DialectFor("pgx")
	require.NoError(t, err)
	assert.Equal(t, "$3", d.Placeholder(3))
	assert.Equal(t, "BYTEA", d.BlobType)

	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestOpenSQLStore_SQLite(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLStore(ctx, "sqlite3", "file::memory:?cache=shared", DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = OpenSQLStore(ctx, "oracle", "", DefaultConfig())
	assert.Error(t, err)
}
