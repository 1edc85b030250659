package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"

	"github.com/conduit-lang/compcache/internal/store"
	"github.com/conduit-lang/compcache/runtime/codec"
)

// chdir switches to dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, "compcache:", cfg.Store.Prefix)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.True(t, cfg.Store.Compress)
	assert.Equal(t, ".compcache", cfg.Store.File.Dir)
	assert.Equal(t, 30*time.Second, cfg.Store.HTTP.Timeout)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, int64(16<<20), cfg.Server.MaxBlobSize)
	assert.Equal(t, int64(64<<20), cfg.Store.MaxGraphSize)
	assert.Equal(t, 65535, cfg.Codec.MaxCollectionCount)
	assert.Equal(t, "strict", cfg.Codec.OpaquePolicy)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	chdir(t, t.TempDir())

	content := `
store:
  backend: redis
  prefix: "app:"
  ttl: 90m
  compress: false
  redis:
    addr: cache.internal:6380
    db: 2
codec:
  opaque_policy: sentinel
  max_collection_count: 1000
log:
  level: debug
  development: true
`
	require.NoError(t, os.WriteFile("compcache.yaml", []byte(content), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "app:", cfg.Store.Prefix)
	assert.Equal(t, 90*time.Minute, cfg.Store.TTL)
	assert.False(t, cfg.Store.Compress)
	assert.Equal(t, "cache.internal:6380", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 1000, cfg.Codec.MaxCollectionCount)
	assert.True(t, cfg.Log.Development)

	policy, err := cfg.Codec.Policy()
	require.NoError(t, err)
	assert.Equal(t, codec.OpaqueSentinel, policy)
}

func TestLoad_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: memory\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("COMPCACHE_STORE_BACKEND", "sqlite")
	t.Setenv("COMPCACHE_STORE_SQL_DSN", "file:graphs.db")
	t.Setenv("COMPCACHE_STORE_TTL", "5m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "file:graphs.db", cfg.Store.SQL.DSN)
	assert.Equal(t, 5*time.Minute, cfg.Store.TTL)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown backend", "store:\n  backend: s3\n", "store.backend"},
		{"sqlite without dsn", "store:\n  backend: sqlite\n", "store.sql.dsn"},
		{"postgres bad driver", "store:\n  backend: postgres\n  sql:\n    dsn: x\n    driver: mysql\n", "store.sql.driver"},
		{"http without url", "store:\n  backend: http\n", "store.http.url"},
		{"http bad scheme", "store:\n  backend: http\n  http:\n    url: ftp://x\n", "store.http.url"},
		{"memory size", "store:\n  backend: memory\n  memory:\n    size: 0\n", "store.memory.size"},
		{"bad policy", "codec:\n  opaque_policy: lenient\n", "codec.opaque_policy"},
		{"bad count", "codec:\n  max_collection_count: -1\n", "codec.max_collection_count"},
		{"bad graph size", "store:\n  max_graph_size: 0\n", "store.max_graph_size"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "compcache.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSQLDriver(t *testing.T) {
	tests := []struct {
		backend, driver, want string
	}{
		{BackendSQLite, "", "sqlite3"},
		{BackendPostgres, "", "pgx"},
		{BackendPostgres, "postgres", "postgres"},
	}
	for _, tt := range tests {
		got, err := StoreConfig{Backend: tt.backend, SQL: SQLConfig{Driver: tt.driver}}.SQLDriver()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := StoreConfig{Backend: BackendRedis}.SQLDriver()
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cases := map[string]Config{
		"memory": {Store: StoreConfig{Backend: BackendMemory, Memory: MemoryConfig{Size: 4}}},
		"file":   {Store: StoreConfig{Backend: BackendFile, File: FileConfig{Dir: filepath.Join(dir, "blobs")}}},
		"sqlite": {Store: StoreConfig{Backend: BackendSQLite, SQL: SQLConfig{DSN: filepath.Join(dir, "graphs.db")}}},
		"http":   {Store: StoreConfig{Backend: BackendHTTP, HTTP: HTTPConfig{URL: "http://localhost:1"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			s, closeFn, err := cfg.OpenStore(ctx)
			require.NoError(t, err)
			require.NotNil(t, closeFn)
			defer closeFn()
			assert.Implements(t, (*store.Store)(nil), s)
		})
	}

	_, closeFn, err := (&Config{Store: StoreConfig{Backend: "tape"}}).OpenStore(ctx)
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}

func TestCacheOptionsAndLogger(t *testing.T) {
	cfg := &Config{Codec: CodecConfig{MaxCollectionCount: 10, OpaquePolicy: "sentinel"}}
	assert.Len(t, cfg.CacheOptions(zap.NewNop()), 3)

	assert.NotNil(t, LogConfig{Level: "debug", Development: true}.NewLogger())
	assert.NotNil(t, LogConfig{Level: "warn"}.NewLogger())
	// An invalid level keeps the preset level rather than failing.
	assert.NotNil(t, LogConfig{Level: "loud"}.NewLogger())
}
