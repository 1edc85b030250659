package config

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/compcache/internal/store"
	"github.com/conduit-lang/compcache/runtime/cache"
	"github.com/conduit-lang/compcache/runtime/codec"
)

// OpenStore opens the configured blob store. The returned close function is
// never nil.
func (c *Config) OpenStore(ctx context.Context) (store.Store, func() error, error) {
	sc := store.Config{DefaultTTL: c.Store.TTL, Prefix: c.Store.Prefix}
	noop := func() error { return nil }

	switch c.Store.Backend {
	case BackendMemory:
		s, err := store.NewMemoryStoreWithConfig(c.Store.Memory.Size, sc)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case BackendFile:
		s, err := store.NewFileStore(c.Store.File.Dir, sc)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case BackendRedis:
		s, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
			Config:   sc,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("connect to redis at %s: %w", c.Store.Redis.Addr, err)
		}
		return s, s.Close, nil

	case BackendSQLite, BackendPostgres:
		driver, err := c.Store.SQLDriver()
		if err != nil {
			return nil, noop, err
		}
		s, err := store.OpenSQLStore(ctx, driver, c.Store.SQL.DSN, sc)
		if err != nil {
			return nil, noop, fmt.Errorf("open %s store: %w", c.Store.Backend, err)
		}
		return s, s.Close, nil

	case BackendHTTP:
		s, err := store.NewHTTPStore(c.Store.HTTP.URL, &http.Client{Timeout: c.Store.HTTP.Timeout}, sc)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

// Policy parses codec.opaque_policy
func (c CodecConfig) Policy() (codec.OpaquePolicy, error) {
	switch strings.ToLower(c.OpaquePolicy) {
	case "", "strict":
		return codec.OpaqueStrict, nil
	case "sentinel":
		return codec.OpaqueSentinel, nil
	}
	return 0, fmt.Errorf("codec.opaque_policy must be strict or sentinel, got: %q", c.OpaquePolicy)
}

// CacheOptions translates the codec settings into facade options.
func (c *Config) CacheOptions(logger *zap.Logger) []cache.Option {
	policy, _ := c.Codec.Policy()
	return []cache.Option{
		cache.WithLogger(logger),
		cache.WithMaxCollectionCount(c.Codec.MaxCollectionCount),
		cache.WithOpaquePolicy(policy),
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds a zap logger from the log settings, falling back to a
// no-op logger when construction fails.
func (c LogConfig) NewLogger() *zap.Logger {
	var zc zap.Config
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if level, err := parseLevel(c.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
