package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted in store.backend
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendHTTP     = "http"
)

// EnvPrefix prefixes every environment override, e.g. COMPCACHE_STORE_BACKEND.
const EnvPrefix = "COMPCACHE"

// Config represents the compcache configuration
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
	Codec  CodecConfig  `mapstructure:"codec"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig selects and configures the blob store
type StoreConfig struct {
	Backend  string        `mapstructure:"backend"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	Compress bool          `mapstructure:"compress"`

	// MaxGraphSize bounds the inflated size of a stored graph blob
	MaxGraphSize int64 `mapstructure:"max_graph_size"`

	Memory MemoryConfig `mapstructure:"memory"`
	File   FileConfig   `mapstructure:"file"`
	Redis  RedisConfig  `mapstructure:"redis"`
	SQL    SQLConfig    `mapstructure:"sql"`
	HTTP   HTTPConfig   `mapstructure:"http"`
}

// MemoryConfig configures the in-process LRU store
type MemoryConfig struct {
	Size int `mapstructure:"size"`
}

// FileConfig configures the directory store
type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

// RedisConfig configures the Redis store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SQLConfig configures the sqlite and postgres stores
type SQLConfig struct {
	// Driver overrides the database/sql driver; postgres accepts "pgx" or "postgres"
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// HTTPConfig configures the remote blob server client
type HTTPConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig represents blob server configuration
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	MaxBlobSize int64  `mapstructure:"max_blob_size"`
}

// CodecConfig represents reader limits and policies
type CodecConfig struct {
	MaxCollectionCount int    `mapstructure:"max_collection_count"`
	OpaquePolicy       string `mapstructure:"opaque_policy"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.prefix", "compcache:")
	v.SetDefault("store.ttl", 24*time.Hour)
	v.SetDefault("store.compress", true)
	v.SetDefault("store.max_graph_size", 64<<20)
	v.SetDefault("store.memory.size", 128)
	v.SetDefault("store.file.dir", ".compcache")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.sql.dsn", "")
	v.SetDefault("store.sql.driver", "")
	v.SetDefault("store.http.url", "")
	v.SetDefault("store.http.timeout", 30*time.Second)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_blob_size", 16<<20)

	v.SetDefault("codec.max_collection_count", 65535)
	v.SetDefault("codec.opaque_policy", "strict")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load loads the configuration. An empty path reads compcache.yaml or
// compcache.yml from the working directory if present; a non-empty path must
// exist. COMPCACHE_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("compcache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	var errs []error

	switch cfg.Store.Backend {
	case BackendMemory:
		if cfg.Store.Memory.Size <= 0 {
			errs = append(errs, fmt.Errorf("store.memory.size must be positive, got %d", cfg.Store.Memory.Size))
		}
	case BackendFile:
		if cfg.Store.File.Dir == "" {
			errs = append(errs, errors.New("store.file.dir is required for the file backend"))
		}
	case BackendRedis:
		if cfg.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	case BackendSQLite, BackendPostgres:
		if cfg.Store.SQL.DSN == "" {
			errs = append(errs, fmt.Errorf("store.sql.dsn is required for the %s backend", cfg.Store.Backend))
		}
		if _, err := cfg.Store.SQLDriver(); err != nil {
			errs = append(errs, err)
		}
	case BackendHTTP:
		u, err := url.Parse(cfg.Store.HTTP.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("store.http.url must be an http(s) URL, got: %q", cfg.Store.HTTP.URL))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of memory, file, redis, sqlite, postgres, http; got: %q", cfg.Store.Backend))
	}

	if cfg.Store.MaxGraphSize <= 0 {
		errs = append(errs, fmt.Errorf("store.max_graph_size must be positive, got %d", cfg.Store.MaxGraphSize))
	}
	if cfg.Codec.MaxCollectionCount <= 0 {
		errs = append(errs, fmt.Errorf("codec.max_collection_count must be positive, got %d", cfg.Codec.MaxCollectionCount))
	}
	if _, err := cfg.Codec.Policy(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.MaxBlobSize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_blob_size must be positive, got %d", cfg.Server.MaxBlobSize))
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SQLDriver returns the database/sql driver name for the sqlite and postgres
// backends.
func (s StoreConfig) SQLDriver() (string, error) {
	switch s.Backend {
	case BackendSQLite:
		if s.SQL.Driver == "" || s.SQL.Driver == "sqlite3" {
			return "sqlite3", nil
		}
	case BackendPostgres:
		switch s.SQL.Driver {
		case "", "pgx":
			return "pgx", nil
		case "postgres":
			return "postgres", nil
		}
	default:
		return "", fmt.Errorf("store backend %q is not SQL", s.Backend)
	}
	return "", fmt.Errorf("store.sql.driver %q is not supported for the %s backend", s.SQL.Driver, s.Backend)
}
