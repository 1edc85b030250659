package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTable is the table SQLStore uses when none is configured.
const DefaultTable = "compcache_blobs"

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name     string
	BlobType string
	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder func(n int) string
}

var (
	// SQLite uses ? placeholders and BLOB columns.
	SQLite = Dialect{
		Name:        "sqlite3",
		BlobType:    "BLOB",
		Placeholder: func(int) string { return "?" },
	}

	// Postgres uses $n placeholders and BYTEA columns.
	Postgres = Dialect{
		Name:        "postgres",
		BlobType:    "BYTEA",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "postgres", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("store: unsupported SQL driver %q", driver)
}

// SQLStore keeps blobs in a relational table. Expiry is stored as Unix
// nanoseconds (0 for none) so every dialect uses a plain integer column.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	config  Config

	getQuery    string
	setQuery    string
	deleteQuery string
}

// OpenSQLStore opens a database with the given driver, ensures the schema and
// returns a store over it. The driver must be registered by the caller.
func OpenSQLStore(ctx context.Context, driver, dsn string, config Config) (*SQLStore, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := NewSQLStore(ctx, db, dialect, DefaultTable, config)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore creates a store over an open database and ensures the schema.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, table string, config Config) (*SQLStore, error) {
	if table == "" {
		table = DefaultTable
	}
	p := dialect.Placeholder
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		table:   table,
		config:  config,

		getQuery: fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE cache_key = %s`, table, p(1)),
		setQuery: fmt.Sprintf(`INSERT INTO %s (cache_key, value, expires_at) VALUES (%s, %s, %s)
ON CONFLICT (cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			table, p(1), p(2), p(3)),
		deleteQuery: fmt.Sprintf(`DELETE FROM %s WHERE cache_key = %s`, table, p(1)),
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	cache_key TEXT PRIMARY KEY,
	value %s NOT NULL,
	expires_at BIGINT NOT NULL DEFAULT 0
)`, table, dialect.BlobType)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("store: create table %s: %w", table, err)
	}
	return s, nil
}

// Get retrieves a blob
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value   []byte
		expires int64
	)
	err := s.db.QueryRowContext(ctx, s.getQuery, s.config.Prefix+key).Scan(&value, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss{Key: key}
		}
		return nil, err
	}
	if expires != 0 && time.Now().UnixNano() > expires {
		if _, err := s.db.ExecContext(ctx, s.deleteQuery, s.config.Prefix+key); err != nil {
			return nil, err
		}
		return nil, ErrMiss{Key: key}
	}
	return value, nil
}

// Set stores a blob with a TTL
func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if t := s.config.expiry(ttl); !t.IsZero() {
		expires = t.UnixNano()
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, s.setQuery, s.config.Prefix+key, value, expires)
	return err
}

// Delete removes a blob
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.deleteQuery, s.config.Prefix+key)
	return err
}

// Clear removes every blob under the prefix
func (s *SQLStore) Clear(ctx context.Context) error {
	if s.config.Prefix == "" {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE substr(cache_key, 1, %d) = %s`,
		s.table, len(s.config.Prefix), s.dialect.Placeholder(1))
	_, err := s.db.ExecContext(ctx, query, s.config.Prefix)
	return err
}

// Exists checks if a key exists
func (s *SQLStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case IsMiss(err):
		return false, nil
	default:
		return false, err
	}
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}
