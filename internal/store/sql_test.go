package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS compcache_blobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLStore(context.Background(), db, dialect, "", Config{Prefix: "p:"})
	require.NoError(t, err)
	return s, mock
}

func TestSQLStore_PostgresQueries(t *testing.T) {
	s, mock := setupMockStore(t, Postgres)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO compcache_blobs (cache_key, value, expires_at) VALUES ($1, $2, $3)")).
		WithArgs("p:k", []byte("v"), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Set(ctx, "k", []byte("v"), -1))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value, expires_at FROM compcache_blobs WHERE cache_key = $1")).
		WithArgs("p:k").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow([]byte("v"), int64(0)))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM compcache_blobs WHERE substr(cache_key, 1, 2) = $1")).
		WithArgs("p:").
		WillReturnResult(sqlmock.NewResult(0, 3))
	require.NoError(t, s.Clear(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ExpiredRowIsDeleted(t *testing.T) {
	s, mock := setupMockStore(t, SQLite)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UnixNano()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value, expires_at FROM compcache_blobs WHERE cache_key = ?")).
		WithArgs("p:old").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow([]byte("v"), past))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM compcache_blobs WHERE cache_key = ?")).
		WithArgs("p:old").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.Get(ctx, "old")
	assert.True(t, IsMiss(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Errors(t *testing.T) {
	s, mock := setupMockStore(t, SQLite)
	ctx := context.Background()
	boom := errors.New("connection reset")

	mock.ExpectQuery("SELECT value").WillReturnError(boom)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsMiss(err))

	mock.ExpectQuery("SELECT value").WillReturnError(sql.ErrNoRows)
	_, err = s.Get(ctx, "k")
	assert.True(t, IsMiss(err))

	mock.ExpectQuery("SELECT value").WillReturnError(boom)
	_, err = s.Exists(ctx, "k")
	assert.ErrorIs(t, err, boom)

	mock.ExpectExec("INSERT INTO").WillReturnError(boom)
	assert.ErrorIs(t, s.Set(ctx, "k", []byte("v"), 0), boom)

	mock.ExpectExec("DELETE FROM").WillReturnError(boom)
	assert.ErrorIs(t, s.Delete(ctx, "k"), boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLStore_SchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	_, err = NewSQLStore(context.Background(), db, Postgres, "blobs", DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create table blobs")
}
