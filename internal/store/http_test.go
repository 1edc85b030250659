package store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPStore_RejectsBadURL(t *testing.T) {
	_, err := NewHTTPStore("ftp://example.com", nil, DefaultConfig())
	assert.Error(t, err)

	_, err = NewHTTPStore("://", nil, DefaultConfig())
	assert.Error(t, err)
}

func TestHTTPStore_Requests(t *testing.T) {
	var (
		lastMethod string
		lastPath   string
		lastTTL    string
		lastBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastMethod, lastPath, lastTTL = r.Method, r.URL.EscapedPath(), r.Header.Get(TTLHeader)
		lastBody, _ = io.ReadAll(r.Body)

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/blobs/p:hit":
			w.Write([]byte("blob"))
		case r.Method == http.MethodHead && r.URL.Path == "/v1/blobs/p:hit":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/blobs/p:broken":
			http.Error(w, "disk on fire", http.StatusInternalServerError)
		case r.Method == http.MethodPut, r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewHTTPStore(srv.URL+"/", srv.Client(), Config{Prefix: "p:", DefaultTTL: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	got, err := s.Get(ctx, "hit")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	_, err = s.Get(ctx, "miss")
	assert.True(t, IsMiss(err))

	_, err = s.Get(ctx, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "disk on fire")

	ok, err := s.Exists(ctx, "hit")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "miss")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "new", []byte("data"), 0))
	assert.Equal(t, http.MethodPut, lastMethod)
	assert.Equal(t, "1h0m0s", lastTTL)
	assert.Equal(t, []byte("data"), lastBody)

	require.NoError(t, s.Set(ctx, "new", []byte("data"), -1))
	assert.Equal(t, "-1ns", lastTTL)

	require.NoError(t, s.Delete(ctx, "a key"))
	assert.Equal(t, http.MethodDelete, lastMethod)
	assert.Equal(t, "/v1/blobs/p:a%20key", lastPath)

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, "/v1/blobs", lastPath)
}
