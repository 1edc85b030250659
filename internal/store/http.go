package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TTLHeader carries the blob TTL on PUT requests, as a Go duration string.
const TTLHeader = "X-Blob-TTL"

// HTTPStore is a client for a remote blob server (see internal/server).
type HTTPStore struct {
	base   string
	client *http.Client
	config Config
}

// NewHTTPStore creates a client for the blob server at baseURL.
// A nil client uses a client with a 30 second timeout.
func NewHTTPStore(baseURL string, client *http.Client, config Config) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("store: server url %q must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		config: config,
	}, nil
}

func (h *HTTPStore) blobURL(key string) string {
	return h.base + "/v1/blobs/" + url.PathEscape(h.config.Prefix+key)
}

func (h *HTTPStore) do(ctx context.Context, method, target string, body []byte, header http.Header) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return h.client.Do(req)
}

func unexpectedStatus(method string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("store: %s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// Get retrieves a blob
func (h *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := h.do(ctx, http.MethodGet, h.blobURL(key), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, ErrMiss{Key: key}
	default:
		return nil, unexpectedStatus("get", resp)
	}
}

// Set stores a blob with a TTL
func (h *HTTPStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	// A negative TTL tells the server to store without expiry.
	if d := h.config.ttl(ttl); d > 0 {
		header.Set(TTLHeader, d.String())
	} else {
		header.Set(TTLHeader, "-1ns")
	}
	if value == nil {
		value = []byte{}
	}

	resp, err := h.do(ctx, http.MethodPut, h.blobURL(key), value, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return unexpectedStatus("set", resp)
	}
	return nil
}

// Delete removes a blob
func (h *HTTPStore) Delete(ctx context.Context, key string) error {
	resp, err := h.do(ctx, http.MethodDelete, h.blobURL(key), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return unexpectedStatus("delete", resp)
	}
	return nil
}

// Clear removes every blob the server holds, regardless of the client prefix.
func (h *HTTPStore) Clear(ctx context.Context) error {
	resp, err := h.do(ctx, http.MethodDelete, h.base+"/v1/blobs", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return unexpectedStatus("clear", resp)
	}
	return nil
}

// Exists checks if a key exists
func (h *HTTPStore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := h.do(ctx, http.MethodHead, h.blobURL(key), nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unexpectedStatus("exists", resp)
	}
}
