package server

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/compcache/internal/store"
)

type blobHandler struct {
	store   store.Store
	maxBlob int64
	logger  *zap.Logger
}

// NewHandler returns the blob API:
//
//	GET    /healthz
//	GET    /v1/blobs/{key}
//	HEAD   /v1/blobs/{key}
//	PUT    /v1/blobs/{key}   (TTL in the X-Blob-TTL header)
//	DELETE /v1/blobs/{key}
//	DELETE /v1/blobs
func NewHandler(s store.Store, maxBlob int64, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &blobHandler{store: s, maxBlob: maxBlob, logger: logger}

	r := chi.NewRouter()
	r.Use(requestID, logging(logger), recovery(logger))

	r.Get("/healthz", h.health)
	r.Delete("/v1/blobs", h.clear)
	r.Get("/v1/blobs/{key}", h.get)
	r.Head("/v1/blobs/{key}", h.exists)
	r.Put("/v1/blobs/{key}", h.put)
	r.Delete("/v1/blobs/{key}", h.delete)
	return r
}

// key returns the decoded {key} parameter. chi matches on RawPath when the
// request has one, leaving the parameter escaped.
func key(r *http.Request) (string, error) {
	k := chi.URLParam(r, "key")
	if r.URL.RawPath != "" {
		return url.PathUnescape(k)
	}
	return k, nil
}

func (h *blobHandler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *blobHandler) get(w http.ResponseWriter, r *http.Request) {
	k, err := key(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blob, err := h.store.Get(r.Context(), k)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	_, _ = w.Write(blob)
}

func (h *blobHandler) exists(w http.ResponseWriter, r *http.Request) {
	k, err := key(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := h.store.Exists(r.Context(), k)
	switch {
	case err != nil:
		h.logger.Warn("store exists failed", zap.String("key", k), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
	case ok:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *blobHandler) put(w http.ResponseWriter, r *http.Request) {
	k, err := key(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var ttl time.Duration
	if v := r.Header.Get(store.TTLHeader); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			http.Error(w, "invalid "+store.TTLHeader+": "+v, http.StatusBadRequest)
			return
		}
	}

	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBlob))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "blob too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.Set(r.Context(), k, blob, ttl); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *blobHandler) delete(w http.ResponseWriter, r *http.Request) {
	k, err := key(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.Delete(r.Context(), k); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *blobHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps store errors to status codes.
func (h *blobHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case store.IsMiss(err):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Warn("store operation failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.Error(err),
		)
		http.Error(w, "store error", http.StatusInternalServerError)
	}
}
