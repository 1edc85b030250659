package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/compcache/internal/store"
	"github.com/conduit-lang/compcache/runtime/cache"
	"github.com/conduit-lang/compcache/runtime/composition"
)

// Metrics tracks cache effectiveness across GetOrBuild calls
type Metrics struct {
	Requests       int
	Hits           int
	Misses         int
	Rebuilds       int
	CorruptEntries int
	StoreErrors    int
	BytesRead      int64
	BytesWritten   int64
	LoadDuration   time.Duration
	BuildDuration  time.Duration
}

// HitRate returns the cache hit rate as a percentage
func (m *Metrics) HitRate() float64 {
	if m.Requests == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(m.Requests) * 100.0
}

// Source says where a graph returned by GetOrBuild came from.
type Source int

const (
	// FromStore means the graph was decoded from the stored blob.
	FromStore Source = iota
	// Rebuilt means the graph came from discovery.
	Rebuilt
)

func (s Source) String() string {
	if s == FromStore {
		return "store"
	}
	return "rebuilt"
}

// Result is the outcome of a single GetOrBuild call
type Result struct {
	Graph  *composition.Graph
	Key    string
	PassID string
	Source Source
	// Bytes is the size of the blob read from or written to the store.
	Bytes int
}

// DiscoverFunc produces a fresh graph when the stored copy cannot be used.
type DiscoverFunc func(ctx context.Context) (*composition.Graph, error)

// FromCatalog adapts a catalog to a DiscoverFunc.
func FromCatalog(c cache.Catalog) DiscoverFunc {
	return func(context.Context) (*composition.Graph, error) {
		return c.Lower()
	}
}

// Coordinator reads graphs through a store, regenerating them on miss or on
// any failure to decode the stored blob.
type Coordinator struct {
	store    store.Store
	cache    *cache.Cache
	logger   *zap.Logger
	ttl      time.Duration
	compress bool
	maxSize  int64

	// buildMu serializes rebuilds so concurrent misses on one key
	// discover once.
	buildMu sync.Mutex

	mu      sync.Mutex
	metrics Metrics
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCache sets the facade used to encode and decode graphs.
func WithCache(cc *cache.Cache) Option {
	return func(c *Coordinator) {
		if cc != nil {
			c.cache = cc
		}
	}
}

// WithTTL sets the TTL passed to the store on every write.
// Zero uses the store's default; negative stores without expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.ttl = ttl }
}

// WithCompression toggles gzip framing of written blobs. Reads accept both.
func WithCompression(enabled bool) Option {
	return func(c *Coordinator) { c.compress = enabled }
}

// WithMaxGraphSize bounds the inflated size of a stored blob. Larger blobs
// are treated as corrupt. Non-positive values keep DefaultMaxGraphSize.
func WithMaxGraphSize(n int64) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// New creates a coordinator over s
func New(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    s,
		logger:   zap.NewNop(),
		compress: true,
		maxSize:  DefaultMaxGraphSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.New(cache.WithLogger(c.logger))
	}
	return c
}

// GetOrBuild returns the graph stored under key, or rebuilds it with discover
// and stores the result. A blob that fails to decode is deleted and treated
// as a miss. Store failures are logged and counted but never fail the call
// as long as discovery succeeds.
func (c *Coordinator) GetOrBuild(ctx context.Context, key string, discover DiscoverFunc) (*Result, error) {
	if discover == nil {
		return nil, errors.New("coordinator: nil discover func")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	passID := uuid.NewString()
	log := c.logger.With(zap.String("pass", passID), zap.String("key", key))
	c.record(func(m *Metrics) { m.Requests++ })

	if res, ok := c.load(ctx, log, key); ok {
		res.PassID = passID
		return res, nil
	}

	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	// Another caller may have rebuilt the key while we waited.
	if res, ok := c.load(ctx, log, key); ok {
		res.PassID = passID
		return res, nil
	}

	res, err := c.rebuild(ctx, log, key, discover)
	if err != nil {
		return nil, err
	}
	res.PassID = passID
	return res, nil
}

// load tries the store. It reports false on miss, corruption or store failure.
func (c *Coordinator) load(ctx context.Context, log *zap.Logger, key string) (*Result, bool) {
	blob, err := c.store.Get(ctx, key)
	if err != nil {
		if store.IsMiss(err) {
			log.Debug("graph cache miss")
		} else {
			log.Warn("graph store read failed", zap.Error(err))
			c.record(func(m *Metrics) { m.StoreErrors++ })
		}
		return nil, false
	}

	start := time.Now()
	g, err := c.decode(ctx, blob)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		log.Warn("discarding corrupt graph blob", zap.Int("bytes", len(blob)), zap.Error(err))
		c.record(func(m *Metrics) { m.CorruptEntries++ })
		if err := c.store.Delete(ctx, key); err != nil {
			log.Warn("failed to delete corrupt graph blob", zap.Error(err))
			c.record(func(m *Metrics) { m.StoreErrors++ })
		}
		return nil, false
	}

	elapsed := time.Since(start)
	c.record(func(m *Metrics) {
		m.Hits++
		m.BytesRead += int64(len(blob))
		m.LoadDuration += elapsed
	})
	log.Debug("graph cache hit", zap.Int("parts", g.Len()), zap.Duration("duration", elapsed))
	return &Result{Graph: g, Key: key, Source: FromStore, Bytes: len(blob)}, true
}

func (c *Coordinator) decode(ctx context.Context, blob []byte) (*composition.Graph, error) {
	raw, err := DecompressLimit(blob, c.maxSize)
	if err != nil {
		return nil, err
	}
	return c.cache.Load(ctx, bytes.NewReader(raw))
}

func (c *Coordinator) rebuild(ctx context.Context, log *zap.Logger, key string, discover DiscoverFunc) (*Result, error) {
	c.record(func(m *Metrics) { m.Misses++ })

	start := time.Now()
	g, err := discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: discover: %w", err)
	}

	var buf bytes.Buffer
	if err := c.cache.Save(ctx, &buf, g); err != nil {
		return nil, fmt.Errorf("coordinator: encode: %w", err)
	}
	blob := buf.Bytes()
	if c.compress {
		if blob, err = Compress(blob); err != nil {
			return nil, fmt.Errorf("coordinator: %w", err)
		}
	}

	elapsed := time.Since(start)
	c.record(func(m *Metrics) {
		m.Rebuilds++
		m.BuildDuration += elapsed
	})

	if err := c.store.Set(ctx, key, blob, c.ttl); err != nil {
		log.Warn("graph store write failed", zap.Error(err))
		c.record(func(m *Metrics) { m.StoreErrors++ })
	} else {
		c.record(func(m *Metrics) { m.BytesWritten += int64(len(blob)) })
	}

	log.Info("graph rebuilt",
		zap.Int("parts", g.Len()),
		zap.Int("bytes", len(blob)),
		zap.Duration("duration", elapsed),
	)
	return &Result{Graph: g, Key: key, Source: Rebuilt, Bytes: len(blob)}, nil
}

// Invalidate removes the stored graph for key
func (c *Coordinator) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Coordinator) record(f func(*Metrics)) {
	c.mu.Lock()
	f(&c.metrics)
	c.mu.Unlock()
}

// GetMetrics returns a copy of the current metrics
func (c *Coordinator) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// ResetMetrics zeroes all counters
func (c *Coordinator) ResetMetrics() {
	c.mu.Lock()
	c.metrics = Metrics{}
	c.mu.Unlock()
}
