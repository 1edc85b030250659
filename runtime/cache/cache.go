// Package cache persists resolved composition graphs and restores them
// without repeating discovery.
//
// The Cache is a thin facade over the codec package: it checks arguments,
// lowers catalogs, delegates the synchronous encode/decode pass and hands the
// loaded graph to a builder.
//
// Example usage:
//
//	c := cache.New(cache.WithResolver(resolver), cache.WithLogger(logger))
//
//	// Persist a resolved graph
//	if err := c.Save(ctx, file, graph); err != nil {
//		return err
//	}
//
//	// Restore it on the next start
//	graph, err := c.Load(ctx, file)
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/compcache/runtime/codec"
	"github.com/conduit-lang/compcache/runtime/composition"
)

var (
	// ErrNilStream is returned when Save or Load is given a nil stream.
	ErrNilStream = errors.New("cache: nil stream")

	// ErrNilGraph is returned when Save is given a nil graph or catalog.
	ErrNilGraph = errors.New("cache: nil graph")

	// ErrNoFactoryBuilder is returned by LoadFactory when no FactoryBuilder is configured.
	ErrNoFactoryBuilder = errors.New("cache: no factory builder configured")
)

// Catalog is a discovered, not yet resolved set of parts. Lower resolves it
// into a graph, binding every import to its satisfying exports.
type Catalog interface {
	Lower() (*composition.Graph, error)
}

// GraphBuilder turns a loaded part list into a graph.
type GraphBuilder interface {
	BuildGraph(parts []*composition.Part) (*composition.Graph, error)
}

// GraphBuilderFunc adapts a function to GraphBuilder.
type GraphBuilderFunc func(parts []*composition.Part) (*composition.Graph, error)

// BuildGraph implements GraphBuilder.
func (f GraphBuilderFunc) BuildGraph(parts []*composition.Part) (*composition.Graph, error) {
	return f(parts)
}

// ExportProviderFactory creates export providers backed by one loaded graph.
type ExportProviderFactory interface {
	Graph() *composition.Graph
}

// FactoryBuilder turns a loaded graph into an export provider factory.
type FactoryBuilder interface {
	BuildFactory(g *composition.Graph) (ExportProviderFactory, error)
}

// FactoryBuilderFunc adapts a function to FactoryBuilder.
type FactoryBuilderFunc func(g *composition.Graph) (ExportProviderFactory, error)

// BuildFactory implements FactoryBuilder.
func (f FactoryBuilderFunc) BuildFactory(g *composition.Graph) (ExportProviderFactory, error) {
	return f(g)
}

// Cache saves and loads composition graphs. It holds no per-pass state, so
// one Cache can run any number of passes concurrently over separate streams.
type Cache struct {
	logger         *zap.Logger
	codecOpts      []codec.Option
	graphBuilder   GraphBuilder
	factoryBuilder FactoryBuilder
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResolver sets the resolver used by loaded metadata to materialize type-valued entries.
func WithResolver(r composition.Resolver) Option {
	return func(c *Cache) { c.codecOpts = append(c.codecOpts, codec.WithResolver(r)) }
}

// WithOpaqueCodec replaces the fallback serializer for metadata values outside
// the known kinds. nil disables the fallback.
func WithOpaqueCodec(oc codec.OpaqueCodec) Option {
	return func(c *Cache) { c.codecOpts = append(c.codecOpts, codec.WithOpaqueCodec(oc)) }
}

// WithOpaquePolicy sets how Load treats opaque values it cannot materialize.
func WithOpaquePolicy(p codec.OpaquePolicy) Option {
	return func(c *Cache) { c.codecOpts = append(c.codecOpts, codec.WithOpaquePolicy(p)) }
}

// WithMaxCollectionCount sets the ceiling on collection counts accepted by Load.
func WithMaxCollectionCount(n int) Option {
	return func(c *Cache) { c.codecOpts = append(c.codecOpts, codec.WithMaxCollectionCount(n)) }
}

// WithGraphBuilder replaces composition.NewGraph as the builder for loaded graphs.
func WithGraphBuilder(b GraphBuilder) Option {
	return func(c *Cache) {
		if b != nil {
			c.graphBuilder = b
		}
	}
}

// WithFactoryBuilder sets the builder LoadFactory hands loaded graphs to.
func WithFactoryBuilder(b FactoryBuilder) Option {
	return func(c *Cache) { c.factoryBuilder = b }
}

// New creates a Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		logger:       zap.NewNop(),
		graphBuilder: GraphBuilderFunc(composition.NewGraph),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Save writes g to w.
//
// The context is checked once before the pass starts; the pass itself runs to
// completion.
func (c *Cache) Save(ctx context.Context, w io.Writer, g *composition.Graph) error {
	if w == nil {
		return ErrNilStream
	}
	if g == nil {
		return ErrNilGraph
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	cw := codec.NewWriter(w, c.codecOpts...)
	if err := cw.WriteGraph(g); err != nil {
		c.logger.Warn("composition cache save failed", zap.Int("parts", g.Len()), zap.Error(err))
		return fmt.Errorf("cache: save: %w", err)
	}

	stats := cw.Stats()
	c.logger.Debug("composition cache saved",
		zap.Int("parts", g.Len()),
		zap.Int64("bytes", stats.Bytes),
		zap.Int("objects", stats.Objects),
		zap.Int("back_references", stats.BackReferences),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// SaveCatalog lowers catalog into a graph and writes it to w.
func (c *Cache) SaveCatalog(ctx context.Context, w io.Writer, catalog Catalog) error {
	if w == nil {
		return ErrNilStream
	}
	if catalog == nil {
		return ErrNilGraph
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g, err := catalog.Lower()
	if err != nil {
		return fmt.Errorf("cache: lower catalog: %w", err)
	}
	return c.Save(ctx, w, g)
}

// Load reads a graph from r.
//
// A failed decode is returned as a *codec.DecodeError; callers that can
// regenerate the graph should treat it as a cache miss.
func (c *Cache) Load(ctx context.Context, r io.Reader) (*composition.Graph, error) {
	if r == nil {
		return nil, ErrNilStream
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	cr := codec.NewReader(r, c.codecOpts...)
	parts, err := cr.ReadParts()
	if err != nil {
		c.logger.Warn("composition cache load failed", zap.Error(err))
		return nil, err
	}

	g, err := c.graphBuilder.BuildGraph(parts)
	if err != nil {
		return nil, fmt.Errorf("cache: build graph: %w", err)
	}

	stats := cr.Stats()
	c.logger.Debug("composition cache loaded",
		zap.Int("parts", g.Len()),
		zap.Int64("bytes", stats.Bytes),
		zap.Int("objects", stats.Objects),
		zap.Duration("duration", time.Since(start)),
	)
	return g, nil
}

// LoadFactory reads a graph from r and builds an export provider factory over it.
func (c *Cache) LoadFactory(ctx context.Context, r io.Reader) (ExportProviderFactory, error) {
	if c.factoryBuilder == nil {
		return nil, ErrNoFactoryBuilder
	}
	g, err := c.Load(ctx, r)
	if err != nil {
		return nil, err
	}
	f, err := c.factoryBuilder.BuildFactory(g)
	if err != nil {
		return nil, fmt.Errorf("cache: build factory: %w", err)
	}
	return f, nil
}
