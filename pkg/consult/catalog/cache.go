// Package catalog builds rule catalogs from a store and shares them, with
// their inference engine, across every session of a domain.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/inference/simple"
	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/rules"
	"github.com/cognicore/consult/pkg/consult/store"
)

// EngineFactory builds the engine for a freshly loaded catalog.
type EngineFactory func(c *rules.Catalog) inference.Engine

// Cache holds one read-only engine per domain. Concurrent misses for the
// same domain share a single store load.
type Cache struct {
	store   store.Store
	factory EngineFactory
	logger  *zap.Logger

	mu      sync.RWMutex
	engines map[string]inference.Engine
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithEngineFactory overrides the default simple engine.
func WithEngineFactory(f EngineFactory) Option {
	return func(c *Cache) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty cache over st.
func New(st store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:   st,
		factory: func(cat *rules.Catalog) inference.Engine { return simple.New(cat) },
		logger:  zap.NewNop(),
		engines: make(map[string]inference.Engine),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the engine for domain, loading it on first use. A domain
// without rules is ErrInvalidConfig.
func (c *Cache) Engine(ctx context.Context, domain string) (inference.Engine, error) {
	c.mu.RLock()
	e, ok := c.engines[domain]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, shared := c.group.Do(domain, func() (interface{}, error) {
		return c.load(ctx, domain)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("catalog load shared", zap.String("domain", domain))
	}
	return v.(inference.Engine), nil
}

// Catalog returns the rule catalog for domain.
func (c *Cache) Catalog(ctx context.Context, domain string) (*rules.Catalog, error) {
	e, err := c.Engine(ctx, domain)
	if err != nil {
		return nil, err
	}
	return e.Catalog(), nil
}

func (c *Cache) load(ctx context.Context, domain string) (inference.Engine, error) {
	rs, err := c.store.GetRules(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("load rules for %q: %w", domain, err)
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: domain %q has no rules", internalerr.ErrInvalidConfig, domain)
	}
	qs, err := c.store.GetQuestions(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("load questions for %q: %w", domain, err)
	}
	cat, err := rules.NewCatalog(domain, rs, qs)
	if err != nil {
		return nil, err
	}

	e := c.factory(cat)
	c.mu.Lock()
	c.engines[domain] = e
	c.mu.Unlock()

	c.logger.Info("catalog loaded",
		zap.String("domain", domain),
		zap.Int("rules", cat.Len()),
		zap.Strings("goals", cat.Goals()))
	return e, nil
}

// Invalidate drops the cached engine for domain. Running sessions keep the
// catalog they started with.
func (c *Cache) Invalidate(domain string) {
	c.mu.Lock()
	delete(c.engines, domain)
	c.mu.Unlock()
	c.group.Forget(domain)
}

// Len returns the number of cached domains.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.engines)
}
