// Package catalog normalizes pluggable commerce backends to one product
// shape. Backends are selected once at startup; the orchestrator only sees
// the Catalog interface.
package catalog

import (
	"context"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/redisclient"
	"shop-assistant/internal/util"

	"go.uber.org/zap"
)

// Catalog is the uniform product capability set over a commerce backend.
// SearchByTitle returns an empty slice, never an error, when nothing
// matches. GetByID returns ErrProductNotFound when the backend has no such
// product. Transport failures surface as ErrCatalogUnavailable on every
// method.
type Catalog interface {
	Name() string
	SearchByTitle(ctx context.Context, query string) ([]models.Product, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	CreateOrder(ctx context.Context, req *models.OrderRequest) (*models.ExternalOrder, error)
}

const productCacheTTL = 2 * time.Minute

// observeCatalog times one backend call for the latency histogram
func observeCatalog(backend, operation string) func() {
	start := time.Now()
	return func() {
		util.CatalogRequestLatency.WithLabelValues(backend, operation).
			Observe(time.Since(start).Seconds())
	}
}

// Cached is a read-through Redis cache in front of GetByID. Search and
// order creation always hit the backend.
type Cached struct {
	inner  Catalog
	redis  *redisclient.Client
	logger *zap.Logger
}

// WithCache wraps a catalog backend with the product cache
func WithCache(inner Catalog, redis *redisclient.Client) *Cached {
	return &Cached{
		inner:  inner,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

func (c *Cached) Name() string {
	return c.inner.Name()
}

func (c *Cached) SearchByTitle(ctx context.Context, query string) ([]models.Product, error) {
	return c.inner.SearchByTitle(ctx, query)
}

func (c *Cached) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var cached models.Product
	hit, err := c.redis.GetProduct(ctx, c.inner.Name(), id, &cached)
	if err != nil {
		c.logger.Warn("Product cache read failed",
			zap.String("product_id", id),
			zap.Error(err))
	}
	if hit {
		return &cached, nil
	}

	product, err := c.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.redis.CacheProduct(ctx, c.inner.Name(), id, product, productCacheTTL); err != nil {
		c.logger.Warn("Product cache write failed",
			zap.String("product_id", id),
			zap.Error(err))
	}

	return product, nil
}

func (c *Cached) CreateOrder(ctx context.Context, req *models.OrderRequest) (*models.ExternalOrder, error) {
	return c.inner.CreateOrder(ctx, req)
}
