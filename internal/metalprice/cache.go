// Package metalprice maintains fresh metal spot prices for the pricing
// engine, collapsing concurrent refreshes into a single upstream fetch.
package metalprice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"quote-bot/internal/cache"
	"quote-bot/internal/catalog"
	"quote-bot/internal/metrics"
	"quote-bot/internal/quote"
)

// ErrPriceUnavailable is returned when no price was ever obtained for a
// requested metal, not even a stale one.
var ErrPriceUnavailable = errors.New("metal price unavailable")

// Source fetches a spot price from the external price provider.
type Source interface {
	FetchSpotPrice(ctx context.Context, metal catalog.Metal) (decimal.Decimal, error)
}

// Quote is a cached spot price with its observation time. Callers that
// need a hard freshness guarantee can inspect AsOf and reject.
type Quote struct {
	Price decimal.Decimal `json:"price"`
	AsOf  time.Time       `json:"as_of"`
}

// Cache serves spot prices inside a freshness window. A stale read
// triggers exactly one refresh per metal; concurrent callers wait on
// the in-flight fetch. On refresh failure the last good value is served
// with its original timestamp.
type Cache struct {
	source    Source
	freshness time.Duration
	warmStore *cache.Redis
	logger    *slog.Logger
	metrics   *metrics.Metrics

	group singleflight.Group
	mu    sync.RWMutex
	last  map[catalog.Metal]Quote
}

// New builds a price cache. warmStore is optional; when set, last-good
// prices survive restarts.
func New(source Source, freshness time.Duration, warmStore *cache.Redis, m *metrics.Metrics, logger *slog.Logger) *Cache {
	return &Cache{
		source:    source,
		freshness: freshness,
		warmStore: warmStore,
		logger:    logger.With("component", "metalprice"),
		metrics:   m,
		last:      make(map[catalog.Metal]Quote),
	}
}

// GetPrice returns the cached price for the metal, refreshing through
// the single-flight group when the cached value is stale or absent.
func (c *Cache) GetPrice(ctx context.Context, metal catalog.Metal) (Quote, error) {
	c.mu.RLock()
	q, ok := c.last[metal]
	c.mu.RUnlock()
	if ok && time.Since(q.AsOf) < c.freshness {
		return q, nil
	}

	res, err, _ := c.group.Do(string(metal), func() (any, error) {
		return c.refresh(ctx, metal)
	})
	if err != nil {
		return Quote{}, err
	}
	return res.(Quote), nil
}

// Refresh forces a fetch for the metal regardless of freshness, still
// collapsed through the single-flight group.
func (c *Cache) Refresh(ctx context.Context, metal catalog.Metal) (Quote, error) {
	res, err, _ := c.group.Do(string(metal), func() (any, error) {
		return c.refresh(ctx, metal)
	})
	if err != nil {
		return Quote{}, err
	}
	return res.(Quote), nil
}

// Snapshot collects prices for all requested metals into an engine
// snapshot. AsOf is the oldest observation across the set.
func (c *Cache) Snapshot(ctx context.Context, metals ...catalog.Metal) (quote.PriceSnapshot, error) {
	snap := quote.PriceSnapshot{Prices: make(map[catalog.Metal]decimal.Decimal, len(metals))}
	for _, metal := range metals {
		q, err := c.GetPrice(ctx, metal)
		if err != nil {
			return quote.PriceSnapshot{}, fmt.Errorf("snapshot %s: %w", metal, err)
		}
		snap.Prices[metal] = q.Price
		if snap.AsOf.IsZero() || q.AsOf.Before(snap.AsOf) {
			snap.AsOf = q.AsOf
		}
	}
	return snap, nil
}

func (c *Cache) refresh(ctx context.Context, metal catalog.Metal) (Quote, error) {
	price, err := c.source.FetchSpotPrice(ctx, metal)
	if err == nil {
		q := Quote{Price: price, AsOf: time.Now()}
		c.mu.Lock()
		c.last[metal] = q
		c.mu.Unlock()
		c.persist(ctx, metal, q)
		if c.metrics != nil {
			c.metrics.PriceFetches.WithLabelValues(string(metal), "ok").Inc()
		}
		return q, nil
	}

	if c.metrics != nil {
		c.metrics.PriceFetches.WithLabelValues(string(metal), "error").Inc()
	}
	c.logger.Warn("spot price fetch failed", "metal", metal, "error", err)

	// Serve the last good value, stale timestamp and all.
	c.mu.RLock()
	q, ok := c.last[metal]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}
	if warm, found := c.loadWarm(ctx, metal); found {
		c.mu.Lock()
		c.last[metal] = warm
		c.mu.Unlock()
		return warm, nil
	}
	return Quote{}, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, metal, err)
}

func (c *Cache) persist(ctx context.Context, metal catalog.Metal, q Quote) {
	if c.warmStore == nil {
		return
	}
	if err := c.warmStore.SetJSON(ctx, warmKey(metal), q, 0); err != nil {
		c.logger.Warn("persist price snapshot failed", "metal", metal, "error", err)
	}
}

func (c *Cache) loadWarm(ctx context.Context, metal catalog.Metal) (Quote, bool) {
	if c.warmStore == nil {
		return Quote{}, false
	}
	var q Quote
	found, err := c.warmStore.GetJSON(ctx, warmKey(metal), &q)
	if err != nil {
		c.logger.Warn("read price snapshot failed", "metal", metal, "error", err)
		return Quote{}, false
	}
	return q, found
}

func warmKey(metal catalog.Metal) string {
	return "metalprice:last:" + string(metal)
}
