package pricefeed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"time26-oracle/internal/metrics"
	"time26-oracle/internal/pricecache"
)

// DefaultPOLFallbackUSD is served when no live or cached POL price exists.
var DefaultPOLFallbackUSD = decimal.RequireFromString("0.45")

// AdapterOptions tune fallback and fetch bounds.
type AdapterOptions struct {
	// Fallback is the POL/USD price used when the feed is unavailable.
	// Non-positive values select DefaultPOLFallbackUSD.
	Fallback decimal.Decimal
	Timeout  time.Duration
	Metrics  *metrics.Registry
}

// Adapter serves POL prices from the cache, the live source, or the fallback.
// Callers never see a fetch error.
type Adapter struct {
	source   Source
	cache    *pricecache.Cache
	fallback decimal.Decimal
	timeout  time.Duration
	metrics  *metrics.Registry
	logger   zerolog.Logger
	group    singleflight.Group
}

// NewAdapter wires a source to a cache.
func NewAdapter(source Source, cache *pricecache.Cache, opts AdapterOptions, logger zerolog.Logger) *Adapter {
	fallback := opts.Fallback
	if !fallback.IsPositive() {
		fallback = DefaultPOLFallbackUSD
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{
		source:   source,
		cache:    cache,
		fallback: fallback,
		timeout:  timeout,
		metrics:  opts.Metrics,
		logger:   logger.With().Str("component", "price_adapter").Logger(),
	}
}

// Fallback returns the configured fallback price.
func (a *Adapter) Fallback() decimal.Decimal {
	return a.fallback
}

// CachedOrFallback returns the cached price of any age, else the fallback. It never blocks on I/O.
func (a *Adapter) CachedOrFallback() decimal.Decimal {
	if q, ok := a.cache.Get(); ok {
		return q.USDPrice
	}
	return a.fallback
}

// FetchFresh returns a cached price younger than the TTL, otherwise fetches one.
// Concurrent misses share a single upstream request.
func (a *Adapter) FetchFresh(ctx context.Context) decimal.Decimal {
	if q, ok := a.cache.Fresh(); ok {
		a.metrics.ObservePriceLookup(metrics.PriceCacheHit, q.USDPrice.InexactFloat64())
		return q.USDPrice
	}

	// The shared fetch outlives any single caller; each caller waits only as long as its own ctx.
	ch := a.group.DoChan(string(pricecache.AssetPOL), func() (interface{}, error) {
		return a.resolve(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(decimal.Decimal)
	case <-ctx.Done():
		a.logger.Warn().Err(ctx.Err()).Str("fallback_usd", a.fallback.String()).Msg("caller gave up waiting for price; using fallback")
		a.metrics.ObservePriceLookup(metrics.PriceFallback, a.fallback.InexactFloat64())
		return a.fallback
	}
}

// resolve is the only place a fetch error becomes the fallback price.
func (a *Adapter) resolve(ctx context.Context) decimal.Decimal {
	price, err := a.fetch(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Str("fallback_usd", a.fallback.String()).Msg("live price unavailable; using fallback")
		a.metrics.ObservePriceLookup(metrics.PriceFallback, a.fallback.InexactFloat64())
		return a.fallback
	}

	if _, err := a.cache.Store(price); err != nil {
		a.logger.Warn().Err(err).Msg("refusing to cache price")
		a.metrics.ObservePriceLookup(metrics.PriceFallback, a.fallback.InexactFloat64())
		return a.fallback
	}
	a.metrics.ObservePriceLookup(metrics.PriceFetched, price.InexactFloat64())
	return price
}

func (a *Adapter) fetch(ctx context.Context) (decimal.Decimal, error) {
	if a.source == nil {
		return decimal.Decimal{}, &FetchError{Kind: KindNetwork, Err: errors.New("no price source configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.source.FetchUSD(ctx)
}
