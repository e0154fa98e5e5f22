package pricecache

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTTL is how long a fetched quote counts as fresh.
const DefaultTTL = 5 * time.Minute

// Asset identifies which token a quote prices.
type Asset string

const (
	// AssetPOL is the volatile gas asset, priced from the live feed.
	AssetPOL Asset = "POL"
	// AssetTIME26 is the operator-configured reward asset.
	AssetTIME26 Asset = "TIME26"
)

// PriceQuote is an immutable USD quote for a single asset.
type PriceQuote struct {
	Asset     Asset
	USDPrice  decimal.Decimal
	FetchedAt time.Time
}

// NewPriceQuote validates and builds a quote.
func NewPriceQuote(asset Asset, usd decimal.Decimal, fetchedAt time.Time) (PriceQuote, error) {
	if !usd.IsPositive() {
		return PriceQuote{}, fmt.Errorf("pricecache: %s price must be positive, got %s", asset, usd.String())
	}
	return PriceQuote{Asset: asset, USDPrice: usd, FetchedAt: fetchedAt}, nil
}

// FetchedAtMillis returns the fetch time as epoch milliseconds.
func (q PriceQuote) FetchedAtMillis() int64 {
	return q.FetchedAt.UnixMilli()
}

// Clock returns the current time.
type Clock func() time.Time

// Cache holds the most recent volatile-asset quote in a single slot.
// Entries expire by age only; nothing evicts them.
type Cache struct {
	ttl   time.Duration
	clock Clock

	mu    sync.RWMutex
	entry *PriceQuote
}

// New constructs an empty cache. A nil clock uses time.Now.
func New(ttl time.Duration, clock Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{ttl: ttl, clock: clock}
}

// TTL reports the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached quote regardless of age.
func (c *Cache) Get() (PriceQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return PriceQuote{}, false
	}
	return *c.entry, true
}

// Fresh returns the cached quote only while now - FetchedAt < TTL.
func (c *Cache) Fresh() (PriceQuote, bool) {
	q, ok := c.Get()
	if !ok {
		return PriceQuote{}, false
	}
	if c.clock().Sub(q.FetchedAt) >= c.ttl {
		return PriceQuote{}, false
	}
	return q, true
}

// Store replaces the slot with a POL quote stamped at the current clock time.
func (c *Cache) Store(usd decimal.Decimal) (PriceQuote, error) {
	q, err := NewPriceQuote(AssetPOL, usd, c.clock())
	if err != nil {
		return PriceQuote{}, err
	}
	c.mu.Lock()
	c.entry = &q
	c.mu.Unlock()
	return q, nil
}
