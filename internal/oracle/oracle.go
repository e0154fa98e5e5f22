package oracle

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"time26-oracle/internal/fixedpoint"
)

// DefaultTIME26USD is used when no positive TIME26 price is configured.
var DefaultTIME26USD = decimal.RequireFromString("0.05")

// VolatilePrices serves POL/USD prices; implemented by pricefeed.Adapter.
type VolatilePrices interface {
	CachedOrFallback() decimal.Decimal
	FetchFresh(ctx context.Context) decimal.Decimal
}

// ConfigurationError reports a price setting that makes conversion impossible.
type ConfigurationError struct {
	Setting string
	Value   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("oracle: %s resolved to %s; conversion ratio undefined", e.Setting, e.Value)
}

// Snapshot is one consistent read of both prices and the derived ratio.
type Snapshot struct {
	TIME26USD decimal.Decimal
	POLUSD    decimal.Decimal
	// Ratio is POLUSD / TIME26USD: TIME26 units per POL unit.
	Ratio decimal.Decimal
	// ScaledRatio is Ratio * 10^18, floored, for amount conversion.
	ScaledRatio *uint256.Int
	Fresh       bool
}

// Oracle exposes USD prices for TIME26 and POL and the ratio between them.
type Oracle struct {
	configured decimal.Decimal
	volatile   VolatilePrices
	logger     zerolog.Logger
}

// New constructs an oracle. A non-positive configured price selects DefaultTIME26USD.
func New(volatile VolatilePrices, configuredUSD decimal.Decimal, logger zerolog.Logger) *Oracle {
	logger = logger.With().Str("component", "oracle").Logger()
	price := configuredUSD
	if !price.IsPositive() {
		if !price.IsZero() {
			logger.Warn().Str("configured", price.String()).Msg("ignoring non-positive TIME26 price")
		}
		price = DefaultTIME26USD
	}
	return &Oracle{configured: price, volatile: volatile, logger: logger}
}

// PriceOfConfiguredAsset returns the TIME26/USD price.
func (o *Oracle) PriceOfConfiguredAsset() decimal.Decimal {
	return o.configured
}

// PriceOfVolatileAsset returns a stale-tolerant POL/USD price without I/O.
func (o *Oracle) PriceOfVolatileAsset() decimal.Decimal {
	return o.volatile.CachedOrFallback()
}

// FetchVolatileAssetPrice returns a POL/USD price no older than the cache TTL when the feed is reachable.
func (o *Oracle) FetchVolatileAssetPrice(ctx context.Context) decimal.Decimal {
	return o.volatile.FetchFresh(ctx)
}

// ConversionRatio returns POL/USD divided by TIME26/USD using the stale-tolerant POL price.
func (o *Oracle) ConversionRatio() (decimal.Decimal, error) {
	s, err := o.snapshot(o.PriceOfVolatileAsset(), false)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return s.Ratio, nil
}

// FreshConversionRatio is ConversionRatio over the freshness-seeking POL price.
func (o *Oracle) FreshConversionRatio(ctx context.Context) (decimal.Decimal, error) {
	s, err := o.Snapshot(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return s.Ratio, nil
}

// Snapshot reads a fresh POL price and derives the ratio from it.
func (o *Oracle) Snapshot(ctx context.Context) (Snapshot, error) {
	return o.snapshot(o.FetchVolatileAssetPrice(ctx), true)
}

// StaleSnapshot is Snapshot without network access.
func (o *Oracle) StaleSnapshot() (Snapshot, error) {
	return o.snapshot(o.PriceOfVolatileAsset(), false)
}

func (o *Oracle) snapshot(pol decimal.Decimal, fresh bool) (Snapshot, error) {
	time26 := o.configured
	if !time26.IsPositive() {
		return Snapshot{}, &ConfigurationError{Setting: "TIME26_PRICE_USD", Value: time26.String()}
	}
	scaled, err := fixedpoint.RatioFromPrices(pol, time26)
	if err != nil {
		return Snapshot{}, fmt.Errorf("derive conversion ratio: %w", err)
	}
	return Snapshot{
		TIME26USD:   time26,
		POLUSD:      pol,
		Ratio:       fixedpoint.RatioDecimal(scaled),
		ScaledRatio: scaled,
		Fresh:       fresh,
	}, nil
}
