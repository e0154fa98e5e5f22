package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrices struct {
	cached     decimal.Decimal
	fresh      decimal.Decimal
	freshCalls int
}

func (s *stubPrices) CachedOrFallback() decimal.Decimal { return s.cached }

func (s *stubPrices) FetchFresh(context.Context) decimal.Decimal {
	s.freshCalls++
	return s.fresh
}

func TestConfiguredPriceDefaults(t *testing.T) {
	prices := &stubPrices{cached: decimal.RequireFromString("0.45")}
	for _, configured := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-3)} {
		o := New(prices, configured, zerolog.Nop())
		assert.True(t, o.PriceOfConfiguredAsset().Equal(DefaultTIME26USD))
	}

	o := New(prices, decimal.RequireFromString("0.08"), zerolog.Nop())
	assert.Equal(t, "0.08", o.PriceOfConfiguredAsset().String())
}

func TestConversionRatioScenario(t *testing.T) {
	prices := &stubPrices{cached: decimal.RequireFromString("0.45"), fresh: decimal.RequireFromString("0.45")}
	o := New(prices, decimal.RequireFromString("0.05"), zerolog.Nop())

	ratio, err := o.ConversionRatio()
	require.NoError(t, err)
	assert.Equal(t, "9", ratio.String())
	assert.Zero(t, prices.freshCalls, "stale-tolerant ratio must not fetch")

	fresh, err := o.FreshConversionRatio(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9", fresh.String())
	assert.Equal(t, 1, prices.freshCalls)
}

func TestSnapshotUsesFreshPrice(t *testing.T) {
	prices := &stubPrices{cached: decimal.RequireFromString("0.40"), fresh: decimal.RequireFromString("0.50")}
	o := New(prices, decimal.RequireFromString("0.05"), zerolog.Nop())

	s, err := o.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Fresh)
	assert.Equal(t, "0.5", s.POLUSD.String())
	assert.Equal(t, "10000000000000000000", s.ScaledRatio.Dec())

	stale, err := o.StaleSnapshot()
	require.NoError(t, err)
	assert.False(t, stale.Fresh)
	assert.Equal(t, "8", stale.Ratio.String())
}

func TestConversionRatioConfigurationError(t *testing.T) {
	o := &Oracle{configured: decimal.Zero, volatile: &stubPrices{cached: decimal.NewFromInt(1)}, logger: zerolog.Nop()}

	_, err := o.ConversionRatio()
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "TIME26_PRICE_USD", cfgErr.Setting)

	_, err = o.Snapshot(context.Background())
	assert.True(t, errors.As(err, &cfgErr))
}
