package pricecache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestCacheEmpty(t *testing.T) {
	c := New(0, nil)
	_, ok := c.Get()
	assert.False(t, ok)
	_, ok = c.Fresh()
	assert.False(t, ok)
	assert.Equal(t, DefaultTTL, c.TTL())
}

func TestCacheFreshnessWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(5*time.Minute, clock.Now)

	stored, err := c.Store(decimal.RequireFromString("0.45"))
	require.NoError(t, err)
	assert.Equal(t, AssetPOL, stored.Asset)
	assert.Equal(t, clock.now.UnixMilli(), stored.FetchedAtMillis())

	clock.Advance(4*time.Minute + 59*time.Second)
	q, ok := c.Fresh()
	require.True(t, ok)
	assert.True(t, q.USDPrice.Equal(decimal.RequireFromString("0.45")))

	clock.Advance(time.Second)
	_, ok = c.Fresh()
	assert.False(t, ok, "entry exactly TTL old is stale")

	q, ok = c.Get()
	require.True(t, ok, "stale entries are still served by Get")
	assert.True(t, q.USDPrice.Equal(decimal.RequireFromString("0.45")))
}

func TestCacheRejectsNonPositive(t *testing.T) {
	c := New(time.Minute, nil)
	_, err := c.Store(decimal.Zero)
	require.Error(t, err)
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCacheOverwrite(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(time.Minute, clock.Now)
	_, err := c.Store(decimal.RequireFromString("0.40"))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = c.Store(decimal.RequireFromString("0.50"))
	require.NoError(t, err)

	q, ok := c.Fresh()
	require.True(t, ok)
	assert.Equal(t, "0.5", q.USDPrice.String())
}
