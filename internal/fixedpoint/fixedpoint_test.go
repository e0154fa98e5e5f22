package fixedpoint

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pow10(n uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(n))
}

func TestConvertZero(t *testing.T) {
	for _, ratio := range []*uint256.Int{Zero(), uint256.NewInt(1), pow10(24), new(uint256.Int).SetAllOne()} {
		out, err := Convert(Zero(), ratio)
		require.NoError(t, err)
		assert.True(t, out.IsZero())
	}
}

func TestConvertScenario(t *testing.T) {
	ratio, err := RatioFromPrices(decimal.RequireFromString("0.45"), decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	assert.Equal(t, "9000000000000000000", ratio.Dec())

	out, err := Convert(uint256.NewInt(10), ratio)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), out.Uint64())
}

func TestConvertTruncatesTowardZero(t *testing.T) {
	// 0.45 / 0.07 = 6.428571428571428571...
	ratio, err := RatioFromPrices(decimal.RequireFromString("0.45"), decimal.RequireFromString("0.07"))
	require.NoError(t, err)
	assert.Equal(t, "6428571428571428571", ratio.Dec())

	out, err := Convert(uint256.NewInt(10), ratio)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), out.Uint64())
}

func TestConvertLargeValuesDoNotOverflow(t *testing.T) {
	amount := pow10(30)
	ratio := pow10(24)
	out, err := Convert(amount, ratio)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Cmp(pow10(36)))
}

func TestConvertOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := Convert(max, max)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestConvertMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(26))
	randAmount := func() *uint256.Int {
		return new(uint256.Int).Mul(uint256.NewInt(rng.Uint64()), uint256.NewInt(rng.Uint64()%1_000_000_000_000))
	}

	for i := 0; i < 500; i++ {
		a1, a2 := randAmount(), randAmount()
		if a1.Gt(a2) {
			a1, a2 = a2, a1
		}
		r1, r2 := randAmount(), randAmount()
		if r1.Gt(r2) {
			r1, r2 = r2, r1
		}

		lowAmount, err := Convert(a1, r1)
		require.NoError(t, err)
		highAmount, err := Convert(a2, r1)
		require.NoError(t, err)
		assert.False(t, lowAmount.Gt(highAmount), "non-decreasing in amount")

		lowRatio, err := Convert(a1, r1)
		require.NoError(t, err)
		highRatio, err := Convert(a1, r2)
		require.NoError(t, err)
		assert.False(t, lowRatio.Gt(highRatio), "non-decreasing in ratio")
	}
}

func TestConvertRoundTripWithinOneUnit(t *testing.T) {
	pairs := []struct {
		name        string
		forward     decimal.Decimal
		denominator decimal.Decimal
	}{
		{name: "pol to time26", forward: decimal.RequireFromString("0.45"), denominator: decimal.RequireFromString("0.05")},
		{name: "double", forward: decimal.NewFromInt(2), denominator: decimal.NewFromInt(1)},
	}
	amounts := []uint64{1, 7, 1_000, 123_456_789, 999_999_999_999_999_999}

	for _, p := range pairs {
		t.Run(p.name, func(t *testing.T) {
			forward, err := RatioFromPrices(p.forward, p.denominator)
			require.NoError(t, err)
			back, err := RatioFromPrices(p.denominator, p.forward)
			require.NoError(t, err)

			for _, a := range amounts {
				amount := uint256.NewInt(a)
				converted, err := Convert(amount, forward)
				require.NoError(t, err)
				restored, err := Convert(converted, back)
				require.NoError(t, err)

				diff := new(uint256.Int)
				if amount.Gt(restored) {
					diff.Sub(amount, restored)
				} else {
					diff.Sub(restored, amount)
				}
				assert.True(t, diff.Cmp(uint256.NewInt(1)) <= 0, "amount %d restored as %s", a, restored.Dec())
			}
		})
	}
}

func TestRatioFromPricesRejectsNonPositive(t *testing.T) {
	_, err := RatioFromPrices(decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, ErrNonPositivePrice)
	_, err = RatioFromPrices(decimal.NewFromInt(1), decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrNonPositivePrice)
	_, err = RatioFromPrices(decimal.NewFromInt(-1), decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 1000000000000000000000000000000 ")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(pow10(30)))

	for _, bad := range []string{"", "-1", "1.5", "abc"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestToUSDAndFormat(t *testing.T) {
	oneAndHalf := new(uint256.Int).Mul(uint256.NewInt(15), pow10(17))
	usd := ToUSD(oneAndHalf, decimal.RequireFromString("0.45"))
	assert.Equal(t, "0.675", usd.String())

	assert.Equal(t, "1.5", Format(oneAndHalf, 4))
	third := uint256.NewInt(333_333_333_333_333_333)
	assert.Equal(t, "0.3333", Format(third, 4))
	assert.Equal(t, "0", Format(nil, 4))
	assert.Equal(t, "9", RatioDecimal(uint256.NewInt(9_000_000_000_000_000_000)).String())
}
