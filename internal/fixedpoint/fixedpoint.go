// Package fixedpoint converts 18-decimal token amounts between denominations
// using integer arithmetic only. Floating or decimal values appear solely in
// ratio derivation and USD display helpers.
package fixedpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the smallest-unit precision of both assets.
const Decimals = 18

var (
	// Scale is 10^18, the fixed-point unit for amounts and ratios.
	Scale = uint256.NewInt(1_000_000_000_000_000_000)

	// ErrOverflow is returned when a converted amount exceeds 256 bits.
	ErrOverflow = errors.New("fixedpoint: result overflows uint256")
	// ErrNonPositivePrice is returned when a ratio denominator is zero or negative.
	ErrNonPositivePrice = errors.New("fixedpoint: price must be positive")
)

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// ParseAmount parses a base-10 smallest-unit amount.
func ParseAmount(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, errors.New("fixedpoint: empty amount")
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("fixedpoint: negative amount %q", s)
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("fixedpoint: parse amount %q: %w", s, err)
	}
	return v, nil
}

// Convert returns floor(amount * ratio / 10^18). The intermediate product is
// computed at 512 bits, so only a final quotient above 2^256-1 fails.
func Convert(amount, ratio *uint256.Int) (*uint256.Int, error) {
	if amount == nil || ratio == nil || amount.IsZero() || ratio.IsZero() {
		return Zero(), nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amount, ratio, Scale)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// RatioFromPrices returns floor(numerator / denominator * 10^18).
func RatioFromPrices(numerator, denominator decimal.Decimal) (*uint256.Int, error) {
	if !denominator.IsPositive() {
		return nil, ErrNonPositivePrice
	}
	if numerator.IsNegative() {
		return nil, fmt.Errorf("fixedpoint: negative price %s", numerator.String())
	}
	q, _ := numerator.Shift(Decimals).QuoRem(denominator, 0)
	ratio, overflow := uint256.FromBig(q.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return ratio, nil
}

// RatioDecimal renders a scaled ratio as a decimal.
func RatioDecimal(ratio *uint256.Int) decimal.Decimal {
	if ratio == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(ratio.ToBig(), -Decimals)
}

// ToUSD values an amount at priceUSD per whole token. For display and
// threshold comparisons only; never feed the result back into an amount.
func ToUSD(amount *uint256.Int, priceUSD decimal.Decimal) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -Decimals).Mul(priceUSD)
}

// Format renders an amount in whole tokens truncated to maxDecimals places.
func Format(amount *uint256.Int, maxDecimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -Decimals).Truncate(maxDecimals).String()
}
