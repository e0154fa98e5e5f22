package settlement

import (
	"math/big"

	"github.com/holiman/uint256"
)

// DefaultTolerance is the largest |difference| still treated as balanced, in smallest units.
var DefaultTolerance = uint256.NewInt(1)

// Balances are the distributor figures a verification compares.
type Balances struct {
	InitialDeposit  *uint256.Int
	ContractBalance *uint256.Int
	TotalBurned     *uint256.Int
	TotalClaimed    *uint256.Int
}

// Verification checks initialDeposit = contractBalance + totalBurned + totalClaimed.
type Verification struct {
	Balances
	// Accounted is contractBalance + totalBurned + totalClaimed.
	Accounted *big.Int
	// Difference is initialDeposit - Accounted. Positive means funds are missing.
	Difference *big.Int
	Tolerance  *uint256.Int
	IsValid    bool
}

// Verify evaluates the fund-sufficiency formula. A nil tolerance uses DefaultTolerance.
func Verify(b Balances, tolerance *uint256.Int) Verification {
	if tolerance == nil {
		tolerance = DefaultTolerance
	}
	b = Balances{
		InitialDeposit:  orZero(b.InitialDeposit),
		ContractBalance: orZero(b.ContractBalance),
		TotalBurned:     orZero(b.TotalBurned),
		TotalClaimed:    orZero(b.TotalClaimed),
	}

	accounted := new(big.Int).Add(b.ContractBalance.ToBig(), b.TotalBurned.ToBig())
	accounted.Add(accounted, b.TotalClaimed.ToBig())
	diff := new(big.Int).Sub(b.InitialDeposit.ToBig(), accounted)

	return Verification{
		Balances:   b,
		Accounted:  accounted,
		Difference: diff,
		Tolerance:  tolerance,
		IsValid:    new(big.Int).Abs(diff).Cmp(tolerance.ToBig()) <= 0,
	}
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
