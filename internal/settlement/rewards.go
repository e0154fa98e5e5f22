package settlement

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Activity is one user's reward weight for a day.
type Activity struct {
	Address common.Address
	Weight  *uint256.Int
}

// Allocation is the TIME26 amount assigned to a user.
type Allocation struct {
	Address common.Address
	Amount  *uint256.Int
}

// Distribution is the result of splitting a day's reward pool.
type Distribution struct {
	Pool        *uint256.Int
	Allocations []Allocation
	Assigned    *uint256.Int
	// Dust is the floor-division remainder left unassigned.
	Dust *uint256.Int
}

// ErrWeightOverflow is returned when the summed weights exceed 256 bits.
var ErrWeightOverflow = errors.New("settlement: total weight overflows uint256")

// SplitDaily allocates pool pro rata to activity weights. Duplicate addresses
// are merged, zero weights skipped, and allocations ordered by address.
// Each share is floor(pool * weight / totalWeight).
func SplitDaily(pool *uint256.Int, activity []Activity) (Distribution, error) {
	pool = orZero(pool)

	merged := make(map[common.Address]*uint256.Int)
	total := new(uint256.Int)
	for _, a := range activity {
		if a.Weight == nil || a.Weight.IsZero() {
			continue
		}
		acc, ok := merged[a.Address]
		if !ok {
			acc = new(uint256.Int)
			merged[a.Address] = acc
		}
		if _, overflow := acc.AddOverflow(acc, a.Weight); overflow {
			return Distribution{}, ErrWeightOverflow
		}
		if _, overflow := total.AddOverflow(total, a.Weight); overflow {
			return Distribution{}, ErrWeightOverflow
		}
	}

	dist := Distribution{
		Pool:        new(uint256.Int).Set(pool),
		Allocations: make([]Allocation, 0, len(merged)),
		Assigned:    new(uint256.Int),
		Dust:        new(uint256.Int),
	}
	if total.IsZero() {
		dist.Dust.Set(pool)
		return dist, nil
	}

	for addr, weight := range merged {
		share, _ := new(uint256.Int).MulDivOverflow(pool, weight, total)
		dist.Allocations = append(dist.Allocations, Allocation{Address: addr, Amount: share})
		dist.Assigned.Add(dist.Assigned, share)
	}
	sort.Slice(dist.Allocations, func(i, j int) bool {
		return bytes.Compare(dist.Allocations[i].Address[:], dist.Allocations[j].Address[:]) < 0
	})
	dist.Dust.Sub(pool, dist.Assigned)
	return dist, nil
}
