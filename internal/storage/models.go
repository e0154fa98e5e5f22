package storage

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Snapshot statuses.
const (
	StatusSettled = "settled"
	StatusErrored = "errored"
)

// SettlementSnapshot is the persisted verification of one settlement day.
type SettlementSnapshot struct {
	Day             time.Time
	BlockNumber     *int64
	InitialDeposit  *uint256.Int
	ContractBalance *uint256.Int
	TotalBurned     *uint256.Int
	TotalClaimed    *uint256.Int
	Difference      *big.Int
	IsValid         bool
	TIME26USD       decimal.Decimal
	POLUSD          decimal.Decimal
	Status          string
	Error           *string
	CreatedAt       time.Time
}

// ActivityRecord is a user's reward weight for a day, written by the web app.
type ActivityRecord struct {
	Address string
	Weight  *uint256.Int
}

// RewardAllocation is a user's TIME26 allocation for a day.
type RewardAllocation struct {
	Day     time.Time
	Address string
	Amount  *uint256.Int
}
