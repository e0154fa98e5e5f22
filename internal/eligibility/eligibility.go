package eligibility

import (
	"context"
	"encoding/json"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"time26-oracle/internal/fixedpoint"
	"time26-oracle/internal/metrics"
	"time26-oracle/internal/oracle"
)

// DisplayDecimals caps the fractional digits of formatted amounts.
const DisplayDecimals = 6

// Reason explains an ineligible result.
type Reason string

const (
	ReasonInsufficientBalance Reason = "INSUFFICIENT_BALANCE"
	ReasonValueTooLow         Reason = "VALUE_TOO_LOW"
)

// Request carries the smallest-unit inputs of one sponsorship decision.
// UnclaimedBalance and MintCost are TIME26; EstimatedGasWei is POL.
type Request struct {
	UnclaimedBalance *uint256.Int
	MintCost         *uint256.Int
	EstimatedGasWei  *uint256.Int
}

// Result is the outcome of a sponsorship decision. All amounts are TIME26.
// Reason is empty iff Eligible; Shortfall is nil unless Reason is ReasonInsufficientBalance.
type Result struct {
	Eligible         bool
	UnclaimedBalance *uint256.Int
	MintCost         *uint256.Int
	GasCost          *uint256.Int
	TotalCost        *uint256.Int
	Shortfall        *uint256.Int
	Reason           Reason

	EstimatedGasWei *uint256.Int
	TotalCostUSD    decimal.Decimal
	GasValueUSD     decimal.Decimal
	Prices          oracle.Snapshot
}

// Pricer yields the prices a decision is made against.
type Pricer interface {
	Snapshot(ctx context.Context) (oracle.Snapshot, error)
}

// Evaluator decides whether the platform sponsors a gasless mint.
type Evaluator struct {
	pricer  Pricer
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewEvaluator constructs an evaluator. m may be nil.
func NewEvaluator(pricer Pricer, m *metrics.Registry, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		pricer:  pricer,
		metrics: m,
		logger:  logger.With().Str("component", "eligibility").Logger(),
	}
}

// Evaluate prices the request with a fresh POL quote and decides sponsorship.
// Only configuration problems are returned as errors.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	snap, err := e.pricer.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Decide(req, snap)

	e.metrics.ObserveEligibility(string(res.Reason))
	e.logger.Debug().
		Bool("eligible", res.Eligible).
		Str("reason", string(res.Reason)).
		Str("total_cost", res.TotalCost.Dec()).
		Str("ratio", snap.Ratio.String()).
		Msg("eligibility evaluated")
	return res, nil
}

// Decide applies the sponsorship rules to req at the given prices.
func Decide(req Request, snap oracle.Snapshot) Result {
	balance := orZero(req.UnclaimedBalance)
	mintCost := orZero(req.MintCost)
	gasWei := orZero(req.EstimatedGasWei)

	// Costs beyond 2^256-1 saturate; no balance can cover them.
	gasCost, err := fixedpoint.Convert(gasWei, snap.ScaledRatio)
	if err != nil {
		gasCost = new(uint256.Int).SetAllOne()
	}
	totalCost, overflow := new(uint256.Int).AddOverflow(mintCost, gasCost)
	if overflow {
		totalCost.SetAllOne()
	}

	hasEnoughBalance := !balance.Lt(totalCost)

	totalUSD := fixedpoint.ToUSD(totalCost, snap.TIME26USD)
	gasUSD := fixedpoint.ToUSD(gasWei, snap.POLUSD)
	valueExceedsGas := totalUSD.GreaterThan(gasUSD)

	res := Result{
		Eligible:         hasEnoughBalance && valueExceedsGas,
		UnclaimedBalance: new(uint256.Int).Set(balance),
		MintCost:         new(uint256.Int).Set(mintCost),
		GasCost:          gasCost,
		TotalCost:        totalCost,
		EstimatedGasWei:  new(uint256.Int).Set(gasWei),
		TotalCostUSD:     totalUSD,
		GasValueUSD:      gasUSD,
		Prices:           snap,
	}

	switch {
	case !hasEnoughBalance:
		res.Reason = ReasonInsufficientBalance
		res.Shortfall = new(uint256.Int).Sub(totalCost, balance)
	case !valueExceedsGas:
		res.Reason = ReasonValueTooLow
	}
	return res
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return fixedpoint.Zero()
	}
	return v
}

type resultJSON struct {
	Eligible                  bool    `json:"eligible"`
	Reason                    string  `json:"reason,omitempty"`
	UnclaimedBalance          string  `json:"unclaimedBalance"`
	MintCost                  string  `json:"mintCost"`
	GasCost                   string  `json:"gasCost"`
	TotalCost                 string  `json:"totalCost"`
	Shortfall                 *string `json:"shortfall,omitempty"`
	EstimatedGasWei           string  `json:"estimatedGasWei"`
	UnclaimedBalanceFormatted string  `json:"unclaimedBalanceFormatted"`
	MintCostFormatted         string  `json:"mintCostFormatted"`
	GasCostFormatted          string  `json:"gasCostFormatted"`
	TotalCostFormatted        string  `json:"totalCostFormatted"`
	ShortfallFormatted        *string `json:"shortfallFormatted,omitempty"`
	TotalCostUSD              string  `json:"totalCostUsd"`
	GasValueUSD               string  `json:"gasValueUsd"`
	TIME26USD                 string  `json:"time26Usd"`
	POLUSD                    string  `json:"polUsd"`
	Ratio                     string  `json:"ratio"`
}

// MarshalJSON encodes amounts as base-10 strings alongside capped-decimal renderings.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Eligible:                  r.Eligible,
		Reason:                    string(r.Reason),
		UnclaimedBalance:          orZero(r.UnclaimedBalance).Dec(),
		MintCost:                  orZero(r.MintCost).Dec(),
		GasCost:                   orZero(r.GasCost).Dec(),
		TotalCost:                 orZero(r.TotalCost).Dec(),
		EstimatedGasWei:           orZero(r.EstimatedGasWei).Dec(),
		UnclaimedBalanceFormatted: fixedpoint.Format(r.UnclaimedBalance, DisplayDecimals),
		MintCostFormatted:         fixedpoint.Format(r.MintCost, DisplayDecimals),
		GasCostFormatted:          fixedpoint.Format(r.GasCost, DisplayDecimals),
		TotalCostFormatted:        fixedpoint.Format(r.TotalCost, DisplayDecimals),
		TotalCostUSD:              r.TotalCostUSD.String(),
		GasValueUSD:               r.GasValueUSD.String(),
		TIME26USD:                 r.Prices.TIME26USD.String(),
		POLUSD:                    r.Prices.POLUSD.String(),
		Ratio:                     r.Prices.Ratio.String(),
	}
	if r.Shortfall != nil {
		raw := r.Shortfall.Dec()
		formatted := fixedpoint.Format(r.Shortfall, DisplayDecimals)
		out.Shortfall = &raw
		out.ShortfallFormatted = &formatted
	}
	return json.Marshal(out)
}
