package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"time26-oracle/internal/alerting"
	"time26-oracle/internal/fixedpoint"
	"time26-oracle/internal/metrics"
	"time26-oracle/internal/oracle"
	"time26-oracle/internal/scheduler"
	"time26-oracle/internal/settlement"
	"time26-oracle/internal/storage"
)

// BalanceReader reads the distributor balances at the latest block.
type BalanceReader interface {
	Balances(ctx context.Context) (settlement.Balances, uint64, error)
}

// PriceSource yields display prices without blocking on the network.
type PriceSource interface {
	StaleSnapshot() (oracle.Snapshot, error)
}

// Options tune the settlement run.
type Options struct {
	Tolerance    *uint256.Int
	DailyPool    *uint256.Int
	LookbackDays int
	AlertsOn     bool
	Channels     []string
	LockKey      int64
}

// Deps groups the collaborators of the settlement service. Nil stores disable persistence.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Chain     BalanceReader
	Prices    PriceSource
	Snapshots storage.SnapshotStore
	Rewards   storage.RewardStore
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
	Metrics   *metrics.Registry
}

// DayResult is the outcome of reconciling one day.
type DayResult struct {
	Day           time.Time
	BlockNumber   uint64
	Verification  settlement.Verification
	Prices        oracle.Snapshot
	DifferenceUSD decimal.Decimal
	Distribution  *settlement.Distribution
	Persisted     bool
}

// Service orchestrates daily settlement verification, persistence, and alerting.
type Service struct {
	deps   Deps
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs the settlement service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if opts.Tolerance == nil {
		opts.Tolerance = settlement.DefaultTolerance
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 1
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "settlement").Logger(),
	}
}

// Run begins the daily settlement loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.Tick)
}

// Tick settles every unprocessed day in the lookback window ending before bucket's day.
func (s *Service) Tick(ctx context.Context, bucket time.Time) error {
	to := settlement.DayOf(bucket)
	from := to.AddDate(0, 0, -s.opts.LookbackDays)
	_, err := s.Backfill(ctx, from, to, false)
	return err
}

// Backfill reconciles the unprocessed days in [from, to). A dry run skips persistence and alerts.
func (s *Service) Backfill(ctx context.Context, from, to time.Time, dryRun bool) ([]DayResult, error) {
	if !dryRun {
		unlock, proceed, err := s.acquireLock(ctx)
		if err != nil {
			return nil, err
		}
		if !proceed {
			s.logger.Debug().Time("from", from).Msg("skip settlement because advisory lock held elsewhere")
			return nil, nil
		}
		if unlock != nil {
			defer unlock()
		}
	}

	var processed []time.Time
	if s.deps.Snapshots != nil {
		var err error
		processed, err = s.deps.Snapshots.ListProcessedDays(ctx, settlement.DayOf(from), to)
		if err != nil {
			return nil, fmt.Errorf("list processed days: %w", err)
		}
	}

	days := settlement.UnprocessedDays(from, to, processed)
	if len(days) == 0 {
		s.logger.Debug().Time("from", from).Time("to", to).Msg("no unprocessed days")
		return nil, nil
	}

	results := make([]DayResult, 0, len(days))
	var errs []error
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.ProcessDay(ctx, day, dryRun)
		if err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", day.Format(time.DateOnly), err))
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

// ProcessDay verifies the distributor balances and records them under day.
func (s *Service) ProcessDay(ctx context.Context, day time.Time, dryRun bool) (DayResult, error) {
	day = settlement.DayOf(day)
	if s.deps.Chain == nil {
		return DayResult{}, fmt.Errorf("chain reader not configured")
	}

	balances, block, err := s.deps.Chain.Balances(ctx)
	if err != nil {
		s.markErrored(ctx, day, dryRun, err)
		return DayResult{}, fmt.Errorf("read balances: %w", err)
	}

	verification := settlement.Verify(balances, s.opts.Tolerance)
	result := DayResult{
		Day:          day,
		BlockNumber:  block,
		Verification: verification,
	}

	if s.deps.Prices != nil {
		prices, priceErr := s.deps.Prices.StaleSnapshot()
		if priceErr != nil {
			s.logger.Warn().Err(priceErr).Time("day", day).Msg("settling without USD values")
		} else {
			result.Prices = prices
			result.DifferenceUSD = differenceUSD(verification.Difference, prices.TIME26USD)
		}
	}

	event := s.logger.Info()
	if !verification.IsValid {
		event = s.logger.Error()
	}
	event.Time("day", day).
		Uint64("block", block).
		Str("difference_wei", verification.Difference.String()).
		Str("difference_usd", result.DifferenceUSD.StringFixed(6)).
		Bool("valid", verification.IsValid).
		Msg("settlement verified")

	if verification.IsValid && s.opts.DailyPool != nil && !s.opts.DailyPool.IsZero() && s.deps.Rewards != nil {
		dist, splitErr := s.split(ctx, day)
		if splitErr != nil {
			s.markErrored(ctx, day, dryRun, splitErr)
			return result, splitErr
		}
		result.Distribution = &dist
	}

	if dryRun {
		return result, nil
	}

	s.deps.Metrics.ObserveSettlement(differenceFloat(verification.Difference), verification.IsValid)

	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.UpsertSnapshot(ctx, toSnapshot(result)); err != nil {
			return result, fmt.Errorf("persist snapshot: %w", err)
		}
		result.Persisted = true
	}

	if result.Distribution != nil {
		if err := s.deps.Rewards.ReplaceAllocations(ctx, day, toAllocations(day, *result.Distribution)); err != nil {
			return result, fmt.Errorf("persist allocations: %w", err)
		}
	}

	if !verification.IsValid && s.opts.AlertsOn && s.deps.Notifier != nil {
		note := alerting.Notification{
			Day:          day,
			BlockNumber:  block,
			Verification: verification,
			Channels:     s.opts.Channels,
		}
		if !result.DifferenceUSD.IsZero() {
			note.AdditionalMsg = fmt.Sprintf("Difference value: $%s\n", result.DifferenceUSD.StringFixed(2))
		}
		if err := s.deps.Notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Time("day", day).Msg("failed to dispatch alert")
		}
	}

	return result, nil
}

func (s *Service) split(ctx context.Context, day time.Time) (settlement.Distribution, error) {
	records, err := s.deps.Rewards.ListActivity(ctx, day)
	if err != nil {
		return settlement.Distribution{}, fmt.Errorf("list activity: %w", err)
	}

	activity := make([]settlement.Activity, 0, len(records))
	for _, rec := range records {
		if !common.IsHexAddress(rec.Address) {
			s.logger.Warn().Str("address", rec.Address).Time("day", day).Msg("skipping activity with invalid address")
			continue
		}
		activity = append(activity, settlement.Activity{Address: common.HexToAddress(rec.Address), Weight: rec.Weight})
	}

	dist, err := settlement.SplitDaily(s.opts.DailyPool, activity)
	if err != nil {
		return settlement.Distribution{}, fmt.Errorf("split daily pool: %w", err)
	}
	s.logger.Info().Time("day", day).
		Int("recipients", len(dist.Allocations)).
		Str("assigned", fixedpoint.Format(dist.Assigned, 6)).
		Str("dust_wei", dist.Dust.Dec()).
		Msg("daily rewards split")
	return dist, nil
}

func (s *Service) markErrored(ctx context.Context, day time.Time, dryRun bool, cause error) {
	if dryRun || s.deps.Snapshots == nil {
		return
	}
	if err := s.deps.Snapshots.MarkSnapshotErrored(ctx, day, cause.Error()); err != nil {
		s.logger.Error().Err(err).Time("day", day).Msg("failed to mark snapshot errored")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func toSnapshot(r DayResult) storage.SettlementSnapshot {
	v := r.Verification
	snap := storage.SettlementSnapshot{
		Day:             r.Day,
		InitialDeposit:  v.InitialDeposit,
		ContractBalance: v.ContractBalance,
		TotalBurned:     v.TotalBurned,
		TotalClaimed:    v.TotalClaimed,
		Difference:      v.Difference,
		IsValid:         v.IsValid,
		TIME26USD:       r.Prices.TIME26USD,
		POLUSD:          r.Prices.POLUSD,
		Status:          storage.StatusSettled,
	}
	if r.BlockNumber != 0 {
		block := int64(r.BlockNumber)
		snap.BlockNumber = &block
	}
	return snap
}

func toAllocations(day time.Time, dist settlement.Distribution) []storage.RewardAllocation {
	out := make([]storage.RewardAllocation, 0, len(dist.Allocations))
	for _, a := range dist.Allocations {
		if a.Amount.IsZero() {
			continue
		}
		out = append(out, storage.RewardAllocation{Day: day, Address: a.Address.Hex(), Amount: a.Amount})
	}
	return out
}

// differenceUSD values a signed smallest-unit difference at the TIME26 price.
func differenceUSD(diff *big.Int, priceUSD decimal.Decimal) decimal.Decimal {
	if diff == nil || priceUSD.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(diff, -fixedpoint.Decimals).Mul(priceUSD)
}

func differenceFloat(diff *big.Int) float64 {
	if diff == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(diff).Float64()
	return f
}
