package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"time26-oracle/internal/alerting"
	"time26-oracle/internal/oracle"
	"time26-oracle/internal/settlement"
	"time26-oracle/internal/storage"
)

type stubChain struct {
	balances settlement.Balances
	block    uint64
	err      error
	calls    int
}

func (c *stubChain) Balances(context.Context) (settlement.Balances, uint64, error) {
	c.calls++
	return c.balances, c.block, c.err
}

type stubPrices struct{}

func (stubPrices) StaleSnapshot() (oracle.Snapshot, error) {
	return oracle.Snapshot{TIME26USD: decimal.RequireFromString("0.05"), POLUSD: decimal.RequireFromString("0.45")}, nil
}

type memoryStore struct {
	snapshots   map[time.Time]storage.SettlementSnapshot
	errored     map[time.Time]string
	activity    []storage.ActivityRecord
	allocations map[time.Time][]storage.RewardAllocation
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		snapshots:   map[time.Time]storage.SettlementSnapshot{},
		errored:     map[time.Time]string{},
		allocations: map[time.Time][]storage.RewardAllocation{},
	}
}

func (m *memoryStore) UpsertSnapshot(_ context.Context, s storage.SettlementSnapshot) error {
	m.snapshots[s.Day] = s
	return nil
}

func (m *memoryStore) ListSnapshotsBetween(context.Context, time.Time, time.Time) ([]storage.SettlementSnapshot, error) {
	return nil, nil
}

func (m *memoryStore) ListRecentSnapshots(context.Context, int) ([]storage.SettlementSnapshot, error) {
	return nil, nil
}

func (m *memoryStore) ListProcessedDays(_ context.Context, from, to time.Time) ([]time.Time, error) {
	var days []time.Time
	for day, s := range m.snapshots {
		if s.Status == storage.StatusSettled && !day.Before(from) && day.Before(to) {
			days = append(days, day)
		}
	}
	return days, nil
}

func (m *memoryStore) MarkSnapshotErrored(_ context.Context, day time.Time, msg string) error {
	m.errored[day] = msg
	return nil
}

func (m *memoryStore) ListActivity(context.Context, time.Time) ([]storage.ActivityRecord, error) {
	return m.activity, nil
}

func (m *memoryStore) ReplaceAllocations(_ context.Context, day time.Time, a []storage.RewardAllocation) error {
	m.allocations[day] = a
	return nil
}

func (m *memoryStore) ListAllocations(_ context.Context, day time.Time) ([]storage.RewardAllocation, error) {
	return m.allocations[day], nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func balanced() settlement.Balances {
	return settlement.Balances{
		InitialDeposit:  uint256.NewInt(1000),
		ContractBalance: uint256.NewInt(600),
		TotalBurned:     uint256.NewInt(100),
		TotalClaimed:    uint256.NewInt(300),
	}
}

func TestTickSettlesLookbackWindow(t *testing.T) {
	store := newMemoryStore()
	chain := &stubChain{balances: balanced(), block: 42}
	notifier := &recordingNotifier{}
	svc := New(Options{LookbackDays: 3, AlertsOn: true}, Deps{
		Chain: chain, Prices: stubPrices{}, Snapshots: store, Notifier: notifier,
	}, zerolog.Nop())

	bucket := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.Tick(context.Background(), bucket))
	assert.Len(t, store.snapshots, 3)
	assert.Equal(t, 3, chain.calls)
	assert.Empty(t, notifier.notes)

	snap := store.snapshots[time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)]
	assert.True(t, snap.IsValid)
	require.NotNil(t, snap.BlockNumber)
	assert.Equal(t, int64(42), *snap.BlockNumber)
	assert.Equal(t, "0.45", snap.POLUSD.String())

	require.NoError(t, svc.Tick(context.Background(), bucket))
	assert.Equal(t, 3, chain.calls, "settled days are not reprocessed")
}

func TestProcessDayAlertsOnDiscrepancy(t *testing.T) {
	store := newMemoryStore()
	b := balanced()
	b.ContractBalance = uint256.NewInt(500)
	notifier := &recordingNotifier{}
	svc := New(Options{AlertsOn: true, Channels: []string{"telegram"}}, Deps{
		Chain: &stubChain{balances: b}, Prices: stubPrices{}, Snapshots: store, Notifier: notifier,
	}, zerolog.Nop())

	day := time.Date(2026, 10, 1, 15, 0, 0, 0, time.UTC)
	res, err := svc.ProcessDay(context.Background(), day, false)
	require.NoError(t, err)
	assert.False(t, res.Verification.IsValid)
	assert.Equal(t, "100", res.Verification.Difference.String())
	assert.True(t, res.Persisted)
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, settlement.DayOf(day), notifier.notes[0].Day)
	assert.True(t, res.DifferenceUSD.Equal(decimal.RequireFromString("0.000000000000000005")))
}

func TestProcessDaySplitsPoolWhenValid(t *testing.T) {
	store := newMemoryStore()
	store.activity = []storage.ActivityRecord{
		{Address: "0x0000000000000000000000000000000000000002", Weight: uint256.NewInt(3)},
		{Address: "0x0000000000000000000000000000000000000001", Weight: uint256.NewInt(1)},
		{Address: "not-an-address", Weight: uint256.NewInt(10)},
	}
	svc := New(Options{DailyPool: uint256.NewInt(10)}, Deps{
		Chain: &stubChain{balances: balanced()}, Snapshots: store, Rewards: store,
	}, zerolog.Nop())

	day := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)
	res, err := svc.ProcessDay(context.Background(), day, false)
	require.NoError(t, err)
	require.NotNil(t, res.Distribution)
	assert.Equal(t, "1", res.Distribution.Dust.Dec())

	allocs := store.allocations[day]
	require.Len(t, allocs, 2)
	assert.Equal(t, "2", allocs[0].Amount.Dec())
	assert.Equal(t, "7", allocs[1].Amount.Dec())
}

func TestDryRunPersistsNothing(t *testing.T) {
	store := newMemoryStore()
	notifier := &recordingNotifier{}
	b := balanced()
	b.TotalClaimed = uint256.NewInt(0)
	svc := New(Options{AlertsOn: true}, Deps{
		Chain: &stubChain{balances: b}, Snapshots: store, Notifier: notifier,
	}, zerolog.Nop())

	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	results, err := svc.Backfill(context.Background(), from, from.AddDate(0, 0, 2), true)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Empty(t, store.snapshots)
	assert.Empty(t, notifier.notes)
}

func TestChainFailureMarksErrored(t *testing.T) {
	store := newMemoryStore()
	svc := New(Options{}, Deps{
		Chain: &stubChain{err: errors.New("rpc down")}, Snapshots: store,
	}, zerolog.Nop())

	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Backfill(context.Background(), from, from.AddDate(0, 0, 1), false)
	require.Error(t, err)
	assert.Contains(t, store.errored[from], "rpc down")
	assert.Empty(t, store.snapshots)
}

type busyLocker struct{}

func (busyLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, nil
}

func TestLockHeldElsewhereSkips(t *testing.T) {
	chain := &stubChain{balances: balanced()}
	svc := New(Options{LockKey: 7}, Deps{Chain: chain, Locker: busyLocker{}}, zerolog.Nop())

	require.NoError(t, svc.Tick(context.Background(), time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)))
	assert.Zero(t, chain.calls)
}

func TestSplitFailureMarksErrored(t *testing.T) {
	store := newMemoryStore()
	store.activity = []storage.ActivityRecord{
		{Address: "0x0000000000000000000000000000000000000001", Weight: new(uint256.Int).SetAllOne()},
		{Address: "0x0000000000000000000000000000000000000002", Weight: uint256.NewInt(1)},
	}
	svc := New(Options{DailyPool: uint256.NewInt(10)}, Deps{
		Chain: &stubChain{balances: balanced()}, Snapshots: store, Rewards: store,
	}, zerolog.Nop())

	day := time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC)
	_, err := svc.ProcessDay(context.Background(), day, false)
	require.ErrorIs(t, err, settlement.ErrWeightOverflow)
	assert.Contains(t, store.errored[day], "overflow")
	assert.Empty(t, store.snapshots)
	assert.Empty(t, store.allocations[day])
}
