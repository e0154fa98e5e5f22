package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSnapshotSQL = `INSERT INTO settlement_snapshots (
        day,
        block_number,
        initial_deposit,
        contract_balance,
        total_burned,
        total_claimed,
        difference,
        is_valid,
        time26_usd,
        pol_usd,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (day) DO UPDATE
    SET
        block_number     = EXCLUDED.block_number,
        initial_deposit  = EXCLUDED.initial_deposit,
        contract_balance = EXCLUDED.contract_balance,
        total_burned     = EXCLUDED.total_burned,
        total_claimed    = EXCLUDED.total_claimed,
        difference       = EXCLUDED.difference,
        is_valid         = EXCLUDED.is_valid,
        time26_usd       = EXCLUDED.time26_usd,
        pol_usd          = EXCLUDED.pol_usd,
        status           = EXCLUDED.status,
        error            = EXCLUDED.error;`

	snapshotColumns = `day,
        block_number,
        initial_deposit::text,
        contract_balance::text,
        total_burned::text,
        total_claimed::text,
        difference::text,
        is_valid,
        time26_usd::text,
        pol_usd::text,
        status,
        error,
        created_at`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM settlement_snapshots
    WHERE day >= $1
      AND day < $2
    ORDER BY day;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM settlement_snapshots
    ORDER BY day DESC
    LIMIT $1;`

	markSnapshotErroredSQL = `INSERT INTO settlement_snapshots (day, status, error)
    VALUES ($1, 'errored', $2)
    ON CONFLICT (day) DO UPDATE
    SET status = 'errored', error = EXCLUDED.error
    WHERE settlement_snapshots.status <> 'settled';`

	listProcessedDaysSQL = `SELECT day
    FROM settlement_snapshots
    WHERE status = 'settled'
      AND day >= $1
      AND day < $2
    ORDER BY day;`

	listActivitySQL = `SELECT address, weight::text
    FROM reward_activity
    WHERE day = $1
    ORDER BY address;`

	deleteAllocationsSQL = `DELETE FROM daily_rewards WHERE day = $1;`

	insertAllocationSQL = `INSERT INTO daily_rewards (day, address, amount)
    VALUES ($1,$2,$3);`

	listAllocationsSQL = `SELECT day, address, amount::text
    FROM daily_rewards
    WHERE day = $1
    ORDER BY address;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for settlement snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snapshot SettlementSnapshot) error
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]SettlementSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]SettlementSnapshot, error)
	ListProcessedDays(ctx context.Context, from, to time.Time) ([]time.Time, error)
	MarkSnapshotErrored(ctx context.Context, day time.Time, errMsg string) error
}

// RewardStore defines operations for the daily reward split.
type RewardStore interface {
	ListActivity(ctx context.Context, day time.Time) ([]ActivityRecord, error)
	ReplaceAllocations(ctx context.Context, day time.Time, allocations []RewardAllocation) error
	ListAllocations(ctx context.Context, day time.Time) ([]RewardAllocation, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

var (
	_ SnapshotStore  = (*Store)(nil)
	_ RewardStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// Store aggregates access to settlement snapshots and reward allocations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSnapshot persists or replaces the snapshot for a day.
func (s *Store) UpsertSnapshot(ctx context.Context, snapshot SettlementSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var block interface{}
	if snapshot.BlockNumber != nil {
		block = *snapshot.BlockNumber
	}

	var errMsg interface{}
	if snapshot.Error != nil {
		errMsg = *snapshot.Error
	}

	status := snapshot.Status
	if status == "" {
		status = StatusSettled
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snapshot.Day,
		block,
		uintString(snapshot.InitialDeposit),
		uintString(snapshot.ContractBalance),
		uintString(snapshot.TotalBurned),
		uintString(snapshot.TotalClaimed),
		signedString(snapshot.Difference),
		snapshot.IsValid,
		snapshot.TIME26USD.String(),
		snapshot.POLUSD.String(),
		status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert settlement snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists snapshots for days in [from, to).
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]SettlementSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, 0)
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending day.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]SettlementSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, limit)
}

// ListProcessedDays returns the settled days in [from, to).
func (s *Store) ListProcessedDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProcessedDaysSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list processed days: %w", queryErr)
	}
	days, collectErr := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if collectErr != nil {
		return nil, fmt.Errorf("scan processed days: %w", collectErr)
	}
	return days, nil
}

// MarkSnapshotErrored records a failed settlement attempt; settled days are left untouched.
func (s *Store) MarkSnapshotErrored(ctx context.Context, day time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markSnapshotErroredSQL, day, errMsg); execErr != nil {
		return fmt.Errorf("mark snapshot errored: %w", execErr)
	}
	return nil
}

// ListActivity returns the reward weights recorded for a day.
func (s *Store) ListActivity(ctx context.Context, day time.Time) ([]ActivityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActivitySQL, day)
	if queryErr != nil {
		return nil, fmt.Errorf("list activity: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ActivityRecord, 0)
	for rows.Next() {
		var address, weightStr string
		if err := rows.Scan(&address, &weightStr); err != nil {
			return nil, err
		}
		weight, err := parseUint(weightStr)
		if err != nil {
			return nil, fmt.Errorf("parse weight for %s: %w", address, err)
		}
		records = append(records, ActivityRecord{Address: address, Weight: weight})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ReplaceAllocations atomically swaps the allocations stored for a day.
func (s *Store) ReplaceAllocations(ctx context.Context, day time.Time, allocations []RewardAllocation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteAllocationsSQL, day); err != nil {
			return fmt.Errorf("delete allocations: %w", err)
		}
		if len(allocations) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, alloc := range allocations {
			batch.Queue(insertAllocationSQL, day, alloc.Address, uintString(alloc.Amount))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert allocations: %w", err)
		}
		return nil
	})
}

// ListAllocations returns the allocations stored for a day.
func (s *Store) ListAllocations(ctx context.Context, day time.Time) ([]RewardAllocation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAllocationsSQL, day)
	if queryErr != nil {
		return nil, fmt.Errorf("list allocations: %w", queryErr)
	}
	defer rows.Close()

	allocations := make([]RewardAllocation, 0)
	for rows.Next() {
		var (
			rec       RewardAllocation
			amountStr string
		)
		if err := rows.Scan(&rec.Day, &rec.Address, &amountStr); err != nil {
			return nil, err
		}
		if rec.Amount, err = parseUint(amountStr); err != nil {
			return nil, fmt.Errorf("parse amount for %s: %w", rec.Address, err)
		}
		allocations = append(allocations, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return allocations, nil
}

func collectSnapshots(rows pgx.Rows, capacity int) ([]SettlementSnapshot, error) {
	snapshots := make([]SettlementSnapshot, 0, capacity)
	for rows.Next() {
		snapshot, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func scanSnapshot(rows pgx.Rows) (SettlementSnapshot, error) {
	var (
		day                                time.Time
		block                              sql.NullInt64
		initialStr, contractStr, burnedStr string
		claimedStr, differenceStr          string
		isValid                            bool
		time26Str, polStr                  string
		status                             string
		errMsg                             sql.NullString
		createdAt                          time.Time
	)

	if err := rows.Scan(
		&day,
		&block,
		&initialStr,
		&contractStr,
		&burnedStr,
		&claimedStr,
		&differenceStr,
		&isValid,
		&time26Str,
		&polStr,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return SettlementSnapshot{}, err
	}

	snapshot := SettlementSnapshot{
		Day:       day,
		IsValid:   isValid,
		Status:    status,
		CreatedAt: createdAt,
	}

	var err error
	if snapshot.InitialDeposit, err = parseUint(initialStr); err != nil {
		return SettlementSnapshot{}, fmt.Errorf("parse initial deposit: %w", err)
	}
	if snapshot.ContractBalance, err = parseUint(contractStr); err != nil {
		return SettlementSnapshot{}, fmt.Errorf("parse contract balance: %w", err)
	}
	if snapshot.TotalBurned, err = parseUint(burnedStr); err != nil {
		return SettlementSnapshot{}, fmt.Errorf("parse total burned: %w", err)
	}
	if snapshot.TotalClaimed, err = parseUint(claimedStr); err != nil {
		return SettlementSnapshot{}, fmt.Errorf("parse total claimed: %w", err)
	}
	if snapshot.Difference, err = parseSigned(differenceStr); err != nil {
		return SettlementSnapshot{}, fmt.Errorf("parse difference: %w", err)
	}
	if snapshot.TIME26USD, err = decimal.NewFromString(time26Str); err != nil {
		return SettlementSnapshot{}, fmt.Errorf("parse time26 usd: %w", err)
	}
	if snapshot.POLUSD, err = decimal.NewFromString(polStr); err != nil {
		return SettlementSnapshot{}, fmt.Errorf("parse pol usd: %w", err)
	}

	if block.Valid {
		value := block.Int64
		snapshot.BlockNumber = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		snapshot.Error = &msg
	}

	return snapshot, nil
}

func uintString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func signedString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseUint(s string) (*uint256.Int, error) {
	return uint256.FromDecimal(s)
}

func parseSigned(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
