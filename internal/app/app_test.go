package app

import (
	"context"
	"encoding/csv"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"time26-oracle/internal/alerting"
	"time26-oracle/internal/config"
	"time26-oracle/internal/settlement"
	"time26-oracle/internal/storage"
)

func testApp(t *testing.T) *App {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestNewNotifierChannels(t *testing.T) {
	a := testApp(t)
	if a.newNotifier() != nil {
		t.Fatal("disabled alerting must yield no notifier")
	}

	a.Config.Alerting.Enabled = true
	a.Config.Alerting.Channels = []string{"telegram"}
	if a.newNotifier() != nil {
		t.Fatal("telegram without credentials must be skipped")
	}

	a.Config.Alerting.Channels = []string{"log", "pager"}
	if _, ok := a.newNotifier().(*alerting.Dispatcher); !ok {
		t.Fatal("log channel should produce a dispatcher")
	}
}

func TestOracleUsesConfiguredPrices(t *testing.T) {
	a := testApp(t)
	a.Config.Pricing.TIME26PriceUSD = "0.07"
	a.Config.Pricing.POLFallbackUSD = "0.5"

	orc := a.Oracle()
	if orc != a.Oracle() {
		t.Fatal("oracle should be built once")
	}
	if got := orc.PriceOfConfiguredAsset().String(); got != "0.07" {
		t.Fatalf("configured price = %s", got)
	}
	if got := orc.PriceOfVolatileAsset().String(); got != "0.5" {
		t.Fatalf("empty cache should serve the fallback, got %s", got)
	}
}

func TestSimulateDiscrepancyRequiresAlerting(t *testing.T) {
	a := testApp(t)
	if err := a.SimulateDiscrepancy(context.Background(), settlement.Balances{}); err == nil {
		t.Fatal("expected error with alerting disabled")
	}
}

func TestDownsampleSnapshots(t *testing.T) {
	snaps := make([]storage.SettlementSnapshot, 10)
	for i := range snaps {
		snaps[i].Day = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
	}
	out := downsampleSnapshots(snaps, 4)
	if len(out) != 4 {
		t.Fatalf("expected 4 points, got %d", len(out))
	}
	if !out[0].Day.Equal(snaps[0].Day) || !out[3].Day.Equal(snaps[9].Day) {
		t.Fatal("downsampling must keep both endpoints")
	}
	if got := downsampleSnapshots(snaps, 0); len(got) != 10 {
		t.Fatal("non-positive max keeps every point")
	}
}

func TestWriteSnapshotsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "snapshots.csv")
	block := int64(9)
	snaps := []storage.SettlementSnapshot{{
		Day:            time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
		BlockNumber:    &block,
		InitialDeposit: uint256.NewInt(1000),
		Difference:     big.NewInt(-3),
		Status:         storage.StatusSettled,
	}}
	if err := writeSnapshotsCSV(path, snaps); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}
	row := rows[1]
	if row[0] != "2026-10-16" || row[1] != "9" || row[2] != "1000" || row[3] != "0" || row[6] != "-3" {
		t.Fatalf("unexpected row %v", row)
	}
}
