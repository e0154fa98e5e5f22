package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	chart "github.com/wcharczuk/go-chart/v2"

	"time26-oracle/internal/fixedpoint"
	"time26-oracle/internal/settlement"
	"time26-oracle/internal/storage"
)

// Export renders settlement history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * settlement.Day)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.SettlementSnapshot, max int) []storage.SettlementSnapshot {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}
	if max == 1 {
		return snapshots[len(snapshots)-1:]
	}

	result := make([]storage.SettlementSnapshot, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.SettlementSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"day", "block_number", "initial_deposit", "contract_balance", "total_burned", "total_claimed", "difference", "is_valid", "time26_usd", "pol_usd", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		block := ""
		if snap.BlockNumber != nil {
			block = strconv.FormatInt(*snap.BlockNumber, 10)
		}
		errMsg := ""
		if snap.Error != nil {
			errMsg = *snap.Error
		}
		record := []string{
			snap.Day.Format(time.DateOnly),
			block,
			amountString(snap.InitialDeposit),
			amountString(snap.ContractBalance),
			amountString(snap.TotalBurned),
			amountString(snap.TotalClaimed),
			signedString(snap.Difference),
			strconv.FormatBool(snap.IsValid),
			snap.TIME26USD.String(),
			snap.POLUSD.String(),
			snap.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSnapshotsPNG(path string, snapshots []storage.SettlementSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	balance := make([]float64, len(snapshots))
	difference := make([]float64, len(snapshots))
	pol := make([]float64, len(snapshots))

	for i, snap := range snapshots {
		x[i] = snap.Day
		balance[i] = tokens(amountBig(snap.ContractBalance))
		difference[i] = tokens(snap.Difference)
		pol[i] = snap.POLUSD.InexactFloat64()
	}

	tokenFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "TIME26",
			ValueFormatter: tokenFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "POL (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Contract balance",
				XValues: x,
				YValues: balance,
			},
			chart.TimeSeries{
				Name:    "Difference",
				XValues: x,
				YValues: difference,
			},
			chart.TimeSeries{
				Name:    "POL price",
				XValues: x,
				YValues: pol,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// tokens converts a smallest-unit amount to whole tokens for plotting.
func tokens(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(fixedpoint.Scale.ToBig())).Float64()
	return f
}

func amountBig(v *uint256.Int) *big.Int {
	if v == nil {
		return nil
	}
	return v.ToBig()
}

func amountString(v *uint256.Int) string {
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

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
