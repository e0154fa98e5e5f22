package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"time26-oracle/internal/fixedpoint"
)

// Show prints recent settlement snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapshots, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Day (UTC)\tInitial\tBalance\tBurned\tClaimed\tDifference (wei)\tValid\tPOL USD\tStatus\tError")

	for _, snap := range snapshots {
		errMsg := ""
		if snap.Error != nil {
			errMsg = sanitizeInline(*snap.Error)
		}
		diff := "0"
		if snap.Difference != nil {
			diff = snap.Difference.String()
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			snap.Day.UTC().Format(time.DateOnly),
			fixedpoint.Format(snap.InitialDeposit, 3),
			fixedpoint.Format(snap.ContractBalance, 3),
			fixedpoint.Format(snap.TotalBurned, 3),
			fixedpoint.Format(snap.TotalClaimed, 3),
			diff,
			snap.IsValid,
			snap.POLUSD.StringFixed(4),
			snap.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
