package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"time26-oracle/internal/fixedpoint"
	"time26-oracle/internal/service"
	"time26-oracle/internal/settlement"
	"time26-oracle/internal/storage"
)

// Backfill reconciles the unprocessed days in [From, To).
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from := settlement.DayOf(opts.From)
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("backfill range is empty; check --from/--to")
	}
	if a.Config.Polygon.RPCURL == "" {
		return errors.New("polygon.rpc_url not configured; cannot read balances")
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	reader := a.newChainReader()
	defer reader.Close()

	var svc *service.Service
	var err error
	if opts.DryRun {
		svc, err = a.newSettlementService(nil, nil, reader, nil)
	} else {
		svc, err = a.newSettlementService(store, nil, reader, a.newNotifier())
	}
	if err != nil {
		return err
	}

	results, runErr := svc.Backfill(ctx, from, to, opts.DryRun)
	printDayResults(results)

	a.Logger.Info().Int("processed", len(results)).Bool("dry_run", opts.DryRun).Msg("backfill finished")
	if runErr != nil {
		return fmt.Errorf("some days failed to settle: %w", runErr)
	}
	return nil
}

func printDayResults(results []service.DayResult) {
	if len(results) == 0 {
		fmt.Fprintln(os.Stdout, "no days settled")
		return
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Day (UTC)\tBlock\tInitial\tAccounted\tDifference (wei)\tValid\tRecipients")
	for _, r := range results {
		recipients := "-"
		if r.Distribution != nil {
			recipients = fmt.Sprintf("%d", len(r.Distribution.Allocations))
		}
		v := r.Verification
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%t\t%s\n",
			r.Day.Format(time.DateOnly),
			r.BlockNumber,
			fixedpoint.Format(v.InitialDeposit, 6),
			v.Accounted.String(),
			v.Difference.String(),
			v.IsValid,
			recipients,
		)
	}
	writer.Flush()
}
