package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/holiman/uint256"

	"time26-oracle/internal/chain"
	"time26-oracle/internal/eligibility"
	"time26-oracle/internal/fixedpoint"
)

// Quote prints the current prices, the mint cost in both assets and, with a balance, the eligibility verdict.
func (a *App) Quote(ctx context.Context, opts QuoteOptions) error {
	mintCost, err := fixedpoint.ParseAmount(opts.MintCost)
	if err != nil {
		return fmt.Errorf("--mint-cost: %w", err)
	}

	gasWei, err := a.resolveGas(ctx, opts)
	if err != nil {
		return err
	}

	orc := a.Oracle()
	snap, err := orc.Snapshot(ctx)
	if err != nil {
		return err
	}

	reciprocal, err := fixedpoint.RatioFromPrices(snap.TIME26USD, snap.POLUSD)
	if err != nil {
		return err
	}
	mintNative, err := fixedpoint.Convert(mintCost, reciprocal)
	if err != nil {
		return err
	}
	gasTIME26, err := fixedpoint.Convert(gasWei, snap.ScaledRatio)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "TIME26 USD\t%s\n", snap.TIME26USD.String())
	fmt.Fprintf(writer, "POL USD\t%s\n", snap.POLUSD.String())
	fmt.Fprintf(writer, "TIME26 per POL\t%s\n", snap.Ratio.String())
	fmt.Fprintf(writer, "Mint cost\t%s TIME26 (%s POL)\n", fixedpoint.Format(mintCost, eligibility.DisplayDecimals), fixedpoint.Format(mintNative, eligibility.DisplayDecimals))
	fmt.Fprintf(writer, "Gas\t%s POL (%s TIME26)\n", fixedpoint.Format(gasWei, eligibility.DisplayDecimals), fixedpoint.Format(gasTIME26, eligibility.DisplayDecimals))
	writer.Flush()

	if opts.Balance == "" {
		return nil
	}

	balance, err := fixedpoint.ParseAmount(opts.Balance)
	if err != nil {
		return fmt.Errorf("--balance: %w", err)
	}
	result := eligibility.Decide(eligibility.Request{
		UnclaimedBalance: balance,
		MintCost:         mintCost,
		EstimatedGasWei:  gasWei,
	}, snap)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func (a *App) resolveGas(ctx context.Context, opts QuoteOptions) (*uint256.Int, error) {
	if opts.EstimatedGasWei != "" {
		v, err := fixedpoint.ParseAmount(opts.EstimatedGasWei)
		if err != nil {
			return nil, fmt.Errorf("--gas-wei: %w", err)
		}
		return v, nil
	}

	limit := opts.GasLimit
	if limit == 0 {
		limit = a.Config.Polygon.MintGasLimit
	}
	if limit == 0 {
		limit = chain.DefaultGasLimit
	}

	reader := a.newChainReader()
	defer reader.Close()
	gas, err := reader.EstimateGasWei(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("estimate gas (pass --gas-wei to skip): %w", err)
	}
	return gas, nil
}
