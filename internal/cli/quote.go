package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"time26-oracle/internal/app"
)

var (
	quoteMintCost string
	quoteGasWei   string
	quoteBalance  string
	quoteGasLimit uint64
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Print prices, mint cost in both assets, and optionally the gasless verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		if quoteMintCost == "" {
			return fmt.Errorf("--mint-cost must be provided")
		}
		return getApp().Quote(cmd.Context(), app.QuoteOptions{
			MintCost:        quoteMintCost,
			EstimatedGasWei: quoteGasWei,
			Balance:         quoteBalance,
			GasLimit:        quoteGasLimit,
		})
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteMintCost, "mint-cost", "", "Mint cost (TIME26 wei)")
	quoteCmd.Flags().StringVar(&quoteGasWei, "gas-wei", "", "Estimated gas cost (POL wei); estimated on-chain when omitted")
	quoteCmd.Flags().StringVar(&quoteBalance, "balance", "", "Unclaimed TIME26 balance (wei); enables the eligibility verdict")
	quoteCmd.Flags().Uint64Var(&quoteGasLimit, "gas-limit", 0, "Gas limit for on-chain estimation (defaults to config)")
}
