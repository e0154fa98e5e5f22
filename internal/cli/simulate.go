package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"time26-oracle/internal/fixedpoint"
	"time26-oracle/internal/settlement"
)

var (
	simulateInitial string
	simulateBalance string
	simulateBurned  string
	simulateClaimed string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Verify the given distributor balances and send the discrepancy alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		var balances settlement.Balances
		var err error
		if balances.InitialDeposit, err = fixedpoint.ParseAmount(simulateInitial); err != nil {
			return fmt.Errorf("--initial: %w", err)
		}
		if balances.ContractBalance, err = fixedpoint.ParseAmount(simulateBalance); err != nil {
			return fmt.Errorf("--balance: %w", err)
		}
		if balances.TotalBurned, err = fixedpoint.ParseAmount(simulateBurned); err != nil {
			return fmt.Errorf("--burned: %w", err)
		}
		if balances.TotalClaimed, err = fixedpoint.ParseAmount(simulateClaimed); err != nil {
			return fmt.Errorf("--claimed: %w", err)
		}
		return getApp().SimulateDiscrepancy(cmd.Context(), balances)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateInitial, "initial", "", "Initial deposit (TIME26 wei)")
	simulateCmd.Flags().StringVar(&simulateBalance, "balance", "", "Contract balance (TIME26 wei)")
	simulateCmd.Flags().StringVar(&simulateBurned, "burned", "0", "Total burned (TIME26 wei)")
	simulateCmd.Flags().StringVar(&simulateClaimed, "claimed", "0", "Total claimed (TIME26 wei)")
}
