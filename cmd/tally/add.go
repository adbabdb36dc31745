package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/params"
)

var (
	addMemo string
	addTags []string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an entry and commit",
}

var addTxCmd = &cobra.Command{
	Use:   "tx KEY AMOUNT",
	Short: "Add a cash transaction",
	Long: `Add a cash transaction. Separate negative amounts from flags with --.`,
	Example: `  tally add tx --memo rent --tag home -- rent-01 -950
  tally add tx salary-01 3000`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := params.ParseDecimal(args[1])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		tx, err := tally.NewTransaction(args[0], amount, addMemo, addTags...)
		if err != nil {
			return err
		}
		return addEntry(cmd, tx)
	},
}

var addStockCmd = &cobra.Command{
	Use:     "stock KEY AMOUNT SYMBOL SHARES",
	Short:   "Add a stock trade (negative shares for a sale)",
	Example: `  tally add stock -- buy-acme -500 ACME 5`,
	Args:    cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := params.ParseDecimal(args[1])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		shares, err := params.ParseDecimal(args[3])
		if err != nil {
			return fmt.Errorf("invalid shares %q: %w", args[3], err)
		}
		st, err := tally.NewStockTrade(args[0], amount, args[2], shares)
		if err != nil {
			return err
		}
		return addEntry(cmd, st)
	},
}

func addEntry(cmd *cobra.Command, e tally.Entry) error {
	ctx := cmd.Context()
	return withRuntime(ctx, true, func(rt *tally.Runtime) error {
		if err := rt.Book.Add(ctx, e); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Entry '%s' added.\n", e.Key())
		return nil
	})
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.AddCommand(addTxCmd, addStockCmd)
	addTxCmd.Flags().StringVarP(&addMemo, "memo", "m", "", "Free text memo")
	addTxCmd.Flags().StringSliceVarP(&addTags, "tag", "t", nil, "Tag (repeatable)")
}
