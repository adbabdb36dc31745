package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
)

var setCmd = &cobra.Command{
	Use:   "set KEY FIELD VALUE",
	Short: "Change a field of an entry and commit",
	Long: `Change one field of an entry. Transactions accept amount, memo and
tags ({a,b}); stock trades accept amount, shares and symbol. The owning
chunk adjusts its totals from the resulting delta.`,
	Example: `  tally set buy-acme shares 8
  tally set rent-01 tags "{home,yearly}"`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withRuntime(ctx, true, func(rt *tally.Runtime) error {
			d, err := rt.Book.Update(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], d)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
}
