package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
)

var removeCmd = &cobra.Command{
	Use:     "remove KEY",
	Aliases: []string{"rm"},
	Short:   "Remove an entry and commit",
	Long: `Remove the entry with the given key. A chunk left without entries
is deleted together with its file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withRuntime(ctx, true, func(rt *tally.Runtime) error {
			if _, err := rt.Book.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Entry '%s' removed.\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
