package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/aretw0/introspection"
	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
)

var showState bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the chunks of the ledger",
	Long: `Print one line per chunk: id, state, capacity, entry count, amount
total and digest. With --state, print the internal state of the bus,
the store and the book as JSON.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withRuntime(ctx, false, func(rt *tally.Runtime) error {
			out := cmd.OutOrStdout()
			if err := rt.Book.Flush(ctx); err != nil {
				return err
			}

			if showState {
				states := make(map[string]any)
				for _, c := range rt.Components() {
					if i, ok := c.(introspection.Introspectable); ok {
						states[c.ComponentType()] = i.State()
					}
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(states)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHUNK\tSTATE\tCAPACITY\tENTRIES\tAMOUNT\tDIGEST")
			for _, s := range rt.Book.Chunks() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
					s.ID, s.State, s.Capacity, s.Aggregates.Count, s.Aggregates.Total("amount"), shortDigest(s.Digest))
			}
			return w.Flush()
		}, tally.WithReadOnly(true))
	},
}

func shortDigest(d string) string {
	if len(d) > 20 {
		return d[:20] + "…"
	}
	return d
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showState, "state", false, "Print component state as JSON")
}
