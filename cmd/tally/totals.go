package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
)

var (
	totalsCurrency string
	totalsJSON     bool
)

// formatAmount renders d in the given ISO currency, or as a plain decimal
// when code is empty.
func formatAmount(d decimal.Decimal, code string) string {
	if code == "" {
		return d.String()
	}
	// money.New never returns a nil currency, unlike money.GetCurrency.
	cur := *money.New(0, code).Currency()
	minor := d.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

var totalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Print the ledger totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		code := strings.ToUpper(totalsCurrency)
		if code != "" && money.GetCurrency(code) == nil {
			return fmt.Errorf("unknown currency %q", totalsCurrency)
		}

		ctx := cmd.Context()
		return withRuntime(ctx, false, func(rt *tally.Runtime) error {
			totals, err := rt.Book.SettledTotals(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if totalsJSON {
				view := map[string]any{"count": totals.Count}
				for _, name := range totals.Names() {
					view[name] = totals.Total(name).String()
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(view)
			}

			fmt.Fprintf(out, "entries: %d\n", totals.Count)
			for _, name := range totals.Names() {
				value := totals.Total(name).String()
				if name == "amount" {
					value = formatAmount(totals.Total(name), code)
				}
				fmt.Fprintf(out, "%s: %s\n", name, value)
			}
			return nil
		}, tally.WithReadOnly(true))
	},
}

func init() {
	rootCmd.AddCommand(totalsCmd)
	totalsCmd.Flags().StringVar(&totalsCurrency, "currency", "", "Display the amount in this ISO 4217 currency (e.g. EUR)")
	totalsCmd.Flags().BoolVar(&totalsJSON, "json", false, "Output in JSON format")
}
