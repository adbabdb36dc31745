package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
)

var (
	listJSON bool
	listKind string
	listTag  string
)

type entryView struct {
	Key    string   `json:"key"`
	Kind   string   `json:"kind"`
	Amount string   `json:"amount"`
	Memo   string   `json:"memo,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Symbol string   `json:"symbol,omitempty"`
	Shares string   `json:"shares,omitempty"`
}

func viewOf(e core.Entry) entryView {
	v := entryView{Key: e.Key(), Kind: e.Kind(), Amount: e.Amount().String()}
	switch t := e.(type) {
	case *ledger.Transaction:
		v.Memo = t.Memo()
		v.Tags = t.Tags()
	case *ledger.StockTrade:
		v.Symbol = t.Symbol()
		v.Shares = t.Shares().String()
	}
	return v
}

func (v entryView) detail() string {
	if v.Kind == ledger.KindStockTrade {
		return fmt.Sprintf("%s x%s", v.Symbol, v.Shares)
	}
	detail := v.Memo
	if len(v.Tags) > 0 {
		detail = strings.TrimSpace(detail + " #" + strings.Join(v.Tags, " #"))
	}
	return detail
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all entries in the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withRuntime(ctx, false, func(rt *tally.Runtime) error {
			var views []entryView
			for _, e := range rt.Book.Entries() {
				v := viewOf(e)
				if listKind != "" && v.Kind != listKind {
					continue
				}
				if listTag != "" && !contains(v.Tags, listTag) {
					continue
				}
				views = append(views, v)
			}

			out := cmd.OutOrStdout()
			if listJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(views)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Key, v.Kind, v.Amount, v.detail())
			}
			return w.Flush()
		}, tally.WithReadOnly(true))
	},
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().StringVar(&listKind, "kind", "", "Filter entries by kind (tx, stock)")
	listCmd.Flags().StringVar(&listTag, "tag", "", "Filter transactions by tag")
}
