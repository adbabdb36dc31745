package chunk

import (
	"github.com/shopspring/decimal"

	"github.com/aretw0/tally/pkg/core"
)

// Amount is the base contributor: every entry adds its amount, and "amount"
// deltas move the total.
type Amount struct{}

func (Amount) Aggregate() string { return core.AggregateAmount }
func (Amount) Field() string     { return core.AggregateAmount }

func (Amount) Contribute(e core.Entry) (decimal.Decimal, bool) {
	return e.Amount(), true
}

// FieldContributor adapts a getter to core.Contributor. Entries for which
// Value reports false do not take part in the aggregate.
type FieldContributor struct {
	Name  string // aggregate name
	Key   string // tracked Delta field, defaults to Name
	Value func(e core.Entry) (decimal.Decimal, bool)
}

func (f FieldContributor) Aggregate() string { return f.Name }

func (f FieldContributor) Field() string {
	if f.Key == "" {
		return f.Name
	}
	return f.Key
}

func (f FieldContributor) Contribute(e core.Entry) (decimal.Decimal, bool) {
	return f.Value(e)
}

// recount sums every contributor over entries.
func recount(entries []core.Entry, contributors []core.Contributor) core.Aggregates {
	agg := zeroAggregates(contributors)
	agg.Count = len(entries)
	for _, e := range entries {
		for _, c := range contributors {
			if v, ok := c.Contribute(e); ok {
				agg.Totals[c.Aggregate()] = agg.Totals[c.Aggregate()].Add(v)
			}
		}
	}
	return agg
}

func zeroAggregates(contributors []core.Contributor) core.Aggregates {
	agg := core.NewAggregates()
	for _, c := range contributors {
		agg.Totals[c.Aggregate()] = decimal.Zero
	}
	return agg
}

// withBase puts the base contributor first and drops duplicates by aggregate name.
func withBase(extra []core.Contributor) []core.Contributor {
	out := []core.Contributor{Amount{}}
	seen := map[string]bool{core.AggregateAmount: true}
	for _, c := range extra {
		if c == nil || seen[c.Aggregate()] {
			continue
		}
		seen[c.Aggregate()] = true
		out = append(out, c)
	}
	return out
}
