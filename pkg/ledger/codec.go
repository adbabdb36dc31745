package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aretw0/tally/pkg/chunk"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/params"
)

// Codec persists Transactions and StockTrades as parameter maps keyed by kind.
type Codec struct{}

var _ chunk.Codec = Codec{}

// Encode implements chunk.Codec.
func (Codec) Encode(e core.Entry) (*params.Map, error) {
	m := params.New()
	m.Set("kind", e.Kind())
	m.Set("key", e.Key())
	m.SetDecimal(FieldAmount, e.Amount())

	switch v := e.(type) {
	case *Transaction:
		if memo := v.Memo(); memo != "" {
			m.Set(FieldMemo, memo)
		}
		if tags := v.Tags(); len(tags) > 0 {
			m.SetList(FieldTags, tags)
		}
	case *StockTrade:
		m.Set(FieldSymbol, v.Symbol())
		m.SetDecimal(FieldShares, v.Shares())
	default:
		return nil, fmt.Errorf("unsupported entry type %T", e)
	}
	return m, nil
}

// Decode implements chunk.Codec.
func (Codec) Decode(m *params.Map) (core.Entry, error) {
	kind, err := m.Text("kind")
	if err != nil {
		return nil, err
	}
	key, err := m.Text("key")
	if err != nil {
		return nil, err
	}
	amount, err := m.Decimal(FieldAmount)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindTransaction:
		var tags []string
		if m.Has(FieldTags) {
			if tags, err = m.List(FieldTags); err != nil {
				return nil, err
			}
		}
		return NewTransaction(key, amount, m.GetOr(FieldMemo, ""), tags...)
	case KindStockTrade:
		symbol, err := m.Text(FieldSymbol)
		if err != nil {
			return nil, err
		}
		shares, err := m.Decimal(FieldShares)
		if err != nil {
			return nil, err
		}
		return NewStockTrade(key, amount, symbol, shares)
	}
	return nil, fmt.Errorf("unknown entry kind %q", kind)
}

// Contributors returns the aggregates a book maintains: the base amount and
// the number of shares traded.
func Contributors() []core.Contributor {
	return []core.Contributor{
		chunk.Amount{},
		chunk.FieldContributor{
			Name: FieldShares,
			Value: func(e core.Entry) (decimal.Decimal, bool) {
				s, ok := e.(*StockTrade)
				if !ok {
					return decimal.Zero, false
				}
				return s.Shares(), true
			},
		},
	}
}
