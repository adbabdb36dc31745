package ledger

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/params"
)

// Entry kinds as persisted in chunk files.
const (
	KindTransaction = "tx"
	KindStockTrade  = "stock"
)

// Field names accepted by Set.
const (
	FieldAmount = core.AggregateAmount
	FieldMemo   = "memo"
	FieldTags   = "tags"
	FieldShares = "shares"
	FieldSymbol = "symbol"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid value")
)

// Mutable is an entry whose fields can be changed in place. Set returns the
// Delta describing the change so it can be published.
type Mutable interface {
	core.Entry
	Set(field, value string) (core.Delta, error)
}

// Transaction is a cash movement.
type Transaction struct {
	mu     sync.RWMutex
	key    string
	amount decimal.Decimal
	memo   string
	tags   []string
}

// NewTransaction validates and builds a Transaction.
func NewTransaction(key string, amount decimal.Decimal, memo string, tags ...string) (*Transaction, error) {
	if err := checkText("key", key, true); err != nil {
		return nil, err
	}
	if err := checkText(FieldMemo, memo, false); err != nil {
		return nil, err
	}
	for _, tag := range tags {
		if err := checkTag(tag); err != nil {
			return nil, err
		}
	}
	return &Transaction{key: key, amount: amount, memo: memo, tags: slices.Clone(tags)}, nil
}

func (t *Transaction) Key() string  { return t.key }
func (t *Transaction) Kind() string { return KindTransaction }

func (t *Transaction) Amount() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.amount
}

func (t *Transaction) Memo() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.memo
}

func (t *Transaction) Tags() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.tags)
}

// Set changes amount, memo or tags.
func (t *Transaction) Set(field, value string) (core.Delta, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch field {
	case FieldAmount:
		amount, err := parseAmount(field, value)
		if err != nil {
			return core.Delta{}, err
		}
		d := core.NewDelta(field, t.amount, amount)
		t.amount = amount
		return d, nil
	case FieldMemo:
		if err := checkText(field, value, false); err != nil {
			return core.Delta{}, err
		}
		d := core.Delta{Field: field, Old: t.memo, New: value}
		t.memo = value
		return d, nil
	case FieldTags:
		tags, err := params.DecodeList(value)
		if err != nil {
			return core.Delta{}, &params.ParseError{Context: "tags", Key: field, Raw: value, Pos: -1, Err: err}
		}
		for _, tag := range tags {
			if err := checkTag(tag); err != nil {
				return core.Delta{}, err
			}
		}
		d := core.Delta{Field: field, Old: params.EncodeList(t.tags), New: params.EncodeList(tags)}
		t.tags = tags
		return d, nil
	}
	return core.Delta{}, fmt.Errorf("%w %q for %s", ErrUnknownField, field, KindTransaction)
}

// StockTrade is a purchase (positive shares) or sale (negative shares) of a security.
type StockTrade struct {
	mu     sync.RWMutex
	key    string
	amount decimal.Decimal
	symbol string
	shares decimal.Decimal
}

// NewStockTrade validates and builds a StockTrade.
func NewStockTrade(key string, amount decimal.Decimal, symbol string, shares decimal.Decimal) (*StockTrade, error) {
	if err := checkText("key", key, true); err != nil {
		return nil, err
	}
	if err := checkText(FieldSymbol, symbol, true); err != nil {
		return nil, err
	}
	return &StockTrade{key: key, amount: amount, symbol: symbol, shares: shares}, nil
}

func (s *StockTrade) Key() string  { return s.key }
func (s *StockTrade) Kind() string { return KindStockTrade }

func (s *StockTrade) Amount() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.amount
}

func (s *StockTrade) Symbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol
}

func (s *StockTrade) Shares() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shares
}

// Set changes amount, shares or symbol.
func (s *StockTrade) Set(field, value string) (core.Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch field {
	case FieldAmount:
		amount, err := parseAmount(field, value)
		if err != nil {
			return core.Delta{}, err
		}
		d := core.NewDelta(field, s.amount, amount)
		s.amount = amount
		return d, nil
	case FieldShares:
		shares, err := parseAmount(field, value)
		if err != nil {
			return core.Delta{}, err
		}
		d := core.NewDelta(field, s.shares, shares)
		s.shares = shares
		return d, nil
	case FieldSymbol:
		if err := checkText(field, value, true); err != nil {
			return core.Delta{}, err
		}
		d := core.Delta{Field: field, Old: s.symbol, New: value}
		s.symbol = value
		return d, nil
	}
	return core.Delta{}, fmt.Errorf("%w %q for %s", ErrUnknownField, field, KindStockTrade)
}

var (
	_ Mutable = (*Transaction)(nil)
	_ Mutable = (*StockTrade)(nil)
)

func parseAmount(field, value string) (decimal.Decimal, error) {
	d, err := params.ParseDecimal(value)
	if err != nil {
		return decimal.Zero, &params.ParseError{Context: "decimal", Key: field, Raw: value, Pos: -1, Err: err}
	}
	return d, nil
}

// checkText rejects values the chunk grammar cannot carry verbatim.
func checkText(field, value string, required bool) error {
	if required && strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidValue, field)
	}
	if strings.ContainsAny(value, ";{}\n") {
		return fmt.Errorf("%w: %s must not contain ';', '{', '}' or newlines", ErrInvalidValue, field)
	}
	if value != strings.TrimSpace(value) {
		return fmt.Errorf("%w: %s has surrounding whitespace", ErrInvalidValue, field)
	}
	return nil
}

func checkTag(tag string) error {
	if err := checkText(FieldTags, tag, true); err != nil {
		return err
	}
	if strings.Contains(tag, ",") {
		return fmt.Errorf("%w: tag %q contains ','", ErrInvalidValue, tag)
	}
	return nil
}
