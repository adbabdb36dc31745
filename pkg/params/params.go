package params

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Map is a string keyed parameter store that preserves insertion order,
// so that serialization is deterministic.
// A Map is not safe for concurrent mutation. The zero value is an empty Map
// ready to use.
type Map struct {
	keys   []string
	values map[string]string
}

// New creates an empty Map.
func New() *Map {
	return &Map{values: make(map[string]string)}
}

// FromPairs builds a Map from pairs in order.
func FromPairs(pairs ...Pair) *Map {
	m := New()
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return m
}

// Set stores value under key. An existing key keeps its position.
func (m *Map) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the raw value for key.
func (m *Map) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// GetOr returns the raw value for key, or def when absent.
func (m *Map) GetOr(key, def string) string {
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Delete removes key.
func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Pairs returns the content in insertion order.
func (m *Map) Pairs() []Pair {
	out := make([]Pair, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, Pair{Key: k, Value: m.values[k]})
	}
	return out
}

// Equal reports whether both maps hold the same keys, values and order.
func (m *Map) Equal(o *Map) bool {
	if m == nil || o == nil {
		return m == o
	}
	if len(m.keys) != len(o.keys) {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k || o.values[k] != m.values[k] {
			return false
		}
	}
	return true
}

// String serializes the map to the field=value; grammar.
func (m *Map) String() string {
	var b strings.Builder
	for _, k := range m.keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m.values[k])
		b.WriteByte(';')
	}
	return b.String()
}

// SetList stores items as a bracketed list.
func (m *Map) SetList(key string, items []string) {
	m.Set(key, EncodeList(items))
}

// SetSections stores nested maps as a bracketed list of sections.
func (m *Map) SetSections(key string, maps []*Map) {
	m.Set(key, EncodeSections(maps))
}

// SetDecimal stores d in its canonical string form.
func (m *Map) SetDecimal(key string, d decimal.Decimal) {
	m.Set(key, d.String())
}

// SetInt stores an integer value.
func (m *Map) SetInt(key string, n int) {
	m.Set(key, strconv.Itoa(n))
}

// SetBool stores a boolean value.
func (m *Map) SetBool(key string, b bool) {
	m.Set(key, strconv.FormatBool(b))
}

// --- Typed accessors ---

func (m *Map) require(key, context string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", &ParseError{Context: context, Key: key, Pos: -1, Err: ErrMissingKey}
	}
	return v, nil
}

// Text returns the value for key, failing when the key is absent.
func (m *Map) Text(key string) (string, error) {
	return m.require(key, "text")
}

// Bool parses the value for key as a boolean.
func (m *Map) Bool(key string) (bool, error) {
	raw, err := m.require(key, "bool")
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, &ParseError{Context: "bool", Key: key, Raw: raw, Pos: -1, Err: err}
	}
	return b, nil
}

// Float parses the value for key as a float64.
func (m *Map) Float(key string) (float64, error) {
	raw, err := m.require(key, "float")
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &ParseError{Context: "float", Key: key, Raw: raw, Pos: -1, Err: err}
	}
	return f, nil
}

// Int parses the value for key as an int.
func (m *Map) Int(key string) (int, error) {
	raw, err := m.require(key, "int")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ParseError{Context: "int", Key: key, Raw: raw, Pos: -1, Err: err}
	}
	return n, nil
}

// Decimal parses the value for key as an exact decimal number.
func (m *Map) Decimal(key string) (decimal.Decimal, error) {
	raw, err := m.require(key, "decimal")
	if err != nil {
		return decimal.Zero, err
	}
	d, err := ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, &ParseError{Context: "decimal", Key: key, Raw: raw, Pos: -1, Err: err}
	}
	return d, nil
}

// Duration parses the value for key with time.ParseDuration.
func (m *Map) Duration(key string) (time.Duration, error) {
	raw, err := m.require(key, "duration")
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ParseError{Context: "duration", Key: key, Raw: raw, Pos: -1, Err: err}
	}
	return d, nil
}

// List decodes the value for key as a bracketed list.
func (m *Map) List(key string) ([]string, error) {
	raw, err := m.require(key, "list")
	if err != nil {
		return nil, err
	}
	items, err := DecodeList(raw)
	if err != nil {
		return nil, &ParseError{Context: "list", Key: key, Raw: raw, Pos: -1, Err: err}
	}
	return items, nil
}

// Sections decodes the value for key as a bracketed list of nested maps.
func (m *Map) Sections(key string) ([]*Map, error) {
	raw, err := m.require(key, "sections")
	if err != nil {
		return nil, err
	}
	maps, err := DecodeSections(raw)
	if err != nil {
		return nil, &ParseError{Context: "sections", Key: key, Raw: raw, Pos: -1, Err: err}
	}
	return maps, nil
}

// ParseDecimal parses s as a decimal, ignoring surrounding whitespace.
func ParseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}
