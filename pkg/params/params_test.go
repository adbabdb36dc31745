package params

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_RoundTrip(t *testing.T) {
	m := New()
	m.Set("zeta", "last letter")
	m.Set("alpha", "1")
	m.SetList("tags", []string{"a", "b", "c"})
	m.SetDecimal("amount", decimal.RequireFromString("-12.50"))
	m.SetBool("sealed", true)

	text := m.String()
	assert.Equal(t, "zeta=last letter;alpha=1;tags={a,b,c};amount=-12.5;sealed=true;", text)

	parsed, err := Parse(text)
	require.NoError(t, err)
	assert.True(t, m.Equal(parsed), "round trip changed the map: %s", parsed)
	assert.Equal(t, m.Keys(), parsed.Keys())
}

func TestMap_InsertionOrder(t *testing.T) {
	m := New()
	m.Set("b", "1")
	m.Set("a", "2")
	m.Set("b", "3")

	assert.Equal(t, []string{"b", "a"}, m.Keys())
	v, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	m.Delete("b")
	assert.Equal(t, []string{"a"}, m.Keys())
	assert.False(t, m.Has("b"))
	assert.Equal(t, "fallback", m.GetOr("b", "fallback"))
}

func TestMap_TypedAccessors(t *testing.T) {
	m, err := Parse("on=true;ratio=0.25;n=42;amount=10.005;wait=150ms;tags={x,y};")
	require.NoError(t, err)

	b, err := m.Bool("on")
	require.NoError(t, err)
	assert.True(t, b)

	f, err := m.Float("ratio")
	require.NoError(t, err)
	assert.Equal(t, 0.25, f)

	n, err := m.Int("n")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	d, err := m.Decimal("amount")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("10.005")))

	w, err := m.Duration("wait")
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, w)

	l, err := m.List("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, l)
}

func TestMap_TypedAccessors_Malformed(t *testing.T) {
	m, err := Parse("on=maybe;ratio=abc;n=4.2;amount=1,5;tags={x;")
	// The unbalanced list is rejected by the grammar itself.
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnbalanced)

	m, err = Parse("on=maybe;ratio=abc;n=4.2;amount=1,5;")
	require.NoError(t, err)

	checks := map[string]func() error{
		"on":      func() error { _, err := m.Bool("on"); return err },
		"ratio":   func() error { _, err := m.Float("ratio"); return err },
		"n":       func() error { _, err := m.Int("n"); return err },
		"amount":  func() error { _, err := m.Decimal("amount"); return err },
		"missing": func() error { _, err := m.Int("missing"); return err },
	}

	for key, check := range checks {
		t.Run(key, func(t *testing.T) {
			err := check()
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, key, perr.Key)
			if key == "missing" {
				assert.ErrorIs(t, err, ErrMissingKey)
				return
			}
			raw, _ := m.Get(key)
			assert.Equal(t, raw, perr.Raw)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestMap_Equal(t *testing.T) {
	a := FromPairs(Pair{"x", "1"}, Pair{"y", "2"})
	b := FromPairs(Pair{"y", "2"}, Pair{"x", "1"})
	c := FromPairs(Pair{"x", "1"}, Pair{"y", "2"})

	assert.False(t, a.Equal(b), "order matters")
	assert.True(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestMap_ZeroValue(t *testing.T) {
	var m Map
	assert.False(t, m.Has("a"))
	assert.Zero(t, m.Len())

	m.Set("a", "1")
	m.SetInt("n", 2)
	assert.Equal(t, "a=1;n=2;", m.String())
}

func TestParseError_ClipsOnRuneBoundary(t *testing.T) {
	raw := strings.Repeat("a", 63) + strings.Repeat("€", 4)
	err := &ParseError{Context: "entry", Key: "memo", Raw: raw, Pos: -1, Err: ErrSyntax}

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg), "message split a rune: %q", msg)
	assert.Contains(t, msg, strings.Repeat("a", 63)+"...")
	assert.NotContains(t, msg, "€")
}
