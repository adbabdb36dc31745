package params

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Common errors. They are wrapped by ParseError so callers can use errors.Is.
var (
	ErrUnbalanced = errors.New("unbalanced brackets")
	ErrNoSection  = errors.New("no bracket section")
	ErrMissingKey = errors.New("missing key")
	ErrSyntax     = errors.New("syntax error")
)

// ParseError reports malformed grammar or typed content.
// It carries enough of the raw input to diagnose the failure.
type ParseError struct {
	Context string // what was being parsed, e.g. "bracket section" or "bool"
	Key     string // offending key for typed accessors, empty otherwise
	Raw     string // raw text (or value) that failed
	Pos     int    // byte offset into Raw, -1 when not meaningful
	Err     error
}

func (e *ParseError) Error() string {
	msg := "parse " + e.Context
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	if e.Pos >= 0 {
		msg += fmt.Sprintf(" at %d", e.Pos)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + fmt.Sprintf(" (raw %q)", clip(e.Raw, 64))
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// clip shortens s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
