package params

import (
	"fmt"
	"strings"
)

// Pair is a single field=value element of the grammar.
type Pair struct {
	Key   string
	Value string
}

// sectionSpan returns the offsets of the first balanced brace pair at or after start.
// open is the index of '{' and end the index of its matching '}'.
func sectionSpan(text string, start int) (open, end int, err error) {
	if start < 0 || start > len(text) {
		return 0, 0, &ParseError{Context: "bracket section", Raw: text, Pos: start, Err: fmt.Errorf("start out of range")}
	}

	rel := strings.IndexByte(text[start:], '{')
	if rel < 0 {
		return 0, 0, &ParseError{Context: "bracket section", Raw: text, Pos: start, Err: ErrNoSection}
	}
	open = start + rel

	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return open, i, nil
			}
		}
	}
	return 0, 0, &ParseError{Context: "bracket section", Raw: text, Pos: open, Err: ErrUnbalanced}
}

// ExtractBracketSection returns the content of the first balanced {...} pair
// found at or after start, without the enclosing braces.
// Unbalanced input is an error; partial text is never returned.
func ExtractBracketSection(text string, start int) (string, error) {
	open, end, err := sectionSpan(text, start)
	if err != nil {
		return "", err
	}
	return text[open+1 : end], nil
}

// ExtractAllTopLevelBracketSections returns every top-level {...} section in
// order, skipping over nested braces.
//
//	ExtractAllTopLevelBracketSections("{ hello {world} my } first {program}")
//	// [" hello {world} my ", "program"]
func ExtractAllTopLevelBracketSections(text string) ([]string, error) {
	var sections []string
	depth, open := 0, -1

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if depth == 0 {
				open = i
			}
			depth++
		case '}':
			depth--
			if depth < 0 {
				return nil, &ParseError{Context: "bracket sections", Raw: text, Pos: i, Err: ErrUnbalanced}
			}
			if depth == 0 {
				sections = append(sections, text[open+1:i])
			}
		}
	}

	if depth != 0 {
		return nil, &ParseError{Context: "bracket sections", Raw: text, Pos: open, Err: ErrUnbalanced}
	}
	return sections, nil
}

// ExtractFieldValuePairs splits text into its top-level field=value pairs.
// A value that contains a bracket section is read bracket-aware, so it may
// itself contain ';' or '='. The trailing ';' of the last pair is optional.
func ExtractFieldValuePairs(text string) ([]Pair, error) {
	var pairs []Pair
	i := 0

	for i < len(text) {
		// Skip separators and whitespace between pairs.
		for i < len(text) && (text[i] == ';' || isSpace(text[i])) {
			i++
		}
		if i >= len(text) {
			break
		}

		keyStart := i
		for i < len(text) && text[i] != '=' {
			switch text[i] {
			case ';', '{', '}':
				return nil, &ParseError{Context: "field", Raw: text, Pos: i, Err: fmt.Errorf("%w: expected '=' after %q", ErrSyntax, strings.TrimSpace(text[keyStart:i]))}
			}
			i++
		}
		if i >= len(text) {
			return nil, &ParseError{Context: "field", Raw: text, Pos: keyStart, Err: fmt.Errorf("%w: missing '='", ErrSyntax)}
		}

		key := strings.TrimSpace(text[keyStart:i])
		if key == "" {
			return nil, &ParseError{Context: "field", Raw: text, Pos: keyStart, Err: fmt.Errorf("%w: empty key", ErrSyntax)}
		}
		i++ // '='

		valueStart := i
	value:
		for i < len(text) {
			switch text[i] {
			case ';':
				break value
			case '{':
				_, end, err := sectionSpan(text, i)
				if err != nil {
					return nil, err
				}
				i = end + 1
			case '}':
				return nil, &ParseError{Context: "value", Key: key, Raw: text, Pos: i, Err: ErrUnbalanced}
			default:
				i++
			}
		}

		pairs = append(pairs, Pair{Key: key, Value: text[valueStart:i]})
		if i < len(text) {
			i++ // ';'
		}
	}

	return pairs, nil
}

// Parse reads text into an ordered Map. Later duplicates overwrite the value
// but keep the position of the first occurrence.
func Parse(text string) (*Map, error) {
	pairs, err := ExtractFieldValuePairs(text)
	if err != nil {
		return nil, err
	}
	return FromPairs(pairs...), nil
}

// DecodeList extracts the first bracket section of text and splits it on ','.
// Only a single nesting level is supported: commas inside nested braces are
// split like any other comma. Items are trimmed; an empty section is an empty list.
func DecodeList(text string) ([]string, error) {
	section, err := ExtractBracketSection(text, 0)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(section) == "" {
		return []string{}, nil
	}

	items := strings.Split(section, ",")
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return items, nil
}

// EncodeList is the inverse of DecodeList.
func EncodeList(items []string) string {
	return "{" + strings.Join(items, ",") + "}"
}

// DecodeSections extracts the first bracket section of text and returns each
// top-level section inside it, parsed as a Map.
//
//	{{key=a;},{key=b;}} -> [key=a;] [key=b;]
func DecodeSections(text string) ([]*Map, error) {
	section, err := ExtractBracketSection(text, 0)
	if err != nil {
		return nil, err
	}
	bodies, err := ExtractAllTopLevelBracketSections(section)
	if err != nil {
		return nil, err
	}

	maps := make([]*Map, 0, len(bodies))
	for _, body := range bodies {
		m, err := Parse(body)
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	return maps, nil
}

// EncodeSections is the inverse of DecodeSections.
func EncodeSections(maps []*Map) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, m := range maps {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('{')
		b.WriteString(m.String())
		b.WriteByte('}')
	}
	b.WriteByte('}')
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
