// Package pattern normalizes stored pattern flags and compiles the active
// patterns into matchers.
package pattern

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
)

// Flag is the canonical pattern flag bitmask. Bit values belong to asinscan
// and do not mirror any regex engine's constants.
type Flag uint32

const (
	CaseInsensitive Flag = 1 << iota
	Multiline
	DotMatchesNewline

	allFlags = CaseInsensitive | Multiline | DotMatchesNewline
)

// flagTokens is the single lookup table from symbolic token to bit. Keys are
// upper case.
var flagTokens = map[string]Flag{
	"CASE_INSENSITIVE":    CaseInsensitive,
	"IGNORECASE":          CaseInsensitive,
	"I":                   CaseInsensitive,
	"MULTILINE":           Multiline,
	"M":                   Multiline,
	"DOT_MATCHES_NEWLINE": DotMatchesNewline,
	"DOTALL":              DotMatchesNewline,
	"S":                   DotMatchesNewline,
}

// engineOptions maps each bit to its regexp2 option.
var engineOptions = map[Flag]regexp2.RegexOptions{
	CaseInsensitive:   regexp2.IgnoreCase,
	Multiline:         regexp2.Multiline,
	DotMatchesNewline: regexp2.Singleline,
}

// ParseFlags normalizes a stored flags value: nil, an integer bitmask, a
// numeric string, or symbolic tokens separated by "|", "," or whitespace.
// Unknown tokens and bits outside the canonical set are ignored.
func ParseFlags(v any) Flag {
	switch val := v.(type) {
	case nil:
		return 0
	case Flag:
		return val & allFlags
	case int:
		return fromInt(int64(val))
	case int32:
		return fromInt(int64(val))
	case int64:
		return fromInt(val)
	case uint32:
		return Flag(val) & allFlags
	case float64:
		if val != math.Trunc(val) {
			return 0
		}
		return fromInt(int64(val))
	case []byte:
		return ParseFlagString(string(val))
	case string:
		return ParseFlagString(val)
	default:
		return 0
	}
}

// ParseFlagString parses the string forms of a flags value.
func ParseFlagString(s string) Flag {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromInt(n)
	}

	var flags Flag
	for _, token := range strings.FieldsFunc(s, isTokenSeparator) {
		token = strings.TrimPrefix(strings.ToUpper(token), "RE.")
		flags |= flagTokens[token]
	}
	return flags
}

func isTokenSeparator(r rune) bool {
	return r == '|' || r == ',' || unicode.IsSpace(r)
}

func fromInt(n int64) Flag {
	if n < 0 {
		return 0
	}
	return Flag(n) & allFlags
}

// Has reports whether every bit of other is set.
func (f Flag) Has(other Flag) bool {
	return f&other == other
}

// String renders the flags as canonical tokens joined by "|".
func (f Flag) String() string {
	var names []string
	if f.Has(CaseInsensitive) {
		names = append(names, "CASE_INSENSITIVE")
	}
	if f.Has(Multiline) {
		names = append(names, "MULTILINE")
	}
	if f.Has(DotMatchesNewline) {
		names = append(names, "DOT_MATCHES_NEWLINE")
	}
	return strings.Join(names, "|")
}

// options returns the regexp2 options for f.
func (f Flag) options() regexp2.RegexOptions {
	opts := regexp2.None
	for flag, opt := range engineOptions {
		if f.Has(flag) {
			opts |= opt
		}
	}
	return opts
}
