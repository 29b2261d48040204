package pattern

import (
	"testing"

	"github.com/dlclark/regexp2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Flag
	}{
		{"nil", nil, 0},
		{"empty string", "", 0},
		{"zero", 0, 0},
		{"int bitmask", 5, CaseInsensitive | DotMatchesNewline},
		{"int64 bitmask", int64(2), Multiline},
		{"numeric string", "3", CaseInsensitive | Multiline},
		{"numeric bytes", []byte("4"), DotMatchesNewline},
		{"unknown bits masked", 1 | 8 | 64, CaseInsensitive},
		{"negative", -1, 0},
		{"single token", "IGNORECASE", CaseInsensitive},
		{"canonical tokens", "CASE_INSENSITIVE|DOT_MATCHES_NEWLINE", CaseInsensitive | DotMatchesNewline},
		{"comma separated", "IGNORECASE,MULTILINE", CaseInsensitive | Multiline},
		{"whitespace separated", "i  s", CaseInsensitive | DotMatchesNewline},
		{"mixed separators", " re.IGNORECASE | DOTALL,M ", CaseInsensitive | DotMatchesNewline | Multiline},
		{"lower case", "ignorecase", CaseInsensitive},
		{"unknown token ignored", "IGNORECASE|VERBOSE", CaseInsensitive},
		{"only unknown", "LOCALE", 0},
		{"no ungreedy mode", "UNGREEDY|U", 0},
		{"unsupported type", struct{}{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFlags(tt.input))
		})
	}
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "", Flag(0).String())
	assert.Equal(t, "CASE_INSENSITIVE|DOT_MATCHES_NEWLINE", (CaseInsensitive | DotMatchesNewline).String())

	// String output parses back to the same mask
	all := CaseInsensitive | Multiline | DotMatchesNewline
	assert.Equal(t, all, ParseFlags(all.String()))
}

// Test helper: first match of re in s, or "" when there is none
func findString(t *testing.T, re *regexp2.Regexp, s string) string {
	t.Helper()
	m, err := re.FindStringMatch(s)
	require.NoError(t, err)
	if m == nil {
		return ""
	}
	return m.String()
}

func TestCompile_AppliesFlags(t *testing.T) {
	re, err := Compile("iphone", CaseInsensitive)
	require.NoError(t, err)
	assert.Equal(t, "iPhone", findString(t, re, "Apple iPhone 14"))

	re, err = Compile("a.b", 0)
	require.NoError(t, err)
	assert.Equal(t, "", findString(t, re, "a\nb"))

	re, err = Compile("a.b", DotMatchesNewline)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", findString(t, re, "a\nb"))

	re, err = Compile("^b$", Multiline)
	require.NoError(t, err)
	assert.Equal(t, "b", findString(t, re, "a\nb\nc"))

	re, err = Compile("^b$", 0)
	require.NoError(t, err)
	assert.Equal(t, "", findString(t, re, "a\nb\nc"))
}

// TestCompile_Lookaround verifies lookahead, lookbehind and backreferences compile and match
func TestCompile_Lookaround(t *testing.T) {
	re, err := Compile(`iPhone(?= 14)`, 0)
	require.NoError(t, err)
	assert.Equal(t, "iPhone", findString(t, re, "Apple iPhone 14 Case"))
	assert.Equal(t, "", findString(t, re, "Apple iPhone 15 Case"))

	re, err = Compile(`(?<!no )deal`, 0)
	require.NoError(t, err)
	assert.Equal(t, "", findString(t, re, "no deal"))
	assert.Equal(t, "deal", findString(t, re, "great deal"))

	re, err = Compile(`(\w)\1`, 0)
	require.NoError(t, err)
	assert.Equal(t, "ll", findString(t, re, "Hello"))

	assert.Equal(t, MatchTimeout, re.MatchTimeout)
}

func TestCompile_InvalidSyntax(t *testing.T) {
	_, err := Compile("(unclosed", 0)
	assert.Error(t, err)

	_, err = Compile("([a-z]", 0)
	assert.Error(t, err)
}
