package pattern

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pevans/asinscan/storage"
)

type fakeStore struct {
	patterns []storage.Pattern
	err      error
	gotOnly  bool
}

func (f *fakeStore) ListPatterns(_ context.Context, activeOnly bool) ([]storage.Pattern, error) {
	f.gotOnly = activeOnly
	return f.patterns, f.err
}

// TestLoadActive_SkipsInvalid verifies one bad regex among three leaves the other two
func TestLoadActive_SkipsInvalid(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	store := &fakeStore{patterns: []storage.Pattern{
		{ID: 1, Name: "iphone", Source: "iphone", Flags: "IGNORECASE", Active: true},
		{ID: 2, Name: "broken", Source: "([a-z]", Active: true},
		{ID: 3, Name: "affiliate", Source: `https://aff\.example/(\w+)`, Flags: int64(0), Active: true},
	}}

	var invalid []*InvalidPatternError
	loader := NewLoader(store, zap.New(core))
	loader.OnInvalid = func(e *InvalidPatternError) { invalid = append(invalid, e) }

	compiled, err := loader.LoadActive(context.Background())
	require.NoError(t, err)
	assert.True(t, store.gotOnly, "only active patterns are requested")

	require.Len(t, compiled, 2)
	assert.Equal(t, int64(1), compiled[0].ID)
	assert.Equal(t, CaseInsensitive, compiled[0].Flags)
	assert.Equal(t, int64(3), compiled[1].ID)

	require.Len(t, invalid, 1)
	assert.Equal(t, int64(2), invalid[0].ID)
	assert.Contains(t, invalid[0].Error(), "broken")

	require.Equal(t, 1, logs.Len(), "the invalid pattern is logged")
	assert.Equal(t, int64(2), logs.All()[0].ContextMap()["pattern_id"])
}

func TestLoadActive_StoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("no such table: patterns")}

	_, err := NewLoader(store, zap.NewNop()).LoadActive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load patterns")
}

func TestLoadActive_Empty(t *testing.T) {
	compiled, err := NewLoader(&fakeStore{}, zap.NewNop()).LoadActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, compiled)
}

// TestLoadActive_BacktrackingSyntax verifies lookaround and backreference patterns are loaded, not reported invalid
func TestLoadActive_BacktrackingSyntax(t *testing.T) {
	store := &fakeStore{patterns: []storage.Pattern{
		{ID: 1, Name: "iphone-14", Source: `iPhone(?= 14)`, Active: true},
		{ID: 2, Name: "doubled", Source: `(\w)\1`, Flags: "IGNORECASE", Active: true},
	}}

	var invalid []*InvalidPatternError
	loader := NewLoader(store, zap.NewNop())
	loader.OnInvalid = func(e *InvalidPatternError) { invalid = append(invalid, e) }

	compiled, err := loader.LoadActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, invalid)
	require.Len(t, compiled, 2)

	m, err := compiled[0].Regex.FindStringMatch("Apple iPhone 14 Case")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "iPhone", m.String())
}
