package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"

	"github.com/pevans/asinscan/storage"
)

// InvalidPatternError is returned when a stored pattern does not compile.
type InvalidPatternError struct {
	ID     int64
	Name   string
	Source string
	Err    error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %d (%s): %v", e.ID, e.Name, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// Compiled is an active pattern ready for matching.
type Compiled struct {
	ID    int64
	Name  string
	Flags Flag
	Regex *regexp2.Regexp
}

// MatchTimeout bounds a single match call on a compiled pattern. The engine
// backtracks, so nested quantifiers can otherwise run for minutes on one page.
const MatchTimeout = 5 * time.Second

// Compile compiles source with the backtracking syntax stored patterns are
// written in: lookahead, lookbehind, backreferences and atomic groups are
// accepted. Flags become engine options.
func Compile(source string, flags Flag) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(source, flags.options())
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = MatchTimeout
	return re, nil
}

// Store is the pattern source the loader reads from.
type Store interface {
	ListPatterns(ctx context.Context, activeOnly bool) ([]storage.Pattern, error)
}

// Loader loads and compiles the active patterns.
type Loader struct {
	store  Store
	logger *zap.Logger
	// OnInvalid, when set, is called for every pattern that fails to compile.
	OnInvalid func(*InvalidPatternError)
}

// NewLoader creates a loader over store.
func NewLoader(store Store, logger *zap.Logger) *Loader {
	return &Loader{store: store, logger: logger}
}

// LoadActive returns every active pattern that compiles, in id order.
// Patterns that fail to compile are logged and left out; only a failure to
// read the pattern list is returned as an error.
func (l *Loader) LoadActive(ctx context.Context) ([]Compiled, error) {
	patterns, err := l.store.ListPatterns(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	compiled := make([]Compiled, 0, len(patterns))
	for _, p := range patterns {
		flags := ParseFlags(p.Flags)

		re, err := Compile(p.Source, flags)
		if err != nil {
			invalid := &InvalidPatternError{ID: p.ID, Name: p.Name, Source: p.Source, Err: err}
			l.logger.Error("Invalid regex, skipping pattern",
				zap.Int64("pattern_id", p.ID),
				zap.String("name", p.Name),
				zap.Error(invalid))
			if l.OnInvalid != nil {
				l.OnInvalid(invalid)
			}
			continue
		}

		l.logger.Debug("Compiled pattern",
			zap.Int64("pattern_id", p.ID),
			zap.String("name", p.Name),
			zap.String("pattern", p.Source),
			zap.Stringer("flags", flags))

		compiled = append(compiled, Compiled{ID: p.ID, Name: p.Name, Flags: flags, Regex: re})
	}

	l.logger.Debug("Loaded active patterns",
		zap.Int("compiled", len(compiled)),
		zap.Int("skipped", len(patterns)-len(compiled)))

	return compiled, nil
}
