// Package scan drives fetch, extraction, matching and persistence for one
// target or for every active target.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pevans/asinscan/config"
	"github.com/pevans/asinscan/extract"
	"github.com/pevans/asinscan/fetcher"
	"github.com/pevans/asinscan/match"
	"github.com/pevans/asinscan/metrics"
	"github.com/pevans/asinscan/pattern"
	"github.com/pevans/asinscan/storage"
)

// Fetcher retrieves the markup of one product page.
type Fetcher interface {
	Fetch(ctx context.Context, identifier string) (*fetcher.Page, error)
}

// PatternLoader returns the compiled active patterns.
type PatternLoader interface {
	LoadActive(ctx context.Context) ([]pattern.Compiled, error)
}

// Store is the persistence the scanner needs.
type Store interface {
	ListActiveTargets(ctx context.Context, limit int) ([]storage.Target, error)
	LookupTargetID(ctx context.Context, identifier string) (int64, bool, error)
	ResolveOrCreateTarget(ctx context.Context, identifier string) (int64, error)
	RecordMatch(ctx context.Context, rec storage.MatchRecord) (int64, error)
	TouchLastChecked(ctx context.Context, id int64, at time.Time) error
	WriteScanLog(ctx context.Context, entry storage.ScanLogEntry) (int64, error)
}

// Deps are the collaborators of a Scanner. Metrics is optional.
type Deps struct {
	Fetcher   Fetcher
	Extractor *extract.Extractor
	Patterns  PatternLoader
	Store     Store
	Metrics   *metrics.Metrics
}

// Scanner runs scan attempts. It keeps no per-run state, so a synchronous
// RunOne may overlap a background batch.
type Scanner struct {
	deps     Deps
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewScanner creates a scanner. cfg.RequestInterval is the pause after
// every target of a batch run.
func NewScanner(deps Deps, cfg config.ScanConfig, logger *zap.Logger) *Scanner {
	return &Scanner{
		deps:     deps,
		interval: cfg.RequestInterval,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// finding is an occurrence tied to the pattern that produced it.
type finding struct {
	patternID int64
	occ       match.Occurrence
}

// RunOne scans a single identifier and returns the number of match records
// written. A failed fetch returns a *fetcher.FetchError and persists
// nothing.
func (s *Scanner) RunOne(ctx context.Context, identifier string) (int, error) {
	return s.runOne(ctx, uuid.NewString(), identifier)
}

func (s *Scanner) runOne(ctx context.Context, runID, identifier string) (int, error) {
	log := s.logger.With(zap.String("identifier", identifier), zap.String("run_id", runID))
	log.Debug("Start scan")

	start := s.now()
	page, err := s.deps.Fetcher.Fetch(ctx, identifier)
	s.observeFetch(s.now().Sub(start))
	if err != nil {
		s.countScan(metrics.OutcomeFetchError)
		return 0, err
	}

	content, err := s.deps.Extractor.Extract(page.Markup)
	if err != nil {
		s.countScan(metrics.OutcomeExtractError)
		return 0, fmt.Errorf("failed to extract %s: %w", identifier, err)
	}

	compiled, err := s.deps.Patterns.LoadActive(ctx)
	if err != nil {
		s.countScan(metrics.OutcomeStoreError)
		return 0, err
	}

	var findings []finding
	for _, p := range compiled {
		occurrences, err := match.FindMatches(p.Regex, content)
		if err != nil {
			// Partial results depend on timing, so none are kept
			log.Warn("Pattern search failed, skipping pattern",
				zap.Int64("pattern_id", p.ID),
				zap.String("name", p.Name),
				zap.Error(err))
			continue
		}
		for _, occ := range occurrences {
			findings = append(findings, finding{patternID: p.ID, occ: occ})
		}

		if ce := log.Check(zap.DebugLevel, "Pattern evaluated"); ce != nil {
			counts := match.CountBySource(occurrences)
			ce.Write(
				zap.Int64("pattern_id", p.ID),
				zap.String("name", p.Name),
				zap.Int("title", counts[match.SourceTitle]),
				zap.Int("text", counts[match.SourceText]),
				zap.Int("markup", counts[match.SourceMarkup]),
				zap.Int("hrefs", counts[match.SourceHref]),
				zap.Int("total", len(occurrences)))
		}
	}

	return s.persist(ctx, log, runID, identifier, page.URL, findings)
}

// persist writes the findings of one attempt, updates last-checked and
// writes exactly one scan log row whose count equals the rows inserted.
func (s *Scanner) persist(
	ctx context.Context,
	log *zap.Logger,
	runID, identifier, sourceURL string,
	findings []finding,
) (int, error) {
	var (
		targetID *int64
		failure  error
	)

	// Unknown identifiers only become targets once they have a match
	if len(findings) > 0 {
		id, err := s.deps.Store.ResolveOrCreateTarget(ctx, identifier)
		if err != nil {
			failure = fmt.Errorf("failed to resolve target %s: %w", identifier, err)
		} else {
			targetID = &id
		}
	} else {
		id, found, err := s.deps.Store.LookupTargetID(ctx, identifier)
		if err != nil {
			log.Warn("Failed to look up target", zap.Error(err))
		} else if found {
			targetID = &id
		}
	}

	inserted := 0
	if failure == nil {
		for _, f := range findings {
			var href *string
			if f.occ.Source == match.SourceHref {
				href = &f.occ.Href
			}
			_, err := s.deps.Store.RecordMatch(ctx, storage.MatchRecord{
				TargetID:     *targetID,
				PatternID:    f.patternID,
				MatchedText:  f.occ.Text,
				MatchedGroup: f.occ.Group,
				Source:       string(f.occ.Source),
				SourceURL:    sourceURL,
				SourceHref:   href,
			})
			if err != nil {
				failure = fmt.Errorf("failed to record match for %s: %w", identifier, err)
				break
			}
			inserted++
			s.countMatch(f.occ.Source)
		}
	}

	if failure == nil && targetID != nil {
		if err := s.deps.Store.TouchLastChecked(ctx, *targetID, s.now()); err != nil {
			log.Error("Failed to update last checked", zap.Error(err))
		}
	}

	var note *string
	if failure != nil {
		msg := fmt.Sprintf("aborted after %d of %d matches: %v", inserted, len(findings), failure)
		note = &msg
	}

	// A lost scan log row is logged, never fatal
	if _, err := s.deps.Store.WriteScanLog(ctx, storage.ScanLogEntry{
		TargetID:     targetID,
		RunID:        runID,
		MatchesCount: inserted,
		Note:         note,
	}); err != nil {
		log.Error("Failed to write scan log", zap.Error(err))
	}

	if failure != nil {
		s.countScan(metrics.OutcomeStoreError)
		return inserted, failure
	}

	s.countScan(metrics.OutcomeOK)
	if inserted == 0 {
		log.Info("No matches found")
	} else {
		log.Info("Scanned", zap.Int("matches", inserted))
	}

	return inserted, nil
}

// RunAll scans every active target in ascending id order, at most limit of
// them when limit > 0, pausing after each one. Failures of single targets
// are logged and left out of the total. Cancelling ctx stops the run
// between targets.
func (s *Scanner) RunAll(ctx context.Context, limit int) (int, error) {
	return s.runAll(ctx, uuid.NewString(), limit)
}

func (s *Scanner) runAll(ctx context.Context, runID string, limit int) (int, error) {
	log := s.logger.With(zap.String("run_id", runID))

	targets, err := s.deps.Store.ListActiveTargets(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list active targets: %w", err)
	}

	log.Info("Starting batch run", zap.Int("targets", len(targets)), zap.Int("limit", limit))

	total := 0
	for _, target := range targets {
		matched, err := s.runOne(ctx, runID, target.Identifier)
		if err != nil {
			log.Error("Scan failed",
				zap.String("identifier", target.Identifier),
				zap.Error(err))
		} else {
			total += matched
		}

		if err := s.sleep(ctx, s.interval); err != nil {
			log.Warn("Batch run cancelled", zap.Int("total_matches", total))
			return total, err
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.BatchRuns.Inc()
	}
	log.Info("Batch run finished", zap.Int("total_matches", total))

	return total, nil
}

func (s *Scanner) countScan(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ScansTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Scanner) countMatch(source match.Source) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.MatchesTotal.WithLabelValues(string(source)).Inc()
	}
}

func (s *Scanner) observeFetch(d time.Duration) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.FetchDuration.Observe(d.Seconds())
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
