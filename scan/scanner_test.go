package scan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pevans/asinscan/config"
	"github.com/pevans/asinscan/extract"
	"github.com/pevans/asinscan/fetcher"
	"github.com/pevans/asinscan/metrics"
	"github.com/pevans/asinscan/pattern"
	"github.com/pevans/asinscan/storage"
)

const iphonePage = `<html><head><title>Apple iPhone 14 Case</title></head>
<body><p>Sturdy and slim.</p></body></html>`

type testEnv struct {
	store   *storage.Store
	scanner *Scanner
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs

	mu    sync.Mutex
	pages map[string]string
	slept []time.Duration
}

// Test helper: a scanner wired to a temp SQLite store and a fake product site
func createTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	env := &testEnv{pages: map[string]string{}}

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "should open store")
	t.Cleanup(func() { store.Close() })
	env.store = store

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		page, ok := env.pages[strings.TrimPrefix(r.URL.Path, "/dp/")]
		env.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	t.Cleanup(server.Close)

	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Fetch.BaseURL = server.URL

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	env.logs = logs
	env.metrics = metrics.New(prometheus.NewRegistry())

	loader := pattern.NewLoader(store, logger)
	loader.OnInvalid = func(*pattern.InvalidPatternError) { env.metrics.InvalidPatterns.Inc() }

	env.scanner = NewScanner(Deps{
		Fetcher:   fetcher.New(cfg.Fetch, logger),
		Extractor: extract.New(cfg.Extract, logger),
		Patterns:  loader,
		Store:     store,
		Metrics:   env.metrics,
	}, cfg.Scan, logger)
	env.scanner.sleep = func(ctx context.Context, d time.Duration) error {
		env.mu.Lock()
		env.slept = append(env.slept, d)
		env.mu.Unlock()
		return ctx.Err()
	}

	return env
}

func (e *testEnv) addPage(identifier, markup string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages[identifier] = markup
}

func (e *testEnv) addPattern(t *testing.T, name, source string, flags any) *storage.Pattern {
	t.Helper()
	p, err := e.store.CreatePattern(context.Background(), storage.NewPattern{
		Name:   name,
		Source: source,
		Flags:  flags,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) scanLogs(t *testing.T) []storage.ScanLogEntry {
	t.Helper()
	logs, err := e.store.ListScanLogs(context.Background(), storage.ScanLogFilter{})
	require.NoError(t, err)
	return logs
}

func (e *testEnv) matches(t *testing.T) []storage.MatchRecord {
	t.Helper()
	recs, err := e.store.ListMatchRecords(context.Background(), storage.MatchFilter{})
	require.NoError(t, err)
	return recs
}

// TestRunOne_RecordsEveryOccurrence verifies matches from title, text and markup are persisted
func TestRunOne_RecordsEveryOccurrence(t *testing.T) {
	env := createTestEnv(t, nil)
	ctx := context.Background()
	env.addPage("B0TEST0001", iphonePage)
	p := env.addPattern(t, "iphone", "iphone", "IGNORECASE")

	count, err := env.scanner.RunOne(ctx, "B0TEST0001")
	require.NoError(t, err)

	// title once, joined text twice (title plus full page text), markup once
	assert.Equal(t, 4, count)

	recs := env.matches(t)
	require.Len(t, recs, 4)
	bySource := map[string]int{}
	for _, rec := range recs {
		bySource[rec.Source]++
		assert.Equal(t, "iPhone", rec.MatchedText)
		assert.Nil(t, rec.MatchedGroup)
		assert.Equal(t, p.ID, rec.PatternID)
		assert.True(t, strings.HasSuffix(rec.SourceURL, "/dp/B0TEST0001"))
	}
	assert.Equal(t, map[string]int{"title": 1, "text": 2, "markup": 1}, bySource)

	target, err := env.store.GetTarget(ctx, "B0TEST0001")
	require.NoError(t, err, "unknown identifier with matches becomes a target")
	assert.NotNil(t, target.LastCheckedAt)

	logs := env.scanLogs(t)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, target.ID, *logs[0].TargetID)
	assert.Equal(t, 4, logs[0].MatchesCount)
	assert.Nil(t, logs[0].Note)
	assert.NotEmpty(t, logs[0].RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ScansTotal.WithLabelValues(metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MatchesTotal.WithLabelValues("title")))
}

// TestRunOne_HrefGroup verifies a capture group from a section link
func TestRunOne_HrefGroup(t *testing.T) {
	env := createTestEnv(t, nil)
	env.addPage("B0TEST0002", `<html><body><div id="productDescription">
<a href="https://aff.example/xyz123?tag=abc-21">deal</a></div></body></html>`)
	env.addPattern(t, "affiliate", `https://aff\.example/(\w+)`, nil)

	count, err := env.scanner.RunOne(context.Background(), "B0TEST0002")
	require.NoError(t, err)

	// the raw markup contains the URL too
	assert.Equal(t, 2, count)

	var href *storage.MatchRecord
	for _, rec := range env.matches(t) {
		rec := rec
		if rec.Source == "href" {
			href = &rec
		} else {
			assert.Nil(t, rec.SourceHref, "only href records carry the link")
		}
	}
	require.NotNil(t, href, "href occurrence is recorded")
	assert.Equal(t, "https://aff.example/xyz123", href.MatchedText)
	require.NotNil(t, href.MatchedGroup)
	assert.Equal(t, "xyz123", *href.MatchedGroup)
	require.NotNil(t, href.SourceHref)
	assert.Equal(t, "https://aff.example/xyz123?tag=abc-21", *href.SourceHref, "the whole link is kept")
}

// TestRunOne_NoMatches verifies a clean page still writes exactly one scan log row
func TestRunOne_NoMatches(t *testing.T) {
	env := createTestEnv(t, nil)
	ctx := context.Background()
	target, err := env.store.CreateTarget(ctx, "B0TEST0003", "")
	require.NoError(t, err)
	env.addPage("B0TEST0003", iphonePage)
	env.addPattern(t, "android", "android", nil)
	env.addPattern(t, "galaxy", "galaxy", "I")

	count, err := env.scanner.RunOne(ctx, "B0TEST0003")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, env.matches(t))

	logs := env.scanLogs(t)
	require.Len(t, logs, 1)
	assert.Zero(t, logs[0].MatchesCount)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, target.ID, *logs[0].TargetID)

	got, err := env.store.GetTarget(ctx, "B0TEST0003")
	require.NoError(t, err)
	assert.NotNil(t, got.LastCheckedAt, "last checked is updated without matches")
}

// TestRunOne_UnknownIdentifierNoMatches verifies no target is created when nothing matched
func TestRunOne_UnknownIdentifierNoMatches(t *testing.T) {
	env := createTestEnv(t, nil)
	ctx := context.Background()
	env.addPage("B0TEST0004", iphonePage)
	env.addPattern(t, "android", "android", nil)

	count, err := env.scanner.RunOne(ctx, "B0TEST0004")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = env.store.GetTarget(ctx, "B0TEST0004")
	assert.ErrorIs(t, err, storage.ErrTargetNotFound)

	logs := env.scanLogs(t)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].TargetID)
}

// TestRunOne_FetchTimeout verifies a failed fetch leaves storage untouched
func TestRunOne_FetchTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Fetch.Timeout = 50 * time.Millisecond
	env := createTestEnv(t, cfg)
	ctx := context.Background()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	cfg.Fetch.BaseURL = slow.URL
	env.scanner.deps.Fetcher = fetcher.New(cfg.Fetch, zap.NewNop())

	_, err := env.store.CreateTarget(ctx, "B0TEST0005", "")
	require.NoError(t, err)
	env.addPattern(t, "iphone", "iphone", nil)

	count, err := env.scanner.RunOne(ctx, "B0TEST0005")
	require.Error(t, err)
	assert.Zero(t, count)

	var fetchErr *fetcher.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "B0TEST0005", fetchErr.Identifier)

	assert.Empty(t, env.scanLogs(t), "no scan log row on fetch failure")
	assert.Empty(t, env.matches(t))

	target, err := env.store.GetTarget(ctx, "B0TEST0005")
	require.NoError(t, err)
	assert.Nil(t, target.LastCheckedAt, "last checked is not touched on fetch failure")

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ScansTotal.WithLabelValues(metrics.OutcomeFetchError)))
}

// TestRunOne_RescanIsAppendOnly verifies earlier records survive a rescan
func TestRunOne_RescanIsAppendOnly(t *testing.T) {
	env := createTestEnv(t, nil)
	ctx := context.Background()
	env.addPage("B0TEST0006", iphonePage)
	env.addPattern(t, "case", "Case", nil)

	first, err := env.scanner.RunOne(ctx, "B0TEST0006")
	require.NoError(t, err)
	before := env.matches(t)

	target, err := env.store.GetTarget(ctx, "B0TEST0006")
	require.NoError(t, err)
	firstChecked := *target.LastCheckedAt

	time.Sleep(5 * time.Millisecond)
	second, err := env.scanner.RunOne(ctx, "B0TEST0006")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	after := env.matches(t)
	require.Len(t, after, first+second)

	// ListMatchRecords is newest first; the oldest rows are unchanged
	assert.Equal(t, before, after[second:])

	target, err = env.store.GetTarget(ctx, "B0TEST0006")
	require.NoError(t, err)
	assert.True(t, target.LastCheckedAt.After(firstChecked), "last checked is overwritten")

	logs := env.scanLogs(t)
	require.Len(t, logs, 2)
	assert.NotEqual(t, logs[0].RunID, logs[1].RunID, "each RunOne gets its own run id")
}

// TestRunOne_InvalidPatternSkipped verifies a bad regex does not stop the scan
func TestRunOne_InvalidPatternSkipped(t *testing.T) {
	env := createTestEnv(t, nil)
	env.addPage("B0TEST0007", iphonePage)
	env.addPattern(t, "apple", "Apple", nil)
	env.addPattern(t, "broken", "([a-z]", nil)
	env.addPattern(t, "slim", "slim", nil)

	count, err := env.scanner.RunOne(context.Background(), "B0TEST0007")
	require.NoError(t, err)

	// Apple: title, text twice, markup. slim: text, markup.
	assert.Equal(t, 6, count)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.InvalidPatterns))
}

type failingLogStore struct {
	*storage.Store
}

func (s failingLogStore) WriteScanLog(context.Context, storage.ScanLogEntry) (int64, error) {
	return 0, errors.New("disk I/O error")
}

// TestRunOne_ScanLogFailureNotFatal verifies a lost scan log row does not fail the attempt
func TestRunOne_ScanLogFailureNotFatal(t *testing.T) {
	env := createTestEnv(t, nil)
	env.scanner.deps.Store = failingLogStore{env.store}
	env.addPage("B0TEST0008", iphonePage)
	env.addPattern(t, "slim", "slim", nil)

	count, err := env.scanner.RunOne(context.Background(), "B0TEST0008")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, env.matches(t), 2)

	entries := env.logs.FilterMessage("Failed to write scan log").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "B0TEST0008", entries[0].ContextMap()["identifier"])
}

type failingMatchStore struct {
	*storage.Store
	allow int
}

func (s *failingMatchStore) RecordMatch(ctx context.Context, rec storage.MatchRecord) (int64, error) {
	if s.allow == 0 {
		return 0, errors.New("database is locked")
	}
	s.allow--
	return s.Store.RecordMatch(ctx, rec)
}

// TestRunOne_RecordFailureKeepsCountConsistent verifies the log counts only inserted rows
func TestRunOne_RecordFailureKeepsCountConsistent(t *testing.T) {
	env := createTestEnv(t, nil)
	env.scanner.deps.Store = &failingMatchStore{Store: env.store, allow: 1}
	env.addPage("B0TEST0009", iphonePage)
	env.addPattern(t, "iphone", "iphone", "I")

	count, err := env.scanner.RunOne(context.Background(), "B0TEST0009")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 1, count)

	assert.Len(t, env.matches(t), 1)
	logs := env.scanLogs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].MatchesCount)
	require.NotNil(t, logs[0].Note)
	assert.Contains(t, *logs[0].Note, "aborted after 1 of 4 matches")
}

// TestRunAll_Limit verifies only the lowest-id active targets are scanned
func TestRunAll_Limit(t *testing.T) {
	env := createTestEnv(t, nil)
	ctx := context.Background()
	env.addPattern(t, "zz", "zz", nil)

	var ids []int64
	for i := 1; i <= 10; i++ {
		identifier := fmt.Sprintf("B0LIMIT%03d", i)
		target, err := env.store.CreateTarget(ctx, identifier, "")
		require.NoError(t, err)
		ids = append(ids, target.ID)

		// target i holds i occurrences in its paragraph
		env.addPage(identifier, "<p>"+strings.Repeat("zz ", i)+"</p>")
	}
	require.NoError(t, env.store.SetTargetActive(ctx, ids[1], false))

	total, err := env.scanner.RunAll(ctx, 3)
	require.NoError(t, err)

	// targets 1, 3 and 4: each occurrence is in the text and in the markup
	assert.Equal(t, 2*(1+3+4), total)
	assert.Len(t, env.slept, 3, "pause after every target")

	logs := env.scanLogs(t)
	require.Len(t, logs, 3)
	var scanned []int64
	for _, entry := range logs {
		require.NotNil(t, entry.TargetID)
		scanned = append(scanned, *entry.TargetID)
		assert.Equal(t, logs[0].RunID, entry.RunID, "one run id per batch")
	}
	assert.ElementsMatch(t, []int64{ids[0], ids[2], ids[3]}, scanned)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.BatchRuns))
}

// TestRunAll_SkipsFailedTargets verifies a failing target is logged and left out of the total
func TestRunAll_SkipsFailedTargets(t *testing.T) {
	env := createTestEnv(t, nil)
	ctx := context.Background()
	env.addPattern(t, "slim", "slim", nil)

	for _, identifier := range []string{"B0SKIP0001", "B0SKIP0002", "B0SKIP0003"} {
		_, err := env.store.CreateTarget(ctx, identifier, "")
		require.NoError(t, err)
	}
	env.addPage("B0SKIP0001", iphonePage)
	env.addPage("B0SKIP0003", iphonePage)

	total, err := env.scanner.RunAll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, env.scanLogs(t), 2)
	assert.Len(t, env.slept, 3)

	failed := env.logs.FilterMessage("Scan failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "B0SKIP0002", failed[0].ContextMap()["identifier"])
}

// TestRunAll_Cancelled verifies cancellation stops the batch between targets
func TestRunAll_Cancelled(t *testing.T) {
	env := createTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.addPattern(t, "slim", "slim", nil)

	for _, identifier := range []string{"B0STOP0001", "B0STOP0002"} {
		_, err := env.store.CreateTarget(ctx, identifier, "")
		require.NoError(t, err)
		env.addPage(identifier, iphonePage)
	}

	env.scanner.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	total, err := env.scanner.RunAll(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, total)
	assert.Len(t, env.scanLogs(t), 1)
	assert.Zero(t, testutil.ToFloat64(env.metrics.BatchRuns))
}

func TestRunAll_NoTargets(t *testing.T) {
	env := createTestEnv(t, nil)

	total, err := env.scanner.RunAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, env.slept)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}

// TestRunOne_LookaheadPattern verifies lookaround patterns are matched rather than skipped as invalid
func TestRunOne_LookaheadPattern(t *testing.T) {
	env := createTestEnv(t, nil)
	env.addPage("B0TEST0020", iphonePage)
	env.addPattern(t, "iphone-14", `iPhone(?= 14)`, nil)

	count, err := env.scanner.RunOne(context.Background(), "B0TEST0020")
	require.NoError(t, err)

	// title, title line of the text, full page text, markup
	assert.Equal(t, 4, count)
	assert.Zero(t, testutil.ToFloat64(env.metrics.InvalidPatterns))
	for _, rec := range env.matches(t) {
		assert.Equal(t, "iPhone", rec.MatchedText)
	}
}

// TestRunOne_LargePageSearchedWhole verifies text past the first kilobytes is still matched
func TestRunOne_LargePageSearchedWhole(t *testing.T) {
	env := createTestEnv(t, nil)
	filler := strings.Repeat("<p>Lorem ipsum dolor sit amet.</p>\n", 80)
	env.addPage("B0TEST0021", "<html><body>"+filler+"<p>affiliate-tag</p></body></html>")
	env.addPattern(t, "tag", "affiliate-tag", nil)

	count, err := env.scanner.RunOne(context.Background(), "B0TEST0021")
	require.NoError(t, err)

	// page text and markup
	assert.Equal(t, 2, count)
}

// TestRunOne_OversizedPageFails verifies a page over the body limit is a fetch failure, not a clean scan
func TestRunOne_OversizedPageFails(t *testing.T) {
	cfg := config.Default()
	cfg.Fetch.MaxBodyBytes = 1024
	env := createTestEnv(t, cfg)
	filler := strings.Repeat("<p>Lorem ipsum dolor sit amet.</p>\n", 80)
	env.addPage("B0TEST0022", "<html><body>"+filler+"<p>affiliate-tag</p></body></html>")
	env.addPattern(t, "tag", "affiliate-tag", nil)

	count, err := env.scanner.RunOne(context.Background(), "B0TEST0022")
	require.Error(t, err)
	assert.Zero(t, count)

	var fetchErr *fetcher.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, fetcher.ErrBodyTooLarge)

	assert.Empty(t, env.scanLogs(t), "no scan log row claims a clean attempt")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ScansTotal.WithLabelValues(metrics.OutcomeFetchError)))
}
