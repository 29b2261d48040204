// Package fetcher downloads product pages by identifier.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pevans/asinscan/config"
)

// ErrBodyTooLarge is wrapped by the FetchError for a page larger than the
// configured maximum.
var ErrBodyTooLarge = errors.New("body exceeds limit")

// FetchError is returned for every failed fetch: transport errors, timeouts,
// non-2xx responses and unreadable bodies.
type FetchError struct {
	Identifier string
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s): HTTP %d: %v", e.Identifier, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.Identifier, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Page is the raw result of a successful fetch.
type Page struct {
	URL    string // canonical URL the markup came from
	Markup string
}

// Fetcher performs single, un-retried GET requests for product pages.
type Fetcher struct {
	cfg    config.FetchConfig
	client *http.Client
	logger *zap.Logger
}

// New creates a fetcher. The client timeout comes from cfg.Timeout.
func New(cfg config.FetchConfig, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// URLFor builds the canonical product URL for identifier.
func (f *Fetcher) URLFor(identifier string) string {
	return strings.TrimRight(f.cfg.BaseURL, "/") + "/dp/" + url.PathEscape(identifier)
}

// Fetch retrieves the markup for identifier.
func (f *Fetcher) Fetch(ctx context.Context, identifier string) (*Page, error) {
	pageURL := f.URLFor(identifier)
	fail := func(status int, err error) (*Page, error) {
		return nil, &FetchError{Identifier: identifier, URL: pageURL, StatusCode: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fail(0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)

	f.logger.Debug("Fetching product page",
		zap.String("url", pageURL),
		zap.String("user_agent", f.cfg.UserAgent))

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fail(0, fmt.Errorf("failed to fetch URL: %w", err))
	}
	defer resp.Body.Close()

	f.logger.Debug("Fetched product page",
		zap.String("url", pageURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("content_length", resp.ContentLength))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	// One byte past the limit tells an oversized page from one that fits
	// exactly. Markup is never truncated.
	body := io.Reader(resp.Body)
	if f.cfg.MaxBodyBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}
	if f.cfg.MaxBodyBytes > 0 && int64(len(data)) > f.cfg.MaxBodyBytes {
		return fail(resp.StatusCode, fmt.Errorf("%w of %d bytes", ErrBodyTooLarge, f.cfg.MaxBodyBytes))
	}

	return &Page{URL: pageURL, Markup: string(data)}, nil
}
