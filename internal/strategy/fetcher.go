package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// DefaultUserAgent identifies the scraper to career sites
const DefaultUserAgent = "Mozilla/5.0 (compatible; career-weaver/0.3; +https://github.com/alvmarrod/career-weaver)"

const maxBodyBytes = 8 << 20

// FetcherConfig configures the shared HTTP client
type FetcherConfig struct {
	UserAgent      string
	RequestsPerSec float64 // per host
	Burst          int
	RetryInterval  time.Duration
}

// Page is a fetched document
type Page struct {
	URL    *url.URL // after redirects
	Status int
	Body   []byte
}

// Fetcher performs polite HTTP GETs: one rate limiter per host and
// exponential backoff on transient failures. Safe for concurrent use.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a fetcher; a nil client uses a default one
func NewFetcher(client *http.Client, cfg FetcherConfig) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	return &Fetcher{
		client:   client,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// UserAgent returns the configured User-Agent header
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// Client returns the underlying HTTP client
func (f *Fetcher) Client() *http.Client {
	return f.client
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.RequestsPerSec), f.cfg.Burst)
		f.limiters[host] = l
	}
	return l
}

// Wait blocks until the host of rawURL may be requested again
func (f *Fetcher) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	return f.limiter(strings.ToLower(u.Hostname())).Wait(ctx)
}

// Get fetches rawURL, retrying transient failures up to retries times
func (f *Fetcher) Get(ctx context.Context, rawURL string, retries int) (*Page, error) {
	var page *Page
	err := f.Retry(ctx, rawURL, retries, func() error {
		p, err := f.get(ctx, rawURL)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Retry runs op with exponential backoff until it succeeds, returns a
// permanent error, or has been retried retries times
func (f *Fetcher) Retry(ctx context.Context, target string, retries int, op func() error) error {
	return retry(ctx, target, retries, f.cfg.RetryInterval, op)
}

func retry(ctx context.Context, target string, retries int, interval time.Duration, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = interval
	exp.MaxElapsedTime = 0
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)

	notify := func(err error, wait time.Duration) {
		logrus.Debugf("Retrying %s in %v: %v", target, wait, err)
	}
	return backoff.RetryNotify(op, b, notify)
}

// GetJSON fetches rawURL and decodes its JSON body into v
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, retries int, v any) error {
	page, err := f.Get(ctx, rawURL, retries)
	if err != nil {
		return err
	}
	if err := decodeJSON(page.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", rawURL, err)
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.Wait(ctx, rawURL); err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(&scrape.NavigationError{URL: rawURL, Err: err})
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8,fr;q=0.6,de;q=0.6,es;q=0.6")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}

	if err := statusError(rawURL, resp.StatusCode, body); err != nil {
		return nil, err
	}

	return &Page{URL: resp.Request.URL, Status: resp.StatusCode, Body: body}, nil
}

// statusError maps a non-2xx response to a taxonomy error. Throttling and
// server errors stay retryable; everything else is permanent.
func statusError(rawURL string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &scrape.StepError{Kind: scrape.KindBlocked, Err: fmt.Errorf("%w: %s answered 429", scrape.ErrBlocked, rawURL)}
	case status == http.StatusForbidden && LooksBlocked(body):
		return backoff.Permanent(fmt.Errorf("%w: %s answered a challenge page", scrape.ErrBlocked, rawURL))
	case status >= 500:
		return &scrape.NavigationError{URL: rawURL, Err: fmt.Errorf("status %d", status)}
	default:
		return backoff.Permanent(&scrape.NavigationError{URL: rawURL, Err: fmt.Errorf("status %d", status)})
	}
}

var challengeMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("challenge-platform"),
	[]byte("g-recaptcha"),
	[]byte("h-captcha"),
	[]byte("px-captcha"),
	[]byte("_incapsula_resource"),
}

// LooksBlocked reports whether a body is an anti-bot challenge page
func LooksBlocked(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range challengeMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func decodeJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
