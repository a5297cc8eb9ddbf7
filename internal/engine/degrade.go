package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// MinimumMethod marks results synthesised when every strategy failed
const MinimumMethod = "minimum-cache"

// minimalResult is the placeholder for a page nothing could extract:
// generic text naming the domain and one non-job link back to the page
func minimalResult(rawURL, domain string, now time.Time) *scrape.Result {
	return &scrape.Result{
		URL:   rawURL,
		Title: fmt.Sprintf("Careers at %s", domain),
		Text:  fmt.Sprintf("Career opportunities at %s. Job listings could not be extracted automatically; visit the career page for current openings.", domain),
		Links: []scrape.Link{
			{URL: rawURL, Text: "Career page", IsJobPosting: false},
		},
		Method:         MinimumMethod,
		Timestamp:      now,
		IsMinimumCache: true,
	}
}

// degrade persists and returns the minimal result after exhaustion. If the
// write fails there is no content worth returning, so the call reports a
// bare failure instead.
func (e *Engine) degrade(ctx context.Context, c *call, platform, reason string) *scrape.Result {
	if reason == "" {
		reason = scrape.ReasonAllStepsFailed
	}

	r := minimalResult(c.url, c.domain, e.now())
	r.Platform = platform
	r.Language = c.opts.Language
	r.Status = scrape.StatusDegraded
	r.StatusReason = reason
	r.ShouldRetry = true
	r.RetryStrategy = scrape.RetryBackground

	if err := e.persist(ctx, c.url, r); err != nil {
		c.log.Errorf("Failed to persist minimum cache: %v", err)
		return e.failed(c.url, scrape.ReasonPersistenceError, scrape.RetryLater)
	}

	c.log.Warnf("All strategies failed (%s); returning minimum cache", reason)
	return r
}

// persist writes r to the cache; a missing cache is not an error
func (e *Engine) persist(ctx context.Context, url string, r *scrape.Result) (err error) {
	if e.cache == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: cache panicked: %v", scrape.ErrPersistence, rec)
		}
	}()
	if err := e.cache.Put(context.WithoutCancel(ctx), url, r); err != nil {
		return fmt.Errorf("%w: %v", scrape.ErrPersistence, err)
	}
	return nil
}

// failed builds a bare failure status carrying only a retry hint
func (e *Engine) failed(url, reason, retry string) *scrape.Result {
	return &scrape.Result{
		URL:           url,
		Timestamp:     e.now(),
		Status:        scrape.StatusFailed,
		StatusReason:  reason,
		ShouldRetry:   retry != scrape.RetryFixInput,
		RetryStrategy: retry,
	}
}
