// Package crawler runs scrape calls over a list of career pages with a
// concurrency limit and pacing between batches.
package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// Scraper is the single-URL entry point, satisfied by the engine
type Scraper interface {
	Scrape(ctx context.Context, url string, opts scrape.Options) *scrape.Result
}

// Config holds the batch limits
type Config struct {
	Concurrency          int
	BatchDelay           time.Duration
	MaxSubdomainsPerRoot int
	Options              scrape.Options
}

// Outcome is the result of one URL, or the reason it was skipped
type Outcome struct {
	URL     string
	Result  *scrape.Result
	Skipped string
}

// Progress counts jobs handled so far
type Progress struct {
	Queued   int
	Done     int
	OK       int
	Degraded int
	Failed   int
}

// Skip reasons reported by Enqueue
const (
	SkipInvalid   = "invalid_url"
	SkipExcluded  = "excluded_domain"
	SkipDuplicate = "duplicate"
	SkipSubdomain = "subdomain_limit"
)

// Crawler orchestrates a batch of scrape calls
type Crawler struct {
	cfg      Config
	scraper  Scraper
	queue    *Queue
	limiter  *SubdomainLimiter
	stopChan chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	progress Progress
	onResult func(Outcome, Progress)
}

// NewCrawler creates a batch crawler; onResult, if set, is called after
// every finished job, possibly from several goroutines at once
func NewCrawler(cfg Config, s Scraper, onResult func(Outcome, Progress)) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Crawler{
		cfg:      cfg,
		scraper:  s,
		queue:    NewQueue(),
		limiter:  NewSubdomainLimiter(cfg.MaxSubdomainsPerRoot),
		stopChan: make(chan struct{}),
		onResult: onResult,
	}
}

// Enqueue adds a URL to the batch. It returns "" when queued, otherwise
// the skip reason.
func (c *Crawler) Enqueue(rawURL string) string {
	domain, err := scrape.ExtractDomain(rawURL)
	if err != nil {
		logrus.Warnf("Skipping %q: %v", rawURL, err)
		return SkipInvalid
	}
	if IsExcluded(domain) {
		logrus.Infof("Skipping %s: excluded domain", rawURL)
		return SkipExcluded
	}
	if !c.limiter.Add(domain) {
		logrus.Infof("Skipping %s: too many hosts under %s", rawURL, scrape.ExtractRootDomain(domain))
		return SkipSubdomain
	}
	if !c.queue.Push(Job{URL: rawURL, Domain: domain}) {
		return SkipDuplicate
	}

	c.mu.Lock()
	c.progress.Queued++
	c.mu.Unlock()
	return ""
}

// EnqueueAll queues urls and reports the ones skipped
func (c *Crawler) EnqueueAll(urls []string) []Outcome {
	var skipped []Outcome
	for _, u := range urls {
		if reason := c.Enqueue(u); reason != "" {
			skipped = append(skipped, Outcome{URL: u, Skipped: reason})
		}
	}
	return skipped
}

// Run scrapes every queued URL, at most Concurrency at a time, pausing
// BatchDelay between batches. It returns when the queue is drained, the
// context is done or Stop is called.
func (c *Crawler) Run(ctx context.Context) []Outcome {
	logrus.Infof("Starting batch of %d URLs (concurrency %d)", c.queue.Size(), c.cfg.Concurrency)

	var (
		outcomes []Outcome
		outMu    sync.Mutex
		batchNo  int
	)

	for {
		if c.stopped(ctx) {
			break
		}

		batch := c.queue.PopN(c.cfg.Concurrency)
		if len(batch) == 0 {
			break
		}
		batchNo++
		if batchNo > 1 && !c.pause(ctx) {
			c.queue.Requeue(batch)
			break
		}

		var wg sync.WaitGroup
		for _, job := range batch {
			wg.Add(1)
			go func(job Job) {
				defer wg.Done()
				out := c.process(ctx, job)
				outMu.Lock()
				outcomes = append(outcomes, out)
				outMu.Unlock()
			}(job)
		}
		wg.Wait()

		logrus.Infof("Batch %d done: %s", batchNo, c.LogProgress())
	}

	if pending := c.queue.Pending(); len(pending) > 0 {
		logrus.Warnf("Batch interrupted with %d URLs not scraped", len(pending))
	}
	return outcomes
}

func (c *Crawler) process(ctx context.Context, job Job) Outcome {
	res := c.scraper.Scrape(ctx, job.URL, c.cfg.Options)
	out := Outcome{URL: job.URL, Result: res}

	c.mu.Lock()
	c.progress.Done++
	switch {
	case res == nil:
		c.progress.Failed++
	case res.Status == scrape.StatusOK:
		c.progress.OK++
	case res.Status == scrape.StatusDegraded:
		c.progress.Degraded++
	default:
		c.progress.Failed++
	}
	snapshot := c.progress
	c.mu.Unlock()

	if c.onResult != nil {
		c.onResult(out, snapshot)
	}
	return out
}

// pause waits BatchDelay; false means the batch was stopped meanwhile
func (c *Crawler) pause(ctx context.Context) bool {
	if c.cfg.BatchDelay <= 0 {
		return true
	}
	t := time.NewTimer(c.cfg.BatchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stopChan:
		return false
	case <-t.C:
		return true
	}
}

func (c *Crawler) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

// Stop ends the batch after the in-flight scrapes (safe to call multiple times)
func (c *Crawler) Stop() {
	c.stopOnce.Do(func() {
		logrus.Info("Stopping batch...")
		c.queue.Stop()
		close(c.stopChan)
	})
}

// Pending returns the URLs not scraped yet
func (c *Crawler) Pending() []string {
	jobs := c.queue.Pending()
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.URL
	}
	return out
}

// GetProgress returns a snapshot of the counters
func (c *Crawler) GetProgress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// LogProgress returns a formatted progress line
func (c *Crawler) LogProgress() string {
	p := c.GetProgress()
	return fmt.Sprintf("Done: %d/%d (%d ok, %d degraded, %d failed)", p.Done, p.Queued, p.OK, p.Degraded, p.Failed)
}
