// Package engine drives one scrape call: cache lookup, the fast-track
// shortcut, planning and bounded sequential strategy execution, learning,
// and graceful degradation when every strategy fails.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/memory"
	"github.com/alvmarrod/career-weaver/internal/planner"
	"github.com/alvmarrod/career-weaver/internal/scrape"
	"github.com/alvmarrod/career-weaver/internal/validator"
)

// Cache is the persistent result cache. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, url string) (*scrape.Result, error)
	Put(ctx context.Context, url string, r *scrape.Result) error
}

// Detector recognises applicant-tracking platforms
type Detector interface {
	Detect(url, html string) (string, bool)
	RecommendedStrategy(platform string) (string, bool)
}

// Recorder receives per-step telemetry; it must not block
type Recorder interface {
	RecordStart(domain, strategy string)
	RecordSuccess(domain, strategy string, elapsed time.Duration, jobCount int)
	RecordError(domain, strategy, kind string, elapsed time.Duration, err error)
}

// SessionSink receives the session record of every finished call
type SessionSink interface {
	RecordSession(ctx context.Context, sess *scrape.Session) error
}

// Config holds the engine limits
type Config struct {
	GlobalTimeout         time.Duration
	MaxAttempts           int
	RetryDelay            time.Duration
	MaxRetryDelay         time.Duration
	FastTrackMinRate      float64
	FastTrackMinSuccesses int
	ReprofileAfter        time.Duration
	SnapshotLength        int
}

// DefaultConfig returns the standard limits
func DefaultConfig() Config {
	return Config{
		GlobalTimeout:         60 * time.Second,
		MaxAttempts:           1,
		RetryDelay:            time.Second,
		MaxRetryDelay:         3 * time.Second,
		FastTrackMinRate:      70,
		FastTrackMinSuccesses: 2,
		ReprofileAfter:        168 * time.Hour,
		SnapshotLength:        500,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.GlobalTimeout <= 0 {
		c.GlobalTimeout = def.GlobalTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	if c.FastTrackMinRate <= 0 {
		c.FastTrackMinRate = def.FastTrackMinRate
	}
	if c.FastTrackMinSuccesses <= 0 {
		c.FastTrackMinSuccesses = def.FastTrackMinSuccesses
	}
	if c.ReprofileAfter <= 0 {
		c.ReprofileAfter = def.ReprofileAfter
	}
	if c.SnapshotLength <= 0 {
		c.SnapshotLength = def.SnapshotLength
	}
}

// Engine is safe for concurrent use; calls for different domains run
// independently and share only the profile store and collaborators
type Engine struct {
	cfg        Config
	strategies []scrape.Strategy
	byName     map[string]scrape.Strategy
	profiles   memory.Store
	planner    *planner.Planner
	validator  *validator.Validator

	cache    Cache
	detector Detector
	recorder Recorder
	sessions SessionSink

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithCache sets the result cache
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithDetector sets the platform detector
func WithDetector(d Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// WithRecorder sets the step telemetry recorder
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithSessionSink sets the session telemetry sink
func WithSessionSink(s SessionSink) Option {
	return func(e *Engine) { e.sessions = s }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleep overrides the inter-attempt wait
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New creates an engine over a strategy pool
func New(cfg Config, strategies []scrape.Strategy, profiles memory.Store, p *planner.Planner, v *validator.Validator, opts ...Option) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		cfg:       cfg,
		byName:    make(map[string]scrape.Strategy, len(strategies)),
		profiles:  profiles,
		planner:   p,
		validator: v,
		now:       time.Now,
		sleep:     sleepContext,
		newID:     uuid.NewString,
	}
	for _, s := range strategies {
		if s == nil {
			continue
		}
		e.strategies = append(e.strategies, s)
		e.byName[s.Info().Name] = s
	}
	scrape.SortByPriority(e.strategies)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Strategies lists the pool in priority order
func (e *Engine) Strategies() []scrape.Info {
	out := make([]scrape.Info, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, s.Info())
	}
	return out
}

// Close releases every strategy's resources
func (e *Engine) Close() error {
	var errs []error
	for _, s := range e.strategies {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Info().Name, err))
		}
	}
	return errors.Join(errs...)
}

// call carries the per-request state through the state machine
type call struct {
	url    string
	domain string
	opts   scrape.Options
	log    *logrus.Entry
}

// outcome is what the execution phase hands back to the driver
type outcome struct {
	result   *scrape.Result
	strategy scrape.Info
	platform string
	reason   string
	err      error
}

// Scrape runs the full state machine for one URL. It always returns a
// result; failures are reported through its status fields.
func (e *Engine) Scrape(ctx context.Context, rawURL string, opts scrape.Options) (res *scrape.Result) {
	sess := &scrape.Session{
		ID:        e.newID(),
		URL:       rawURL,
		StartedAt: e.now(),
		Language:  opts.Language,
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Recovered panic while scraping %s: %v", rawURL, r)
			res = e.failed(rawURL, scrape.ReasonInternalError, scrape.RetryLater)
		}
		e.finishSession(ctx, sess, res)
	}()

	domain, err := scrape.ExtractDomain(rawURL)
	if err != nil {
		logrus.Warnf("Rejecting %q: %v", rawURL, err)
		return e.failed(rawURL, scrape.ReasonInvalidURL, scrape.RetryFixInput)
	}
	sess.Domain = domain

	c := &call{
		url:    rawURL,
		domain: domain,
		opts:   opts,
		log:    logrus.WithFields(logrus.Fields{"domain": domain, "url": rawURL}),
	}

	if cached := e.lookupCache(ctx, c); cached != nil {
		sess.FromCache = true
		return cached
	}

	timeout := e.cfg.GlobalTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &outcome{err: fmt.Errorf("execution panic: %v", r)}
			}
		}()
		done <- e.execute(runCtx, c)
	}()

	var out *outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		// A result that raced the deadline still wins
		select {
		case out = <-done:
		default:
			return e.interrupted(ctx, c, timeout)
		}
	}

	switch {
	case out.result != nil:
		sess.Strategy = out.strategy.Name
		sess.Headless = out.strategy.Headless
		res, cached := e.succeed(ctx, c, out)
		sess.CacheCreated = cached
		return res
	case out.err != nil && runCtx.Err() != nil:
		return e.interrupted(ctx, c, timeout)
	case out.err != nil:
		c.log.Errorf("Execution aborted: %v", out.err)
		return e.failed(rawURL, scrape.ReasonInternalError, scrape.RetryLater)
	default:
		res := e.degrade(ctx, c, out.platform, out.reason)
		sess.CacheCreated = e.cache != nil && res.IsMinimumCache
		return res
	}
}

// lookupCache returns an annotated cached result, or nil on a miss.
// Cache errors are treated as misses.
func (e *Engine) lookupCache(ctx context.Context, c *call) *scrape.Result {
	if e.cache == nil {
		return nil
	}

	cached, err := e.cache.Get(ctx, c.url)
	if err != nil {
		c.log.Warnf("Cache lookup failed, scraping instead: %v", err)
		return nil
	}
	if cached == nil {
		return nil
	}

	r := cached.Clone()
	r.FromCache = true
	if r.IsMinimumCache {
		r.Status = scrape.StatusDegraded
		r.StatusReason = scrape.ReasonCachedMinimum
		r.ShouldRetry = true
		r.RetryStrategy = scrape.RetryBackground
		c.log.Info("Cache hit (minimum quality)")
		return r
	}

	r.Status = scrape.StatusOK
	r.StatusReason = ""
	r.ShouldRetry = false
	r.RetryStrategy = ""
	c.log.Debug("Cache hit")
	return r
}

// succeed annotates the winning result and persists it. A failed write
// only downgrades to returning the in-memory result.
func (e *Engine) succeed(ctx context.Context, c *call, out *outcome) (*scrape.Result, bool) {
	r := out.result.Clone()

	// Flag every link the validator counted, so the result, the session
	// and the metrics report the same job links
	for i := range r.Links {
		if !r.Links[i].IsJobPosting && e.validator.IsJobLink(r.Links[i], r.Language) {
			r.Links[i].IsJobPosting = true
		}
	}

	if r.URL == "" {
		r.URL = c.url
	}
	if r.Method == "" {
		r.Method = out.strategy.Name
	}
	if r.Platform == "" {
		r.Platform = out.platform
	}
	if r.Language == "" {
		r.Language = c.opts.Language
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = e.now()
	}
	r.IsMinimumCache = false
	r.FromCache = false
	r.Status = scrape.StatusOK
	r.StatusReason = ""
	r.ShouldRetry = false
	r.RetryStrategy = ""

	cached := e.cache != nil
	if err := e.persist(ctx, c.url, r); err != nil {
		c.log.Warnf("Returning uncached result: %v", err)
		cached = false
	}

	c.log.WithField("strategy", out.strategy.Name).Infof("Scrape succeeded: %d links", len(r.Links))
	return r, cached
}

// interrupted builds the outcome for a call whose deadline (or caller)
// cancelled the execution phase. Nothing is persisted.
func (e *Engine) interrupted(ctx context.Context, c *call, timeout time.Duration) *scrape.Result {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.log.Warn("Scrape cancelled by caller")
		return e.failed(c.url, scrape.ReasonCancelled, scrape.RetryLater)
	}

	c.log.Warnf("Scrape exceeded global deadline of %v", timeout)
	r := minimalResult(c.url, c.domain, e.now())
	r.IsMinimumCache = false
	r.Language = c.opts.Language
	r.Status = scrape.StatusFailed
	r.StatusReason = scrape.ReasonGlobalTimeout
	r.ShouldRetry = true
	r.RetryStrategy = scrape.RetryLongerLimit
	return r
}

func (e *Engine) finishSession(ctx context.Context, sess *scrape.Session, res *scrape.Result) {
	sess.EndedAt = e.now()
	if res != nil {
		sess.Status = res.Status
		sess.Success = res.Status == scrape.StatusOK
		sess.Platform = res.Platform
		if res.Language != "" {
			sess.Language = res.Language
		}
		sess.JobCount = len(res.JobLinks())
		sess.TextSnapshot = truncate(res.Text, e.cfg.SnapshotLength)
		if sess.Strategy == "" && sess.FromCache {
			sess.Strategy = res.Method
		}
	}

	if e.sessions == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("Session sink panicked: %v", r)
		}
	}()
	if err := e.sessions.RecordSession(context.WithoutCancel(ctx), sess); err != nil {
		logrus.Warnf("Failed to record session %s: %v", sess.ID, err)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
