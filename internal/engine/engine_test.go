package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/career-weaver/internal/dictionary"
	"github.com/alvmarrod/career-weaver/internal/memory"
	"github.com/alvmarrod/career-weaver/internal/planner"
	"github.com/alvmarrod/career-weaver/internal/platform"
	"github.com/alvmarrod/career-weaver/internal/scrape"
	"github.com/alvmarrod/career-weaver/internal/validator"
)

const careersURL = "https://example.com/careers"

type fakeStrategy struct {
	info scrape.Info

	mu       sync.Mutex
	calls    int
	seenOpts []scrape.Options
	scrapeFn func(ctx context.Context, opts scrape.Options) (*scrape.Result, error)
}

func newFake(name string, priority int, fn func(ctx context.Context, opts scrape.Options) (*scrape.Result, error)) *fakeStrategy {
	return &fakeStrategy{
		info:     scrape.Info{Name: name, Priority: priority, DefaultTimeout: 5 * time.Second, Generic: true},
		scrapeFn: fn,
	}
}

func (f *fakeStrategy) Info() scrape.Info                        { return f.info }
func (f *fakeStrategy) IsApplicable(string, scrape.Options) bool { return true }
func (f *fakeStrategy) IsResultValid(r *scrape.Result) bool      { return r != nil }
func (f *fakeStrategy) Close() error                             { return nil }

func (f *fakeStrategy) Scrape(ctx context.Context, _ string, opts scrape.Options, _ scrape.StepConfig) (*scrape.Result, error) {
	f.mu.Lock()
	f.calls++
	f.seenOpts = append(f.seenOpts, opts)
	f.mu.Unlock()
	return f.scrapeFn(ctx, opts)
}

func (f *fakeStrategy) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func nothing(context.Context, scrape.Options) (*scrape.Result, error) { return nil, nil }

func exampleListing(context.Context, scrape.Options) (*scrape.Result, error) {
	return &scrape.Result{
		Text: "Careers at Example - Software Engineer, Paris",
		Links: []scrape.Link{
			{URL: "https://example.com/jobs/1", Text: "Software Engineer"},
		},
	}, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*scrape.Result
	putErr  error
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*scrape.Result)}
}

func (c *memoryCache) Get(_ context.Context, url string) (*scrape.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[url].Clone(), nil
}

func (c *memoryCache) Put(_ context.Context, url string, r *scrape.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	c.entries[url] = r.Clone()
	return nil
}

type countingRecorder struct {
	mu        sync.Mutex
	starts    int
	successes int
	kinds     []string
}

func (r *countingRecorder) RecordStart(string, string) {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordSuccess(string, string, time.Duration, int) {
	r.mu.Lock()
	r.successes++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordError(_, _, kind string, _ time.Duration, _ error) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
}

type panickingRecorder struct{}

func (panickingRecorder) RecordStart(string, string)                                { panic("metrics down") }
func (panickingRecorder) RecordSuccess(string, string, time.Duration, int)          { panic("metrics down") }
func (panickingRecorder) RecordError(string, string, string, time.Duration, error) { panic("metrics down") }

type sessionList struct {
	mu       sync.Mutex
	sessions []*scrape.Session
}

func (s *sessionList) RecordSession(_ context.Context, sess *scrape.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sess
	s.sessions = append(s.sessions, &c)
	return nil
}

func (s *sessionList) Last() *scrape.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return nil
	}
	return s.sessions[len(s.sessions)-1]
}

type fixture struct {
	engine   *Engine
	profiles *memory.ProfileStore
	cache    *memoryCache
	recorder *countingRecorder
	sessions *sessionList
	sleeps   []time.Duration
}

func newFixture(t *testing.T, cfg Config, strategies ...scrape.Strategy) *fixture {
	t.Helper()

	dict, err := dictionary.Default()
	require.NoError(t, err)
	catalog, err := platform.Default()
	require.NoError(t, err)

	f := &fixture{
		profiles: memory.NewProfileStore(100),
		cache:    newMemoryCache(),
		recorder: &countingRecorder{},
		sessions: &sessionList{},
	}
	f.engine = New(cfg, strategies, f.profiles,
		planner.New(catalog, planner.DefaultPlannerConfig()),
		validator.New(dict, 0),
		WithCache(f.cache),
		WithDetector(catalog),
		WithRecorder(f.recorder),
		WithSessionSink(f.sessions),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return ctx.Err()
		}),
	)
	return f
}

func TestEndToEndSuccess(t *testing.T) {
	first := newFake("alpha", 1, exampleListing)
	second := newFake("beta", 2, nothing)
	f := newFixture(t, Config{}, second, first)

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{Language: "en"})

	require.NotNil(t, res)
	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.False(t, res.ShouldRetry)
	assert.Equal(t, "alpha", res.Method)
	assert.Equal(t, careersURL, res.URL)
	assert.Equal(t, "Careers at Example - Software Engineer, Paris", res.Text)
	require.Len(t, res.JobLinks(), 1, "job URL pattern marks the link as a posting")
	assert.Equal(t, "https://example.com/jobs/1", res.JobLinks()[0].URL)
	assert.Equal(t, 1, first.Calls())
	assert.Equal(t, 0, second.Calls(), "first valid result short-circuits the plan")

	p, ok := f.profiles.Get("example.com")
	require.True(t, ok)
	require.NotNil(t, p.SuccessfulStrategies["alpha"])
	assert.Equal(t, 1, p.SuccessfulStrategies["alpha"].SuccessCount)
	assert.Equal(t, "alpha", p.LastSuccessfulStrategy)

	cached, _ := f.cache.Get(context.Background(), careersURL)
	require.NotNil(t, cached)
	assert.False(t, cached.IsMinimumCache)

	sess := f.sessions.Last()
	require.NotNil(t, sess)
	assert.True(t, sess.Success)
	assert.Equal(t, "alpha", sess.Strategy)
	assert.Equal(t, "example.com", sess.Domain)
	assert.True(t, sess.CacheCreated)
	assert.Equal(t, 1, sess.JobCount)
	assert.NotEmpty(t, sess.ID)

	assert.Equal(t, 1, f.recorder.starts)
	assert.Equal(t, 1, f.recorder.successes)
}

func TestExhaustionPersistsMinimumCache(t *testing.T) {
	a := newFake("alpha", 1, nothing)
	b := newFake("beta", 2, func(context.Context, scrape.Options) (*scrape.Result, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	f := newFixture(t, Config{}, a, b)

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusDegraded, res.Status)
	assert.Equal(t, scrape.ReasonAllStepsFailed, res.StatusReason)
	assert.True(t, res.ShouldRetry)
	assert.Equal(t, scrape.RetryBackground, res.RetryStrategy)
	assert.True(t, res.IsMinimumCache)
	require.Len(t, res.Links, 1)
	assert.False(t, res.Links[0].IsJobPosting)
	assert.Equal(t, careersURL, res.Links[0].URL)
	assert.Contains(t, res.Title, "example.com")

	cached, _ := f.cache.Get(context.Background(), careersURL)
	require.NotNil(t, cached)
	assert.True(t, cached.IsMinimumCache)

	p, _ := f.profiles.Get("example.com")
	assert.Equal(t, 2, p.FailureCount)
	assert.Equal(t, 1, p.FailedStrategies["beta"].ErrorTypes[scrape.KindNetwork])
	assert.Equal(t, []string{scrape.KindNoResult, scrape.KindNetwork}, f.recorder.kinds)
	assert.True(t, f.sessions.Last().CacheCreated)
}

func TestDegradationIsIdempotent(t *testing.T) {
	a := newFake("alpha", 1, nothing)
	f := newFixture(t, Config{}, a)

	first := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})
	second := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	for _, res := range []*scrape.Result{first, second} {
		require.NotNil(t, res)
		assert.Contains(t, []scrape.Status{scrape.StatusDegraded, scrape.StatusFailed}, res.Status)
		assert.NotEmpty(t, res.RetryStrategy)
	}
	assert.True(t, second.FromCache)
	assert.Equal(t, scrape.ReasonCachedMinimum, second.StatusReason)
	assert.Equal(t, 1, a.Calls(), "second call is served from the minimum cache")
}

func TestPersistenceFailureOnDegradation(t *testing.T) {
	f := newFixture(t, Config{}, newFake("alpha", 1, nothing))
	f.cache.putErr = errors.New("disk full")

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusFailed, res.Status)
	assert.Equal(t, scrape.ReasonPersistenceError, res.StatusReason)
	assert.True(t, res.ShouldRetry)
	assert.Equal(t, scrape.RetryLater, res.RetryStrategy)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Links)
	assert.False(t, f.sessions.Last().CacheCreated)
}

func TestPersistenceFailureOnSuccessReturnsResult(t *testing.T) {
	f := newFixture(t, Config{}, newFake("alpha", 1, exampleListing))
	f.cache.putErr = errors.New("disk full")

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.NotEmpty(t, res.Text)
	assert.False(t, f.sessions.Last().CacheCreated)
}

func TestRetryAdjustsContext(t *testing.T) {
	a := newFake("alpha", 1, nothing)
	f := newFixture(t, Config{MaxAttempts: 3, RetryDelay: time.Second, MaxRetryDelay: 1500 * time.Millisecond}, a)

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusDegraded, res.Status)
	require.Equal(t, 3, a.Calls())
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond}, f.sleeps)

	first, second, last := a.seenOpts[0], a.seenOpts[1], a.seenOpts[2]
	assert.False(t, first.Aggressive)
	assert.True(t, second.Aggressive)
	assert.True(t, second.UseAlternativeSelectors)
	assert.False(t, second.ForceDeepScrape)
	assert.True(t, last.ForceDeepScrape)
	assert.Equal(t, 3, last.Attempt)
}

func TestPartialCarriedForward(t *testing.T) {
	partial := &scrape.Result{Text: "Loading..."}
	a := newFake("alpha", 1, func(context.Context, scrape.Options) (*scrape.Result, error) {
		return partial, nil
	})
	b := newFake("beta", 2, func(_ context.Context, opts scrape.Options) (*scrape.Result, error) {
		if opts.Partial == nil {
			return nil, nil
		}
		return exampleListing(context.Background(), opts)
	})
	f := newFixture(t, Config{}, a, b)

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.Equal(t, "beta", res.Method)
	require.Len(t, b.seenOpts, 1)
	assert.Same(t, partial, b.seenOpts[0].Partial)
	assert.Equal(t, []string{scrape.KindInvalidResult}, f.recorder.kinds)
}

func TestGlobalTimeout(t *testing.T) {
	stopped := make(chan struct{})
	slow := newFake("slow", 1, func(ctx context.Context, _ scrape.Options) (*scrape.Result, error) {
		<-ctx.Done()
		close(stopped)
		return nil, ctx.Err()
	})
	f := newFixture(t, Config{GlobalTimeout: 50 * time.Millisecond}, slow)

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusFailed, res.Status)
	assert.Equal(t, scrape.ReasonGlobalTimeout, res.StatusReason)
	assert.Equal(t, scrape.RetryLongerLimit, res.RetryStrategy)
	assert.True(t, res.ShouldRetry)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("strategy was not cancelled")
	}

	assert.Equal(t, 0, f.cache.puts, "nothing persisted on timeout")
	_, ok := f.profiles.Get("example.com")
	assert.False(t, ok, "nothing learned after the deadline")
}

func TestGlobalTimeoutWithUncooperativeStrategy(t *testing.T) {
	finished := make(chan struct{})
	stubborn := newFake("stubborn", 1, func(_ context.Context, opts scrape.Options) (*scrape.Result, error) {
		defer close(finished)
		time.Sleep(300 * time.Millisecond)
		return exampleListing(context.Background(), opts)
	})
	f := newFixture(t, Config{GlobalTimeout: 50 * time.Millisecond}, stubborn)

	start := time.Now()
	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})
	elapsed := time.Since(start)

	assert.Equal(t, scrape.StatusFailed, res.Status)
	assert.Equal(t, scrape.ReasonGlobalTimeout, res.StatusReason)
	assert.Less(t, elapsed, 300*time.Millisecond, "answers at the deadline without waiting for the strategy")

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("strategy never returned")
	}
	// Let the abandoned step observe the expired deadline
	time.Sleep(20 * time.Millisecond)

	f.cache.mu.Lock()
	puts := f.cache.puts
	f.cache.mu.Unlock()
	assert.Equal(t, 0, puts, "late result is not persisted")
	_, ok := f.profiles.Get("example.com")
	assert.False(t, ok, "late result is not learned")
	f.recorder.mu.Lock()
	assert.Zero(t, f.recorder.successes)
	f.recorder.mu.Unlock()
}

func TestOptionTimeoutOverridesDefault(t *testing.T) {
	slow := newFake("slow", 1, func(ctx context.Context, _ scrape.Options) (*scrape.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, Config{}, slow)

	start := time.Now()
	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{Timeout: 30 * time.Millisecond})
	assert.Equal(t, scrape.ReasonGlobalTimeout, res.StatusReason)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := newFake("slow", 1, func(ctx context.Context, _ scrape.Options) (*scrape.Result, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, Config{}, slow)

	res := f.engine.Scrape(ctx, careersURL, scrape.Options{})
	assert.Equal(t, scrape.StatusFailed, res.Status)
	assert.Equal(t, scrape.ReasonCancelled, res.StatusReason)
}

func TestFastTrack(t *testing.T) {
	a := newFake("alpha", 1, nothing)
	b := newFake("beta", 2, exampleListing)
	f := newFixture(t, Config{}, a, b)

	f.profiles.RecordSuccess("example.com", "beta", memory.Sample{TextLength: 45})
	f.profiles.RecordSuccess("example.com", "beta", memory.Sample{TextLength: 45})

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.Equal(t, "beta", res.Method)
	assert.Equal(t, 0, a.Calls(), "plan bypassed")
	assert.Equal(t, 1, b.Calls())
}

func TestFastTrackFailureFallsThrough(t *testing.T) {
	var bCalls int
	a := newFake("alpha", 1, exampleListing)
	b := newFake("beta", 2, func(context.Context, scrape.Options) (*scrape.Result, error) {
		bCalls++
		return nil, errors.New("unexpected page structure")
	})
	f := newFixture(t, Config{}, a, b)

	f.profiles.RecordSuccess("example.com", "beta", memory.Sample{})
	f.profiles.RecordSuccess("example.com", "beta", memory.Sample{})

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.Equal(t, "alpha", res.Method)
	assert.Equal(t, 1, bCalls, "failed fast-track strategy is not retried in the plan")
}

func TestFastTrackPartialCarriedForward(t *testing.T) {
	const workdayURL = "https://acme.wd3.myworkdayjobs.com/External"
	partial := &scrape.Result{Text: "{{ job.title }} at Acme"}
	a := newFake("alpha", 1, func(_ context.Context, opts scrape.Options) (*scrape.Result, error) {
		if opts.Partial == nil {
			return nil, nil
		}
		return exampleListing(context.Background(), opts)
	})
	b := newFake("beta", 2, func(context.Context, scrape.Options) (*scrape.Result, error) {
		return partial, nil
	})
	f := newFixture(t, Config{}, a, b)

	f.profiles.RecordSuccess("acme.wd3.myworkdayjobs.com", "beta", memory.Sample{TextLength: 45})
	f.profiles.RecordSuccess("acme.wd3.myworkdayjobs.com", "beta", memory.Sample{TextLength: 45})

	res := f.engine.Scrape(context.Background(), workdayURL, scrape.Options{})

	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.Equal(t, "alpha", res.Method)

	require.Len(t, b.seenOpts, 1, "fast-track runs once and is excluded from the plan")
	assert.Equal(t, "workday", b.seenOpts[0].SpecialPlatform, "fast-track sees the detected platform")

	require.Len(t, a.seenOpts, 1)
	assert.Same(t, partial, a.seenOpts[0].Partial)
}

func TestSkipProfilingBypassesFastTrack(t *testing.T) {
	a := newFake("alpha", 1, exampleListing)
	b := newFake("beta", 2, exampleListing)
	f := newFixture(t, Config{}, a, b)

	f.profiles.RecordSuccess("example.com", "beta", memory.Sample{})
	f.profiles.RecordSuccess("example.com", "beta", memory.Sample{})
	f.profiles.RecordFailure("example.com", "alpha", nil, nil)

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{SkipProfiling: true})

	// beta still leads the plan on history, but through planning
	assert.Equal(t, "beta", res.Method)
	assert.Equal(t, 0, a.Calls())
}

func TestPanickingStrategyIsRecovered(t *testing.T) {
	a := newFake("alpha", 1, func(context.Context, scrape.Options) (*scrape.Result, error) {
		var m map[string]int
		m["boom"]++
		return nil, nil
	})
	b := newFake("beta", 2, exampleListing)
	f := newFixture(t, Config{}, a, b)

	var res *scrape.Result
	assert.NotPanics(t, func() {
		res = f.engine.Scrape(context.Background(), careersURL, scrape.Options{})
	})

	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.Equal(t, "beta", res.Method)
	p, _ := f.profiles.Get("example.com")
	assert.Equal(t, 1, p.FailedStrategies["alpha"].ErrorTypes[scrape.KindExecution])
}

func TestRecorderPanicsDoNotAbort(t *testing.T) {
	f := newFixture(t, Config{}, newFake("alpha", 1, exampleListing))
	f.engine.recorder = panickingRecorder{}

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})
	assert.Equal(t, scrape.StatusOK, res.Status)
}

func TestNotApplicableIsNotRecorded(t *testing.T) {
	a := newFake("alpha", 1, func(context.Context, scrape.Options) (*scrape.Result, error) {
		return nil, scrape.ErrNotApplicable
	})
	b := newFake("beta", 2, exampleListing)
	f := newFixture(t, Config{}, a, b)

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, "beta", res.Method)
	p, _ := f.profiles.Get("example.com")
	assert.NotContains(t, p.FailedStrategies, "alpha")
	assert.Empty(t, f.recorder.kinds)
}

func TestInvalidURL(t *testing.T) {
	a := newFake("alpha", 1, exampleListing)
	f := newFixture(t, Config{}, a)

	res := f.engine.Scrape(context.Background(), "not a url", scrape.Options{})

	assert.Equal(t, scrape.StatusFailed, res.Status)
	assert.Equal(t, scrape.ReasonInvalidURL, res.StatusReason)
	assert.Equal(t, scrape.RetryFixInput, res.RetryStrategy)
	assert.Equal(t, 0, a.Calls())
	assert.Equal(t, 0, f.profiles.Len())
}

func TestFullCacheHit(t *testing.T) {
	a := newFake("alpha", 1, exampleListing)
	f := newFixture(t, Config{}, a)
	f.cache.entries[careersURL] = &scrape.Result{URL: careersURL, Text: "cached", Method: "alpha"}

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.True(t, res.FromCache)
	assert.Equal(t, "cached", res.Text)
	assert.Equal(t, 0, a.Calls())
	assert.True(t, f.sessions.Last().FromCache)
}

func TestPlatformBlocksStrategies(t *testing.T) {
	static := newFake("static-html", 10, exampleListing)
	headless := newFake("headless-browser", 50, func(context.Context, scrape.Options) (*scrape.Result, error) {
		return &scrape.Result{Text: strings.Repeat("Workday listing ", 10)}, nil
	})
	headless.info.Headless = true
	f := newFixture(t, Config{}, static, headless)

	res := f.engine.Scrape(context.Background(), "https://acme.wd3.myworkdayjobs.com/External", scrape.Options{})

	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.Equal(t, "headless-browser", res.Method)
	assert.Equal(t, "workday", res.Platform)
	assert.Equal(t, 0, static.Calls(), "blocked on workday")
	assert.True(t, f.sessions.Last().Headless)
}

func TestNoCandidates(t *testing.T) {
	f := newFixture(t, Config{})

	res := f.engine.Scrape(context.Background(), careersURL, scrape.Options{})

	assert.Equal(t, scrape.StatusDegraded, res.Status)
	assert.Equal(t, scrape.ReasonNoCandidates, res.StatusReason)
	assert.NotEmpty(t, res.RetryStrategy)
}
