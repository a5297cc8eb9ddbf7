package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/memory"
	"github.com/alvmarrod/career-weaver/internal/planner"
	"github.com/alvmarrod/career-weaver/internal/scrape"
	"github.com/alvmarrod/career-weaver/internal/validator"
)

type stepVerdict int

const (
	stepFailed stepVerdict = iota
	stepSkipped
	stepPartial
	stepValid
	stepAborted
)

// execute is the phase raced against the global deadline: fast-track,
// then planned attempts. It returns a winning result, or an outcome with
// no result when every step failed.
func (e *Engine) execute(ctx context.Context, c *call) *outcome {
	profile, _ := e.profiles.Get(c.domain)
	opts := c.opts
	excluded := make(map[string]bool)

	platform := opts.SpecialPlatform
	if platform == "" && e.detector != nil {
		if p, ok := e.detector.Detect(c.url, ""); ok {
			platform = p
		}
	}
	if platform == "" && profile != nil {
		platform = profile.DetectedPlatform
	}

	out, partial := e.fastTrack(ctx, c, profile, platform, excluded)
	if out != nil {
		return out
	}
	if partial != nil {
		opts.Partial = partial
	}
	if err := ctx.Err(); err != nil {
		return &outcome{err: err}
	}

	pool := make([]scrape.Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		if !excluded[s.Info().Name] {
			pool = append(pool, s)
		}
	}

	candidates := e.planner.Candidates(c.url, platform, pool, opts)
	if len(candidates) == 0 {
		c.log.Warn("No applicable strategies")
		return &outcome{platform: platform, reason: scrape.ReasonNoCandidates}
	}

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		opts.Attempt = attempt
		if attempt > 1 {
			opts.Aggressive = true
			opts.UseAlternativeSelectors = true
			opts.ForceDeepScrape = attempt == e.cfg.MaxAttempts

			delay := time.Duration(attempt-1) * e.cfg.RetryDelay
			if delay > e.cfg.MaxRetryDelay {
				delay = e.cfg.MaxRetryDelay
			}
			c.log.Infof("Attempt %d/%d after %v", attempt, e.cfg.MaxAttempts, delay)
			if err := e.sleep(ctx, delay); err != nil {
				return &outcome{err: err}
			}
		}

		profile, _ = e.profiles.Get(c.domain)
		planOpts := opts
		planOpts.SpecialPlatform = platform
		plan := e.planner.Build(c.domain, profile, candidates, planOpts)

		for _, entry := range plan {
			if err := ctx.Err(); err != nil {
				return &outcome{err: err}
			}

			res, verdict := e.runStep(ctx, c, entry, platform, opts)
			switch verdict {
			case stepValid:
				return &outcome{result: res, strategy: entry.Strategy.Info(), platform: platform}
			case stepPartial:
				opts.Partial = res
			case stepAborted:
				return &outcome{err: ctx.Err()}
			}
		}
	}

	return &outcome{platform: platform, reason: scrape.ReasonAllStepsFailed}
}

// fastTrack runs the domain's proven strategy directly. A failure marks
// the strategy excluded for the rest of the call and falls through; a
// rejected result with content is returned as partial for the plan.
func (e *Engine) fastTrack(ctx context.Context, c *call, profile *memory.Profile, platform string, excluded map[string]bool) (*outcome, *scrape.Result) {
	if c.opts.SkipProfiling || profile == nil {
		return nil, nil
	}

	name, ok := profile.FastTrack(e.cfg.FastTrackMinRate, e.cfg.FastTrackMinSuccesses, e.cfg.ReprofileAfter, e.now())
	if !ok {
		return nil, nil
	}
	s := e.byName[name]
	if s == nil || !s.IsApplicable(c.url, c.opts) {
		return nil, nil
	}

	c.log.WithField("strategy", name).Info("Fast-track with proven strategy")

	opts := c.opts
	opts.SpecialPlatform = platform
	cfg, _ := e.planner.ConfigFor(c.domain, profile, s, opts)
	entry := planner.Entry{Strategy: s, Config: cfg, FromHistory: true}

	res, verdict := e.runStep(ctx, c, entry, platform, opts)
	switch verdict {
	case stepValid:
		return &outcome{result: res, strategy: s.Info(), platform: platform}, nil
	case stepAborted:
		return &outcome{err: ctx.Err()}, nil
	}

	c.log.WithField("strategy", name).Info("Fast-track failed, falling back to full plan")
	excluded[name] = true
	if verdict == stepPartial {
		return nil, res
	}
	return nil, nil
}

// runStep executes one plan entry under its own timeout, validates the
// output and records the outcome for learning
func (e *Engine) runStep(ctx context.Context, c *call, entry planner.Entry, platform string, opts scrape.Options) (*scrape.Result, stepVerdict) {
	info := entry.Strategy.Info()
	log := c.log.WithFields(logrus.Fields{"strategy": info.Name, "attempt": opts.Attempt})

	e.recordStart(c.domain, info.Name)

	stepCtx := ctx
	if entry.Config.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, entry.Config.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := invoke(stepCtx, entry, c.url, opts)
	elapsed := time.Since(start)

	// Past the global deadline the driver has already answered
	if ctx.Err() != nil {
		log.Debug("Step finished after the call deadline; discarding")
		return nil, stepAborted
	}

	if errors.Is(err, scrape.ErrNotApplicable) {
		log.Debug("Step declined")
		return nil, stepSkipped
	}

	if err != nil {
		kind := scrape.Classify(err)
		log.Warnf("Step failed (%s): %v", kind, err)
		e.profiles.RecordFailure(c.domain, info.Name, nil, err)
		e.recordError(c.domain, info.Name, kind, elapsed, err)
		return nil, stepFailed
	}

	if !res.HasContent() {
		log.Info("Step produced no result")
		e.profiles.RecordFailure(c.domain, info.Name, nil, scrape.ErrNoResult)
		e.recordError(c.domain, info.Name, scrape.KindNoResult, elapsed, scrape.ErrNoResult)
		return nil, stepFailed
	}

	stats := e.validator.Measure(res)
	sample := toSample(stats, elapsed, res.Platform, platform)
	e.profiles.RecordPerformance(c.domain, info.Name, elapsed, sample)

	if entry.Strategy.IsResultValid(res) && e.validator.IsValid(res, platform) {
		log.Infof("Step succeeded in %v (%d chars, %d job links)", elapsed, stats.TextLength, stats.JobLinkCount)
		e.profiles.RecordSuccess(c.domain, info.Name, sample)
		e.recordSuccess(c.domain, info.Name, elapsed, stats.JobLinkCount)
		return res, stepValid
	}

	log.Infof("Step result rejected by validation (%d chars, %d links)", stats.TextLength, stats.LinkCount)
	e.profiles.RecordFailure(c.domain, info.Name, &sample, scrape.ErrInvalidResult)
	e.recordError(c.domain, info.Name, scrape.KindInvalidResult, elapsed, scrape.ErrInvalidResult)
	return res, stepPartial
}

// invoke calls the strategy, converting a panic into an execution error
func invoke(ctx context.Context, entry planner.Entry, url string, opts scrape.Options) (res *scrape.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &scrape.StepError{
				Step: entry.Strategy.Info().Name,
				Kind: scrape.KindExecution,
				Err:  fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return entry.Strategy.Scrape(ctx, url, opts, entry.Config)
}

func toSample(s validator.Stats, elapsed time.Duration, resultPlatform, platform string) memory.Sample {
	if resultPlatform != "" {
		platform = resultPlatform
	}
	return memory.Sample{
		Elapsed:      elapsed,
		TextLength:   s.TextLength,
		LinkCount:    s.LinkCount,
		JobTermCount: s.JobTermCount,
		JobLinkCount: s.JobLinkCount,
		Platform:     platform,
		Quality:      s.Quality,
	}
}

// recordStart and friends shield the scrape from recorder panics
func (e *Engine) recordStart(domain, strategy string) {
	if e.recorder == nil {
		return
	}
	defer recoverRecorder()
	e.recorder.RecordStart(domain, strategy)
}

func (e *Engine) recordSuccess(domain, strategy string, elapsed time.Duration, jobs int) {
	if e.recorder == nil {
		return
	}
	defer recoverRecorder()
	e.recorder.RecordSuccess(domain, strategy, elapsed, jobs)
}

func (e *Engine) recordError(domain, strategy, kind string, elapsed time.Duration, err error) {
	if e.recorder == nil {
		return
	}
	defer recoverRecorder()
	e.recorder.RecordError(domain, strategy, kind, elapsed, err)
}

func recoverRecorder() {
	if r := recover(); r != nil {
		logrus.Warnf("Metrics recorder panicked: %v", r)
	}
}
