package scrape

import (
	"time"
)

// Status describes how authoritative a returned result is
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Status reasons attached to non-ok results
const (
	ReasonAllStepsFailed   = "all_steps_failed"
	ReasonNoCandidates     = "no_candidate_steps"
	ReasonCachedMinimum    = "cached_minimum_quality"
	ReasonGlobalTimeout    = "global_timeout"
	ReasonPersistenceError = "minimum_cache_write_failed"
	ReasonInvalidURL       = "invalid_url"
	ReasonCancelled        = "cancelled"
	ReasonInternalError    = "internal_error"
)

// Retry strategies recommended to callers
const (
	RetryBackground  = "background_rescrape"
	RetryLater       = "retry_later"
	RetryLongerLimit = "retry_with_longer_timeout"
	RetryFixInput    = "fix_url"
)

// Link is a single anchor extracted from a career page
type Link struct {
	URL            string  `json:"url"`
	Text           string  `json:"text"`
	IsJobPosting   bool    `json:"isJobPosting"`
	Confidence     float64 `json:"confidence,omitempty"`
	Location       string  `json:"location,omitempty"`
	Department     string  `json:"department,omitempty"`
	EmploymentType string  `json:"employmentType,omitempty"`
}

// Result is the output of one strategy execution, annotated by the engine
// before it reaches a caller.
type Result struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Links     []Link    `json:"links"`
	Platform  string    `json:"detectedPlatform,omitempty"`
	Language  string    `json:"detectedLanguage,omitempty"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`

	IsMinimumCache bool `json:"isMinimumCache,omitempty"`
	FromCache      bool `json:"fromCache,omitempty"`

	Status        Status `json:"status"`
	StatusReason  string `json:"statusReason,omitempty"`
	ShouldRetry   bool   `json:"shouldRetry"`
	RetryStrategy string `json:"retryStrategy,omitempty"`
}

// HasContent reports whether the result carries any text or links
func (r *Result) HasContent() bool {
	if r == nil {
		return false
	}
	return len(r.Text) > 0 || len(r.Links) > 0
}

// JobLinks returns the links flagged as job postings
func (r *Result) JobLinks() []Link {
	if r == nil {
		return nil
	}
	var out []Link
	for _, l := range r.Links {
		if l.IsJobPosting {
			out = append(out, l)
		}
	}
	return out
}

// Clone returns a copy that can be annotated without touching the original
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Links != nil {
		c.Links = make([]Link, len(r.Links))
		copy(c.Links, r.Links)
	}
	return &c
}

// Options is the per-call configuration bag
type Options struct {
	Language        string        `json:"detectedLanguage,omitempty"`
	SearchQuery     string        `json:"searchQuery,omitempty"`
	SkipProfiling   bool          `json:"skipProfiling,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
	StepTimeout     time.Duration `json:"stepTimeout,omitempty"`
	SpecialPlatform string        `json:"specialPlatform,omitempty"`

	// Set by the engine between attempts
	Attempt                 int     `json:"-"`
	Aggressive              bool    `json:"-"`
	UseAlternativeSelectors bool    `json:"-"`
	ForceDeepScrape         bool    `json:"-"`
	Partial                 *Result `json:"-"`
}

// StepConfig is the derived configuration for one plan entry
type StepConfig struct {
	Timeout         time.Duration
	Retries         int
	MaxInteractions int
	JSWait          time.Duration
}

// Session is the per-call telemetry record
type Session struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Strategy     string    `json:"strategy,omitempty"`
	Headless     bool      `json:"headless"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
	Success      bool      `json:"success"`
	TextSnapshot string    `json:"textSnapshot,omitempty"`
	JobCount     int       `json:"jobCount"`
	Platform     string    `json:"platform,omitempty"`
	Language     string    `json:"language,omitempty"`
	CacheCreated bool      `json:"cacheCreated"`
	FromCache    bool      `json:"fromCache"`
	Status       Status    `json:"status"`
}
