// Package planner turns a domain's history and the filtered strategy pool
// into an ordered execution plan.
package planner

import (
	"sort"
	"strings"
	"time"

	"github.com/alvmarrod/career-weaver/internal/memory"
	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// Catalog is the platform knowledge the planner needs
type Catalog interface {
	RecommendedStrategy(platform string) (string, bool)
	Blocked(platform string) []string
	HeavyJS(platform string) bool
}

// Config holds the planning limits
type Config struct {
	MaxStepTimeout       time.Duration
	DefaultInteractions  int
	MaxInteractions      int
	BaseJSWait           time.Duration
	ComplexDomains       []string
	MaxGenericFallbacks  int
	MaxGenericCandidates int
	AlwaysFailAttempts   int
}

// DefaultPlannerConfig returns the standard limits
func DefaultPlannerConfig() Config {
	return Config{
		MaxStepTimeout:       40 * time.Second,
		DefaultInteractions:  3,
		MaxInteractions:      10,
		BaseJSWait:           1500 * time.Millisecond,
		MaxGenericFallbacks:  2,
		MaxGenericCandidates: 3,
		AlwaysFailAttempts:   3,
	}
}

// Entry is one step of a plan
type Entry struct {
	Strategy    scrape.Strategy
	Config      scrape.StepConfig
	FromHistory bool
}

// Name returns the entry's strategy name
func (e Entry) Name() string {
	return e.Strategy.Info().Name
}

// Planner is safe for concurrent use
type Planner struct {
	catalog Catalog
	cfg     Config
	complex map[string]bool
}

// New creates a planner; zero config fields take their defaults
func New(catalog Catalog, cfg Config) *Planner {
	def := DefaultPlannerConfig()
	if cfg.MaxStepTimeout <= 0 {
		cfg.MaxStepTimeout = def.MaxStepTimeout
	}
	if cfg.DefaultInteractions <= 0 {
		cfg.DefaultInteractions = def.DefaultInteractions
	}
	if cfg.MaxInteractions < cfg.DefaultInteractions {
		cfg.MaxInteractions = def.MaxInteractions
		if cfg.MaxInteractions < cfg.DefaultInteractions {
			cfg.MaxInteractions = cfg.DefaultInteractions
		}
	}
	if cfg.BaseJSWait <= 0 {
		cfg.BaseJSWait = def.BaseJSWait
	}
	if cfg.MaxGenericFallbacks <= 0 {
		cfg.MaxGenericFallbacks = def.MaxGenericFallbacks
	}
	if cfg.MaxGenericCandidates <= 0 {
		cfg.MaxGenericCandidates = def.MaxGenericCandidates
	}
	if cfg.AlwaysFailAttempts <= 0 {
		cfg.AlwaysFailAttempts = def.AlwaysFailAttempts
	}

	complex := make(map[string]bool, len(cfg.ComplexDomains))
	for _, d := range cfg.ComplexDomains {
		complex[strings.ToLower(strings.TrimSpace(d))] = true
	}

	return &Planner{catalog: catalog, cfg: cfg, complex: complex}
}

// IsComplexDomain reports whether the domain, or its root, is on the
// complex-site allow-list
func (p *Planner) IsComplexDomain(domain string) bool {
	domain = strings.ToLower(domain)
	return p.complex[domain] || p.complex[scrape.ExtractRootDomain(domain)]
}

// Candidates filters the pool down to the strategies worth running. With a
// platform: its mapped strategy plus a few generic fallbacks, minus the
// platform's blocked strategies. Without one: a few generic strategies.
func (p *Planner) Candidates(rawURL, platform string, pool []scrape.Strategy, opts scrape.Options) []scrape.Strategy {
	if opts.SpecialPlatform != "" {
		platform = opts.SpecialPlatform
	}

	applicable := make([]scrape.Strategy, 0, len(pool))
	for _, s := range pool {
		if s != nil && s.IsApplicable(rawURL, opts) {
			applicable = append(applicable, s)
		}
	}
	scrape.SortByPriority(applicable)

	if platform == "" || p.catalog == nil {
		return genericOnly(applicable, nil, p.cfg.MaxGenericCandidates)
	}

	blocked := make(map[string]bool)
	for _, name := range p.catalog.Blocked(platform) {
		blocked[name] = true
	}

	var out []scrape.Strategy
	mapped, _ := p.catalog.RecommendedStrategy(platform)
	if mapped != "" && !blocked[mapped] {
		for _, s := range applicable {
			if s.Info().Name == mapped {
				out = append(out, s)
				break
			}
		}
	}

	skip := func(s scrape.Strategy) bool {
		name := s.Info().Name
		return blocked[name] || name == mapped
	}
	limit := p.cfg.MaxGenericFallbacks
	if len(out) == 0 {
		limit = p.cfg.MaxGenericCandidates
	}
	return append(out, genericOnly(applicable, skip, limit)...)
}

func genericOnly(list []scrape.Strategy, skip func(scrape.Strategy) bool, limit int) []scrape.Strategy {
	var out []scrape.Strategy
	for _, s := range list {
		if len(out) >= limit {
			break
		}
		if !s.Info().Generic || (skip != nil && skip(s)) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Build orders candidates into a plan. Strategies that succeeded on the
// domain come first, best success rate first; the rest follow in static
// priority order, with strategies that have only ever failed moved last.
func (p *Planner) Build(domain string, profile *memory.Profile, candidates []scrape.Strategy, opts scrape.Options) []Entry {
	var history, fresh, failing []scrape.Strategy

	for _, s := range candidates {
		if s == nil {
			continue
		}
		name := s.Info().Name
		switch {
		case profile != nil && profile.SuccessfulStrategies[name] != nil && profile.SuccessfulStrategies[name].SuccessCount > 0:
			history = append(history, s)
		case profile.AlwaysFails(name, p.cfg.AlwaysFailAttempts):
			failing = append(failing, s)
		default:
			fresh = append(fresh, s)
		}
	}

	sort.SliceStable(history, func(i, j int) bool {
		a := profile.SuccessfulStrategies[history[i].Info().Name]
		b := profile.SuccessfulStrategies[history[j].Info().Name]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		ai, bi := history[i].Info(), history[j].Info()
		if ai.Priority != bi.Priority {
			return ai.Priority < bi.Priority
		}
		return ai.Name < bi.Name
	})
	scrape.SortByPriority(fresh)
	scrape.SortByPriority(failing)

	plan := make([]Entry, 0, len(candidates))
	for _, s := range history {
		cfg, _ := p.ConfigFor(domain, profile, s, opts)
		plan = append(plan, Entry{Strategy: s, Config: cfg, FromHistory: true})
	}
	for _, s := range append(fresh, failing...) {
		plan = append(plan, Entry{Strategy: s, Config: p.defaultConfig(domain, profile, s, opts)})
	}
	return plan
}

// ConfigFor derives a strategy's configuration from the domain history.
// The bool reports whether history was used.
func (p *Planner) ConfigFor(domain string, profile *memory.Profile, s scrape.Strategy, opts scrape.Options) (scrape.StepConfig, bool) {
	info := s.Info()
	var stats *memory.SuccessStats
	if profile != nil {
		stats = profile.SuccessfulStrategies[info.Name]
	}
	if stats == nil || stats.SuccessCount == 0 {
		return p.defaultConfig(domain, profile, s, opts), false
	}

	cfg := p.defaultConfig(domain, profile, s, opts)
	if opts.StepTimeout <= 0 {
		cfg.Timeout = p.adaptiveTimeout(stats.AvgExecutionMs, info.DefaultTimeout)
	}
	if stats.SuccessRate < 80 {
		cfg.Retries = 1
	}
	if info.Headless {
		n := p.cfg.DefaultInteractions + int(stats.AvgLinkCount/20)
		if n > p.cfg.MaxInteractions {
			n = p.cfg.MaxInteractions
		}
		cfg.MaxInteractions = n
	}
	return cfg, true
}

// adaptiveTimeout is clamp(avg * 1.2, default, max)
func (p *Planner) adaptiveTimeout(avgMs float64, def time.Duration) time.Duration {
	t := time.Duration(avgMs*float64(time.Millisecond)) * 12 / 10
	if t < def {
		t = def
	}
	if t > p.cfg.MaxStepTimeout {
		t = p.cfg.MaxStepTimeout
	}
	return t
}

func (p *Planner) defaultConfig(domain string, profile *memory.Profile, s scrape.Strategy, opts scrape.Options) scrape.StepConfig {
	info := s.Info()
	cfg := scrape.DefaultConfig(info)
	if cfg.Timeout <= 0 || cfg.Timeout > p.cfg.MaxStepTimeout {
		cfg.Timeout = p.cfg.MaxStepTimeout
	}
	if opts.StepTimeout > 0 {
		cfg.Timeout = opts.StepTimeout
	}

	if info.Headless {
		cfg.MaxInteractions = p.cfg.DefaultInteractions
		cfg.JSWait = p.cfg.BaseJSWait

		platform := opts.SpecialPlatform
		if platform == "" && profile != nil {
			platform = profile.DetectedPlatform
		}
		if platform != "" && p.catalog != nil && p.catalog.HeavyJS(platform) && p.IsComplexDomain(domain) {
			cfg.JSWait *= 3
		}
	}
	return cfg
}
