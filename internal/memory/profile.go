package memory

import (
	"sort"
	"sync"
	"time"
)

// SuccessStats aggregates the successful runs of one strategy on a domain
type SuccessStats struct {
	SuccessCount    int            `json:"successCount"`
	TotalAttempts   int            `json:"totalAttempts"`
	AvgExecutionMs  float64        `json:"avgExecutionMs"`
	AvgTextLength   float64        `json:"avgTextLength"`
	AvgLinkCount    float64        `json:"avgLinkCount"`
	AvgJobTermCount float64        `json:"avgJobTermCount"`
	SuccessRate     float64        `json:"successRate"`
	Platforms       map[string]int `json:"platforms,omitempty"`
}

// FailureStats aggregates the failed runs of one strategy on a domain
type FailureStats struct {
	FailureCount  int            `json:"failureCount"`
	TotalAttempts int            `json:"totalAttempts"`
	FailureRate   float64        `json:"failureRate"`
	ErrorTypes    map[string]int `json:"errorTypes,omitempty"`
}

// Performance holds rolling timing and quality figures for a strategy
type Performance struct {
	Samples       int     `json:"samples"`
	LastMs        int64   `json:"lastMs"`
	AvgMs         float64 `json:"avgMs"`
	AvgTextLength float64 `json:"avgTextLength"`
	AvgQuality    float64 `json:"avgQuality"`
}

// ErrorSample is the latest error seen for a strategy
type ErrorSample struct {
	Count       int       `json:"count"`
	LastKind    string    `json:"lastKind"`
	LastMessage string    `json:"lastMessage"`
	LastAt      time.Time `json:"lastAt"`
}

// Sample carries the content statistics derived from one result
type Sample struct {
	Elapsed      time.Duration
	TextLength   int
	LinkCount    int
	JobTermCount int
	JobLinkCount int
	Platform     string
	Quality      float64
}

// Profile is the accumulated history of one hostname
type Profile struct {
	mu sync.Mutex

	Domain        string    `json:"domain"`
	CreatedAt     time.Time `json:"createdAt"`
	TotalAttempts int       `json:"totalAttempts"`
	SuccessCount  int       `json:"successCount"`
	FailureCount  int       `json:"failureCount"`
	SuccessRate   float64   `json:"successRate"`

	SuccessfulStrategies map[string]*SuccessStats `json:"successfulStrategies"`
	FailedStrategies     map[string]*FailureStats `json:"failedStrategies"`
	PerformanceMetrics   map[string]*Performance  `json:"performanceMetrics"`
	ErrorMetrics         map[string]*ErrorSample  `json:"errorMetrics"`

	LastSuccessfulStrategy string    `json:"lastSuccessfulStrategy,omitempty"`
	LastSuccessAt          time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt          time.Time `json:"lastFailureAt,omitempty"`

	DetectedPlatform string  `json:"detectedPlatform,omitempty"`
	AvgQuality       float64 `json:"avgQuality"`
	AvgJobTermCount  float64 `json:"avgJobTermCount"`
	AvgJobLinkCount  float64 `json:"avgJobLinkCount"`
}

func newProfile(domain string, now time.Time) *Profile {
	p := &Profile{Domain: domain, CreatedAt: now}
	p.ensureMaps()
	return p
}

func (p *Profile) ensureMaps() {
	if p.SuccessfulStrategies == nil {
		p.SuccessfulStrategies = make(map[string]*SuccessStats)
	}
	if p.FailedStrategies == nil {
		p.FailedStrategies = make(map[string]*FailureStats)
	}
	if p.PerformanceMetrics == nil {
		p.PerformanceMetrics = make(map[string]*Performance)
	}
	if p.ErrorMetrics == nil {
		p.ErrorMetrics = make(map[string]*ErrorSample)
	}
}

// blend is the rolling average used by every profile statistic. It weights
// the newest sample at 50%; it is not a true moving average.
func blend(old, sample float64) float64 {
	return (old + sample) / 2
}

// blendFirst takes the sample as-is when it is the first of its series
func blendFirst(old, sample float64, first bool) float64 {
	if first {
		return sample
	}
	return blend(old, sample)
}

func rate(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// Clone returns a deep copy with its own lock
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cloneLocked()
}

func (p *Profile) cloneLocked() *Profile {
	c := &Profile{
		Domain:                 p.Domain,
		CreatedAt:              p.CreatedAt,
		TotalAttempts:          p.TotalAttempts,
		SuccessCount:           p.SuccessCount,
		FailureCount:           p.FailureCount,
		SuccessRate:            p.SuccessRate,
		LastSuccessfulStrategy: p.LastSuccessfulStrategy,
		LastSuccessAt:          p.LastSuccessAt,
		LastFailureAt:          p.LastFailureAt,
		DetectedPlatform:       p.DetectedPlatform,
		AvgQuality:             p.AvgQuality,
		AvgJobTermCount:        p.AvgJobTermCount,
		AvgJobLinkCount:        p.AvgJobLinkCount,
	}
	c.ensureMaps()

	for name, s := range p.SuccessfulStrategies {
		cs := *s
		if s.Platforms != nil {
			cs.Platforms = make(map[string]int, len(s.Platforms))
			for k, v := range s.Platforms {
				cs.Platforms[k] = v
			}
		}
		c.SuccessfulStrategies[name] = &cs
	}
	for name, f := range p.FailedStrategies {
		cf := *f
		if f.ErrorTypes != nil {
			cf.ErrorTypes = make(map[string]int, len(f.ErrorTypes))
			for k, v := range f.ErrorTypes {
				cf.ErrorTypes[k] = v
			}
		}
		c.FailedStrategies[name] = &cf
	}
	for name, perf := range p.PerformanceMetrics {
		cp := *perf
		c.PerformanceMetrics[name] = &cp
	}
	for name, e := range p.ErrorMetrics {
		ce := *e
		c.ErrorMetrics[name] = &ce
	}
	return c
}

// attempt bumps the shared attempt counter of a strategy and returns it.
// Success and failure entries of the same strategy stay in step so both
// rates are computed over every run.
func (p *Profile) attempt(strategy string) int {
	total := 0
	if s := p.SuccessfulStrategies[strategy]; s != nil && s.TotalAttempts > total {
		total = s.TotalAttempts
	}
	if f := p.FailedStrategies[strategy]; f != nil && f.TotalAttempts > total {
		total = f.TotalAttempts
	}
	total++

	if s := p.SuccessfulStrategies[strategy]; s != nil {
		s.TotalAttempts = total
		s.SuccessRate = rate(s.SuccessCount, total)
	}
	if f := p.FailedStrategies[strategy]; f != nil {
		f.TotalAttempts = total
		f.FailureRate = rate(f.FailureCount, total)
	}
	return total
}

func (p *Profile) recordSuccess(strategy string, s Sample, now time.Time) {
	p.ensureMaps()
	firstForDomain := p.SuccessCount == 0

	total := p.attempt(strategy)
	stats := p.SuccessfulStrategies[strategy]
	if stats == nil {
		stats = &SuccessStats{TotalAttempts: total}
		p.SuccessfulStrategies[strategy] = stats
	}
	first := stats.SuccessCount == 0
	stats.SuccessCount++
	stats.SuccessRate = rate(stats.SuccessCount, stats.TotalAttempts)
	stats.AvgExecutionMs = blendFirst(stats.AvgExecutionMs, float64(s.Elapsed.Milliseconds()), first)
	stats.AvgTextLength = blendFirst(stats.AvgTextLength, float64(s.TextLength), first)
	stats.AvgLinkCount = blendFirst(stats.AvgLinkCount, float64(s.LinkCount), first)
	stats.AvgJobTermCount = blendFirst(stats.AvgJobTermCount, float64(s.JobTermCount), first)
	if s.Platform != "" {
		if stats.Platforms == nil {
			stats.Platforms = make(map[string]int)
		}
		stats.Platforms[s.Platform]++
		p.DetectedPlatform = s.Platform
	}

	p.TotalAttempts++
	p.SuccessCount++
	p.SuccessRate = rate(p.SuccessCount, p.TotalAttempts)
	p.LastSuccessfulStrategy = strategy
	p.LastSuccessAt = now
	p.AvgQuality = blendFirst(p.AvgQuality, s.Quality, firstForDomain)
	p.AvgJobTermCount = blendFirst(p.AvgJobTermCount, float64(s.JobTermCount), firstForDomain)
	p.AvgJobLinkCount = blendFirst(p.AvgJobLinkCount, float64(s.JobLinkCount), firstForDomain)
}

func (p *Profile) recordFailure(strategy string, s *Sample, kind, message string, now time.Time) {
	p.ensureMaps()

	total := p.attempt(strategy)
	stats := p.FailedStrategies[strategy]
	if stats == nil {
		stats = &FailureStats{TotalAttempts: total, ErrorTypes: make(map[string]int)}
		p.FailedStrategies[strategy] = stats
	}
	stats.FailureCount++
	stats.FailureRate = rate(stats.FailureCount, stats.TotalAttempts)
	if stats.ErrorTypes == nil {
		stats.ErrorTypes = make(map[string]int)
	}
	stats.ErrorTypes[kind]++

	e := p.ErrorMetrics[strategy]
	if e == nil {
		e = &ErrorSample{}
		p.ErrorMetrics[strategy] = e
	}
	e.Count++
	e.LastKind = kind
	e.LastMessage = message
	e.LastAt = now

	if s != nil && s.Platform != "" && p.DetectedPlatform == "" {
		p.DetectedPlatform = s.Platform
	}

	p.TotalAttempts++
	p.FailureCount++
	p.SuccessRate = rate(p.SuccessCount, p.TotalAttempts)
	p.LastFailureAt = now
}

func (p *Profile) recordPerformance(strategy string, elapsed time.Duration, s Sample) {
	p.ensureMaps()

	perf := p.PerformanceMetrics[strategy]
	if perf == nil {
		perf = &Performance{}
		p.PerformanceMetrics[strategy] = perf
	}
	first := perf.Samples == 0
	perf.Samples++
	perf.LastMs = elapsed.Milliseconds()
	perf.AvgMs = blendFirst(perf.AvgMs, float64(perf.LastMs), first)
	perf.AvgTextLength = blendFirst(perf.AvgTextLength, float64(s.TextLength), first)
	perf.AvgQuality = blendFirst(perf.AvgQuality, s.Quality, first)
}

// NeedsReprofiling reports whether the history is too stale or contradicted
// to trust a shortcut
func (p *Profile) NeedsReprofiling(reprofileAfter time.Duration, now time.Time) bool {
	if p.LastSuccessAt.IsZero() {
		return true
	}
	if p.LastFailureAt.After(p.LastSuccessAt) {
		return true
	}
	return reprofileAfter > 0 && now.Sub(p.LastSuccessAt) > reprofileAfter
}

// FastTrack names the proven strategy for this domain, if any. A strategy
// qualifies with at least minSuccesses successes at a rate of minRate or
// more; the best rate wins and the last successful strategy breaks ties.
func (p *Profile) FastTrack(minRate float64, minSuccesses int, reprofileAfter time.Duration, now time.Time) (string, bool) {
	if p == nil || p.NeedsReprofiling(reprofileAfter, now) {
		return "", false
	}

	names := make([]string, 0, len(p.SuccessfulStrategies))
	for name := range p.SuccessfulStrategies {
		names = append(names, name)
	}
	sort.Strings(names)

	best := ""
	bestRate := -1.0
	for _, name := range names {
		s := p.SuccessfulStrategies[name]
		if s.SuccessCount < minSuccesses || s.SuccessRate < minRate {
			continue
		}
		if s.SuccessRate > bestRate || (s.SuccessRate == bestRate && name == p.LastSuccessfulStrategy) {
			best, bestRate = name, s.SuccessRate
		}
	}
	return best, best != ""
}

// AlwaysFails reports whether a strategy failed every one of at least
// minAttempts runs on this domain
func (p *Profile) AlwaysFails(strategy string, minAttempts int) bool {
	if p == nil {
		return false
	}
	if s := p.SuccessfulStrategies[strategy]; s != nil && s.SuccessCount > 0 {
		return false
	}
	f := p.FailedStrategies[strategy]
	return f != nil && f.TotalAttempts >= minAttempts && f.FailureCount == f.TotalAttempts
}
