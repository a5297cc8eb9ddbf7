package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/scrape"
	"github.com/alvmarrod/career-weaver/internal/storage"
)

// DefaultSessionBuffer is how many recent sessions are kept in memory
const DefaultSessionBuffer = 100

// SessionWriter persists session records
type SessionWriter interface {
	InsertSession(ctx context.Context, sess *scrape.Session) error
}

type strategyKey struct {
	domain   string
	strategy string
}

// Tracker holds and manages scrape metrics
type Tracker struct {
	mu          sync.Mutex
	data        storage.Metrics
	strategies  map[strategyKey]*storage.StrategyStats
	totalStepMs int64
	stepCount   int

	sessions   []*scrape.Session // ring, oldest first once full
	sessionCap int
	writer     SessionWriter
}

// Option configures a Tracker
type Option func(*Tracker)

// WithSessionWriter persists every recorded session
func WithSessionWriter(w SessionWriter) Option {
	return func(t *Tracker) { t.writer = w }
}

// WithSessionBuffer sets how many sessions are kept in memory
func WithSessionBuffer(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.sessionCap = n
		}
	}
}

// NewTracker creates a new metrics tracker
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		data: storage.Metrics{
			StartTime:  time.Now(),
			ErrorKinds: make(map[string]int),
		},
		strategies: make(map[strategyKey]*storage.StrategyStats),
		sessionCap: DefaultSessionBuffer,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) entry(domain, strategy string) *storage.StrategyStats {
	k := strategyKey{domain: domain, strategy: strategy}
	s := t.strategies[k]
	if s == nil {
		s = &storage.StrategyStats{Domain: domain, Strategy: strategy, ErrorKinds: make(map[string]int)}
		t.strategies[k] = s
	}
	return s
}

// RecordStart counts a strategy execution about to begin
func (t *Tracker) RecordStart(domain, strategy string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.StepsStarted++
	t.entry(domain, strategy).Started++
}

// RecordSuccess counts a strategy execution that produced a valid result
func (t *Tracker) RecordSuccess(domain, strategy string, elapsed time.Duration, jobCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ms := elapsed.Milliseconds()
	t.data.StepsSucceeded++
	t.totalStepMs += ms
	t.stepCount++

	e := t.entry(domain, strategy)
	e.Succeeded++
	e.TotalMs += ms

	logrus.WithFields(logrus.Fields{
		"domain":   domain,
		"strategy": strategy,
		"jobs":     jobCount,
	}).Debugf("Step succeeded in %v", elapsed)
}

// RecordError counts a failed strategy execution under its error kind
func (t *Tracker) RecordError(domain, strategy, kind string, elapsed time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ms := elapsed.Milliseconds()
	t.data.StepsFailed++
	t.data.ErrorKinds[kind]++
	t.totalStepMs += ms
	t.stepCount++

	e := t.entry(domain, strategy)
	e.Failed++
	e.TotalMs += ms
	e.ErrorKinds[kind]++

	logrus.WithFields(logrus.Fields{
		"domain":   domain,
		"strategy": strategy,
		"kind":     kind,
	}).Debugf("Step failed: %v", err)
}

// RecordSession counts the call outcome, keeps the session in the recent
// buffer and persists it when a writer is configured
func (t *Tracker) RecordSession(ctx context.Context, sess *scrape.Session) error {
	if sess == nil {
		return nil
	}

	t.mu.Lock()
	t.data.Calls++
	switch sess.Status {
	case scrape.StatusOK:
		t.data.CallsOK++
	case scrape.StatusDegraded:
		t.data.CallsDegraded++
	case scrape.StatusFailed:
		t.data.CallsFailed++
	}
	if sess.FromCache {
		t.data.CacheHits++
	}

	c := *sess
	if len(t.sessions) >= t.sessionCap {
		t.sessions = append(t.sessions[1:], &c)
	} else {
		t.sessions = append(t.sessions, &c)
	}
	writer := t.writer
	t.mu.Unlock()

	if writer == nil {
		return nil
	}
	if err := writer.InsertSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", sess.ID, err)
	}
	return nil
}

// RecentSessions returns the buffered sessions, newest first
func (t *Tracker) RecentSessions() []*scrape.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*scrape.Session, 0, len(t.sessions))
	for i := len(t.sessions) - 1; i >= 0; i-- {
		c := *t.sessions[i]
		out = append(out, &c)
	}
	return out
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() storage.Metrics {
	snapshot := t.data
	snapshot.TotalStepTimeMs = t.totalStepMs
	if t.stepCount > 0 {
		snapshot.AvgStepTimeMs = t.totalStepMs / int64(t.stepCount)
	}

	snapshot.ErrorKinds = make(map[string]int, len(t.data.ErrorKinds))
	for k, v := range t.data.ErrorKinds {
		snapshot.ErrorKinds[k] = v
	}

	snapshot.Strategies = make([]*storage.StrategyStats, 0, len(t.strategies))
	for _, s := range t.strategies {
		c := *s
		c.ErrorKinds = make(map[string]int, len(s.ErrorKinds))
		for k, v := range s.ErrorKinds {
			c.ErrorKinds[k] = v
		}
		if runs := c.Succeeded + c.Failed; runs > 0 {
			c.AvgMs = c.TotalMs / int64(runs)
		}
		snapshot.Strategies = append(snapshot.Strategies, &c)
	}
	sort.Slice(snapshot.Strategies, func(i, j int) bool {
		a, b := snapshot.Strategies[i], snapshot.Strategies[j]
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		return a.Strategy < b.Strategy
	})

	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	jsonData, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress returns a one-line summary for periodic updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Calls: %d (%d ok, %d degraded, %d failed, %d cached) | Steps: %d started, %d succeeded, %d failed",
		t.data.Calls,
		t.data.CallsOK,
		t.data.CallsDegraded,
		t.data.CallsFailed,
		t.data.CacheHits,
		t.data.StepsStarted,
		t.data.StepsSucceeded,
		t.data.StepsFailed,
	)
}
