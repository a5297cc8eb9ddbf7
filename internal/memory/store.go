// Package memory holds the per-domain learning table that biases strategy
// selection, bounded in size and persisted to SQLite between runs.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// DefaultCapacity is the profile bound used when none is configured
const DefaultCapacity = 1000

// Store is the profile table consumed by the engine and planner
type Store interface {
	Get(domain string) (*Profile, bool)
	GetOrCreate(domain string) *Profile
	RecordSuccess(domain, strategy string, s Sample)
	RecordFailure(domain, strategy string, s *Sample, err error)
	RecordPerformance(domain, strategy string, elapsed time.Duration, s Sample)
	Reset(domain string)
	ExportAll() map[string]*Profile
	ImportAll(profiles map[string]*Profile)
	Len() int
}

// ProfileStore is a bounded in-memory Store. Past the bound, the profile
// inserted earliest is evicted; reads never change eviction order.
type ProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	order    []string // insertion order, oldest first
	capacity int
	now      func() time.Time
	evicted  int
}

// Option configures a ProfileStore
type Option func(*ProfileStore)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *ProfileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewProfileStore creates a store holding at most capacity profiles
func NewProfileStore(capacity int, opts ...Option) *ProfileStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &ProfileStore{
		profiles: make(map[string]*Profile),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// Get returns a deep copy of the domain's profile
func (s *ProfileStore) Get(domain string) (*Profile, bool) {
	domain = normalizeDomain(domain)
	s.mu.Lock()
	p, ok := s.profiles[domain]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// GetOrCreate returns a deep copy of the domain's profile, creating it first
// when absent. An empty domain yields a detached empty profile.
func (s *ProfileStore) GetOrCreate(domain string) *Profile {
	domain = normalizeDomain(domain)
	if domain == "" {
		return newProfile("", s.now())
	}
	return s.profile(domain).Clone()
}

// profile returns the live profile, inserting it under the bound
func (s *ProfileStore) profile(domain string) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[domain]; ok {
		return p
	}
	p := newProfile(domain, s.now())
	s.insertLocked(domain, p)
	return p
}

func (s *ProfileStore) insertLocked(domain string, p *Profile) {
	if _, exists := s.profiles[domain]; exists {
		s.profiles[domain] = p
		return
	}
	for len(s.profiles) >= s.capacity && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.profiles, oldest)
		s.evicted++
	}
	s.profiles[domain] = p
	s.order = append(s.order, domain)
}

// RecordSuccess folds a successful run into the domain's history
func (s *ProfileStore) RecordSuccess(domain, strategy string, sample Sample) {
	domain = normalizeDomain(domain)
	if domain == "" || strategy == "" {
		return
	}
	p := s.profile(domain)
	now := s.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordSuccess(strategy, sample, now)
}

// RecordFailure folds a failed run into the domain's history; sample holds
// the partial content, if any, and err may be nil when a strategy simply
// produced nothing
func (s *ProfileStore) RecordFailure(domain, strategy string, sample *Sample, err error) {
	domain = normalizeDomain(domain)
	if domain == "" || strategy == "" {
		return
	}

	kind := scrape.KindNoResult
	message := ""
	if err != nil {
		kind = scrape.Classify(err)
		message = err.Error()
	}

	p := s.profile(domain)
	now := s.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordFailure(strategy, sample, kind, message, now)
}

// RecordPerformance folds timing and quality of any run into the history
func (s *ProfileStore) RecordPerformance(domain, strategy string, elapsed time.Duration, sample Sample) {
	domain = normalizeDomain(domain)
	if domain == "" || strategy == "" {
		return
	}
	p := s.profile(domain)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordPerformance(strategy, elapsed, sample)
}

// Reset forgets a domain
func (s *ProfileStore) Reset(domain string) {
	domain = normalizeDomain(domain)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[domain]; !ok {
		return
	}
	delete(s.profiles, domain)
	for i, d := range s.order {
		if d == domain {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ExportAll returns deep copies of every profile
func (s *ProfileStore) ExportAll() map[string]*Profile {
	s.mu.Lock()
	live := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		live = append(live, p)
	}
	s.mu.Unlock()

	out := make(map[string]*Profile, len(live))
	for _, p := range live {
		c := p.Clone()
		out[c.Domain] = c
	}
	return out
}

// ImportAll inserts profiles oldest first by creation time, so a restored
// table evicts in the order the original did
func (s *ProfileStore) ImportAll(profiles map[string]*Profile) {
	list := make([]*Profile, 0, len(profiles))
	for domain, p := range profiles {
		if p == nil {
			continue
		}
		c := p.Clone()
		if c.Domain == "" {
			c.Domain = domain
		}
		c.Domain = normalizeDomain(c.Domain)
		if c.Domain == "" {
			continue
		}
		c.ensureMaps()
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].Domain < list[j].Domain
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range list {
		s.insertLocked(p.Domain, p)
	}
}

// Len returns the number of profiles held
func (s *ProfileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// GetStats returns the profile count and how many were evicted so far
func (s *ProfileStore) GetStats() (profiles, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles), s.evicted
}
