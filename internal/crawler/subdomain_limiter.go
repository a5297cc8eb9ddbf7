package crawler

import (
	"sync"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// SubdomainLimiter caps how many distinct hosts of one root domain a
// batch scrapes (careers.acme.com, jobs.acme.com, ...)
type SubdomainLimiter struct {
	maxPerRoot int
	mu         sync.Mutex
	// Map: rootDomain -> set of subdomains
	subdomains map[string]map[string]bool
}

// NewSubdomainLimiter creates a new subdomain limiter; maxPerRoot <= 0
// disables the limit
func NewSubdomainLimiter(maxPerRoot int) *SubdomainLimiter {
	return &SubdomainLimiter{
		maxPerRoot: maxPerRoot,
		subdomains: make(map[string]map[string]bool),
	}
}

// Add registers a domain with the limiter
// Returns true if added successfully, false if limit exceeded
func (sl *SubdomainLimiter) Add(domain string) bool {
	rootDomain := scrape.ExtractRootDomain(domain)
	if multiTenantRoots[rootDomain] {
		return true
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.subdomains[rootDomain] == nil {
		sl.subdomains[rootDomain] = make(map[string]bool)
	}
	subdomainSet := sl.subdomains[rootDomain]

	// Already registered - success
	if subdomainSet[domain] {
		return true
	}

	if sl.maxPerRoot > 0 && len(subdomainSet) >= sl.maxPerRoot {
		return false
	}

	subdomainSet[domain] = true
	return true
}

// Count returns the number of subdomains registered for a root domain
func (sl *SubdomainLimiter) Count(rootDomain string) int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.subdomains[rootDomain])
}
