package crawler

import (
	"net/url"
	"strings"
	"sync"
)

// Job is one URL waiting to be scraped
type Job struct {
	URL    string
	Domain string
}

// Queue is a thread-safe FIFO of jobs with URL deduplication
type Queue struct {
	mu      sync.Mutex
	items   []Job
	seen    map[string]bool // key: normalized URL
	stopped bool
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		items: make([]Job, 0),
		seen:  make(map[string]bool),
	}
}

// Push adds a job unless its URL was already queued.
// Returns true if added, false if duplicate or stopped
func (q *Queue) Push(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}

	key := makeKey(job.URL)
	if q.seen[key] {
		return false
	}

	q.seen[key] = true
	q.items = append(q.items, job)
	return true
}

// PopN removes up to n jobs from the front of the queue. It never blocks;
// an empty slice means the queue is drained or stopped.
func (q *Queue) PopN(n int) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || n <= 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]Job, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out
}

// Requeue puts jobs handed out but never started back at the front
func (q *Queue) Requeue(jobs []Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append(make([]Job, 0, len(jobs)+len(q.items)), jobs...), q.items...)
}

// Size returns the number of queued jobs
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop makes the queue refuse new jobs and hand out no more
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
}

// Pending returns a snapshot of the jobs not yet handed out
func (q *Queue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, len(q.items))
	copy(jobs, q.items)
	return jobs
}

// makeKey normalizes a URL for deduplication: scheme and host are
// case-insensitive, the path keeps its case, and trailing slash and
// fragment are dropped
func makeKey(u string) string {
	u = strings.TrimSpace(u)
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return u
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	return parsed.String()
}
