package scrape

import (
	"context"
	"sort"
	"time"
)

// Info describes a strategy to the planner
type Info struct {
	Name           string
	Priority       int // lower runs first
	DefaultTimeout time.Duration
	Headless       bool
	Generic        bool // usable on any career page, not tied to a platform
}

// Strategy is one pluggable extraction technique.
//
// Scrape may return (nil, nil) when it ran but found nothing, and
// ErrNotApplicable when it declines the input at run time.
type Strategy interface {
	Info() Info
	IsApplicable(url string, opts Options) bool
	Scrape(ctx context.Context, url string, opts Options, cfg StepConfig) (*Result, error)
	IsResultValid(r *Result) bool
	Close() error
}

// SortByPriority orders strategies by static priority, then name
func SortByPriority(list []Strategy) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].Info(), list[j].Info()
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})
}

// DefaultConfig returns the configuration used when no history exists
func DefaultConfig(info Info) StepConfig {
	return StepConfig{
		Timeout: info.DefaultTimeout,
	}
}
