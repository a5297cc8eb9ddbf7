package storage

import "time"

// CacheEntry is a stored scrape result keyed by URL
type CacheEntry struct {
	URL       string
	Data      []byte // JSON-encoded scrape.Result
	IsMinimum bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ProfileRecord is a serialised domain profile
type ProfileRecord struct {
	Domain    string
	Data      []byte
	UpdatedAt time.Time
}

// StrategyStats is the per (domain, strategy) counter block of a run
type StrategyStats struct {
	Domain     string         `json:"domain"`
	Strategy   string         `json:"strategy"`
	Started    int            `json:"started"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	TotalMs    int64          `json:"total_ms"`
	AvgMs      int64          `json:"avg_ms"`
	ErrorKinds map[string]int `json:"error_kinds,omitempty"`
}

// Metrics tracks run statistics for export on exit
type Metrics struct {
	StartTime         time.Time        `json:"start_time"`
	EndTime           time.Time        `json:"end_time"`
	Calls             int              `json:"calls"`
	CallsOK           int              `json:"calls_ok"`
	CallsDegraded     int              `json:"calls_degraded"`
	CallsFailed       int              `json:"calls_failed"`
	CacheHits         int              `json:"cache_hits"`
	StepsStarted      int              `json:"steps_started"`
	StepsSucceeded    int              `json:"steps_succeeded"`
	StepsFailed       int              `json:"steps_failed"`
	TotalStepTimeMs   int64            `json:"total_step_time_ms"`
	AvgStepTimeMs     int64            `json:"avg_step_time_ms"`
	ErrorKinds        map[string]int   `json:"error_kinds,omitempty"`
	Strategies        []*StrategyStats `json:"strategies,omitempty"`
	TerminationReason string           `json:"termination_reason"`
}
