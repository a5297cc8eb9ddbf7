package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "WEAVER_"

// Config holds all runtime configuration parameters
type Config struct {
	// Engine
	GlobalTimeoutMs       int     `json:"global_timeout_ms"`
	MaxAttempts           int     `json:"max_attempts"`
	RetryDelayMs          int     `json:"retry_delay_ms"`
	MaxRetryDelayMs       int     `json:"max_retry_delay_ms"`
	MaxStepTimeoutMs      int     `json:"max_step_timeout_ms"`
	FastTrackMinRate      float64 `json:"fast_track_min_rate"`
	FastTrackMinSuccesses int     `json:"fast_track_min_successes"`
	ReprofileAfterHours   int     `json:"reprofile_after_hours"`
	ProfileCapacity       int     `json:"profile_capacity"`
	MinContentLength      int     `json:"min_content_length"`
	SnapshotLength        int     `json:"snapshot_length"`

	// Cache
	CacheTTLHours        int `json:"cache_ttl_hours"`
	MinimumCacheTTLHours int `json:"minimum_cache_ttl_hours"`

	// Strategies
	Strategies        []string `json:"strategies"`
	ComplexDomains    []string `json:"complex_domains"`
	UserAgent         string   `json:"user_agent"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	RateBurst         int      `json:"rate_burst"`
	DisableHeadless   bool     `json:"disable_headless"`
	ChromeURL         string   `json:"chrome_url"`
	ChromeBin         string   `json:"chrome_bin"`
	ChromeNoSandbox   bool     `json:"chrome_no_sandbox"`
	GreenhouseAPIURL  string   `json:"greenhouse_api_url"`
	LeverAPIURL       string   `json:"lever_api_url"`
	CatalogPath       string   `json:"catalog_path"`
	DictionaryPath    string   `json:"dictionary_path"`

	// Batch
	Concurrency          int `json:"concurrency"`
	BatchDelayMs         int `json:"batch_delay_ms"`
	MaxSubdomainsPerRoot int `json:"max_subdomains_per_root"`

	// Process
	ListenAddr         string `json:"listen_addr"`
	DBPath             string `json:"db_path"`
	MetricsPath        string `json:"metrics_path"`
	LogLevel           string `json:"log_level"`
	SessionBuffer      int    `json:"session_buffer"`
	ProgressIntervalMs int    `json:"progress_interval_ms"`
}

// LoadConfig reads configuration from a JSON file, applies WEAVER_*
// environment overrides (a .env file is loaded first when present), then
// defaults, and validates the result. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("Ignoring unreadable .env: %v", err)
	}

	var cfg Config
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used without a file
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyEnv overrides file values with WEAVER_* variables
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("DB_PATH", &cfg.DBPath)
	str("METRICS_PATH", &cfg.MetricsPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("USER_AGENT", &cfg.UserAgent)
	str("CHROME_URL", &cfg.ChromeURL)
	str("CHROME_BIN", &cfg.ChromeBin)

	if v, ok := lookup(EnvPrefix + "STRATEGIES"); ok && v != "" {
		cfg.Strategies = splitList(v)
	}

	return errors.Join(
		num("GLOBAL_TIMEOUT_MS", &cfg.GlobalTimeoutMs),
		num("MAX_ATTEMPTS", &cfg.MaxAttempts),
		num("CONCURRENCY", &cfg.Concurrency),
		num("BATCH_DELAY_MS", &cfg.BatchDelayMs),
		num("PROFILE_CAPACITY", &cfg.ProfileCapacity),
		flag("DISABLE_HEADLESS", &cfg.DisableHeadless),
		flag("CHROME_NO_SANDBOX", &cfg.ChromeNoSandbox),
	)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.GlobalTimeoutMs == 0 {
		cfg.GlobalTimeoutMs = 60000
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = 1000
	}
	if cfg.MaxRetryDelayMs == 0 {
		cfg.MaxRetryDelayMs = 3000
	}
	if cfg.MaxStepTimeoutMs == 0 {
		cfg.MaxStepTimeoutMs = 40000
	}
	if cfg.FastTrackMinRate == 0 {
		cfg.FastTrackMinRate = 70
	}
	if cfg.FastTrackMinSuccesses == 0 {
		cfg.FastTrackMinSuccesses = 2
	}
	if cfg.ReprofileAfterHours == 0 {
		cfg.ReprofileAfterHours = 168
	}
	if cfg.ProfileCapacity == 0 {
		cfg.ProfileCapacity = 1000
	}
	if cfg.MinContentLength == 0 {
		cfg.MinContentLength = 100
	}
	if cfg.SnapshotLength == 0 {
		cfg.SnapshotLength = 500
	}
	if cfg.CacheTTLHours == 0 {
		cfg.CacheTTLHours = 24
	}
	if cfg.MinimumCacheTTLHours == 0 {
		cfg.MinimumCacheTTLHours = 6
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 2
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.BatchDelayMs == 0 {
		cfg.BatchDelayMs = 2000
	}
	if cfg.MaxSubdomainsPerRoot == 0 {
		cfg.MaxSubdomainsPerRoot = 3
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "weaver.db"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionBuffer == 0 {
		cfg.SessionBuffer = 100
	}
	if cfg.ProgressIntervalMs == 0 {
		cfg.ProgressIntervalMs = 10000
	}
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	if cfg.GlobalTimeoutMs < 1000 {
		return fmt.Errorf("global_timeout_ms must be >= 1000")
	}
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if cfg.RetryDelayMs < 0 || cfg.MaxRetryDelayMs < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if cfg.MaxStepTimeoutMs < 1000 {
		return fmt.Errorf("max_step_timeout_ms must be >= 1000")
	}
	if cfg.FastTrackMinRate < 0 || cfg.FastTrackMinRate > 100 {
		return fmt.Errorf("fast_track_min_rate must be within 0-100")
	}
	if cfg.ProfileCapacity < 1 {
		return fmt.Errorf("profile_capacity must be >= 1")
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1")
	}
	if cfg.BatchDelayMs < 0 {
		return fmt.Errorf("batch_delay_ms must be >= 0")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// GlobalTimeout is the per-call deadline
func (c *Config) GlobalTimeout() time.Duration { return ms(c.GlobalTimeoutMs) }

// RetryDelay is the base delay between attempts
func (c *Config) RetryDelay() time.Duration { return ms(c.RetryDelayMs) }

// MaxRetryDelay caps the delay between attempts
func (c *Config) MaxRetryDelay() time.Duration { return ms(c.MaxRetryDelayMs) }

// MaxStepTimeout caps a single strategy step
func (c *Config) MaxStepTimeout() time.Duration { return ms(c.MaxStepTimeoutMs) }

// ReprofileAfter is how old a last success may be before fast-track stops
func (c *Config) ReprofileAfter() time.Duration {
	return time.Duration(c.ReprofileAfterHours) * time.Hour
}

// CacheTTL is the lifetime of a full cached result
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLHours) * time.Hour }

// MinimumCacheTTL is the lifetime of a minimum-quality cached result
func (c *Config) MinimumCacheTTL() time.Duration {
	return time.Duration(c.MinimumCacheTTLHours) * time.Hour
}

// BatchDelay is the pause between batches
func (c *Config) BatchDelay() time.Duration { return ms(c.BatchDelayMs) }

// ProgressInterval is the period of the progress log line
func (c *Config) ProgressInterval() time.Duration { return ms(c.ProgressIntervalMs) }

// Level returns the parsed log level
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
