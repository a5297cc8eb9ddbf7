package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/config"
	"github.com/alvmarrod/career-weaver/internal/dictionary"
	"github.com/alvmarrod/career-weaver/internal/engine"
	"github.com/alvmarrod/career-weaver/internal/memory"
	"github.com/alvmarrod/career-weaver/internal/metrics"
	"github.com/alvmarrod/career-weaver/internal/planner"
	"github.com/alvmarrod/career-weaver/internal/platform"
	"github.com/alvmarrod/career-weaver/internal/storage"
	"github.com/alvmarrod/career-weaver/internal/strategy"
	"github.com/alvmarrod/career-weaver/internal/validator"
	"github.com/alvmarrod/career-weaver/internal/version"
)

// app holds the long-lived components shared by every command
type app struct {
	cfg      *config.Config
	store    *storage.Storage
	cache    *storage.Cache
	profiles *memory.ProfileStore
	tracker  *metrics.Tracker
	engine   *engine.Engine

	wg           sync.WaitGroup
	stopProgress chan struct{}
	stopOnce     sync.Once
}

func newApp(cfg *config.Config) (*app, error) {
	logrus.Infof("Career Weaver v%s starting...", version.Version)

	// Initialize storage
	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logrus.Infof("Database initialized: %s", cfg.DBPath)

	a, err := build(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, store *storage.Storage) (*app, error) {
	cache := storage.NewCache(store, cfg.CacheTTL(), cfg.MinimumCacheTTL())
	if n, err := cache.Purge(context.Background()); err != nil {
		logrus.Warnf("Failed to purge expired cache entries: %v", err)
	} else if n > 0 {
		logrus.Infof("Purged %d expired cache entries", n)
	}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	dict, err := loadDictionary(cfg.DictionaryPath)
	if err != nil {
		return nil, err
	}

	// Resume learned profiles
	profiles := memory.NewProfileStore(cfg.ProfileCapacity)
	if err := profiles.LoadFromStorage(store); err != nil {
		return nil, err
	}

	tracker := metrics.NewTracker(
		metrics.WithSessionWriter(store),
		metrics.WithSessionBuffer(cfg.SessionBuffer),
	)

	deps := strategy.Deps{
		Fetcher: strategy.NewFetcher(&http.Client{Timeout: cfg.MaxStepTimeout()}, strategy.FetcherConfig{
			UserAgent:      cfg.UserAgent,
			RequestsPerSec: cfg.RequestsPerSecond,
			Burst:          cfg.RateBurst,
		}),
		Dictionary:    dict,
		Detector:      catalog,
		GreenhouseAPI: cfg.GreenhouseAPIURL,
		LeverAPI:      cfg.LeverAPIURL,
	}
	if cfg.DisableHeadless {
		logrus.Info("Headless browser disabled by configuration")
	} else {
		deps.Browser = strategy.NewBrowser(strategy.BrowserConfig{
			RemoteURL: cfg.ChromeURL,
			Bin:       cfg.ChromeBin,
			NoSandbox: cfg.ChromeNoSandbox,
		})
	}

	strategies, err := strategy.Build(cfg.Strategies, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build strategies: %w", err)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies enabled")
	}

	pl := planner.New(catalog, planner.Config{
		MaxStepTimeout: cfg.MaxStepTimeout(),
		ComplexDomains: cfg.ComplexDomains,
	})

	eng := engine.New(engine.Config{
		GlobalTimeout:         cfg.GlobalTimeout(),
		MaxAttempts:           cfg.MaxAttempts,
		RetryDelay:            cfg.RetryDelay(),
		MaxRetryDelay:         cfg.MaxRetryDelay(),
		FastTrackMinRate:      cfg.FastTrackMinRate,
		FastTrackMinSuccesses: cfg.FastTrackMinSuccesses,
		ReprofileAfter:        cfg.ReprofileAfter(),
		SnapshotLength:        cfg.SnapshotLength,
	}, strategies, profiles, pl, validator.New(dict, cfg.MinContentLength),
		engine.WithCache(cache),
		engine.WithDetector(catalog),
		engine.WithRecorder(tracker),
		engine.WithSessionSink(tracker),
	)

	names := make([]string, 0, len(strategies))
	for _, info := range eng.Strategies() {
		names = append(names, info.Name)
	}
	logrus.Infof("Engine ready: strategies=%v, timeout=%v, attempts=%d, profiles=%d",
		names, cfg.GlobalTimeout(), cfg.MaxAttempts, profiles.Len())

	return &app{
		cfg:          cfg,
		store:        store,
		cache:        cache,
		profiles:     profiles,
		tracker:      tracker,
		engine:       eng,
		stopProgress: make(chan struct{}),
	}, nil
}

func loadCatalog(path string) (*platform.Catalog, error) {
	if path == "" {
		return platform.Default()
	}
	logrus.Infof("Loading platform catalog from %s", path)
	return platform.LoadFile(path)
}

func loadDictionary(path string) (*dictionary.Dictionary, error) {
	if path == "" {
		return dictionary.Default()
	}
	logrus.Infof("Loading dictionary from %s", path)
	return dictionary.LoadFile(path)
}

// startProgress logs the metrics line, plus extra when set, every
// progress interval until shutdown
func (a *app) startProgress(extra func() string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.cfg.ProgressInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				line := a.tracker.LogProgress()
				if extra != nil {
					line = extra() + " | " + line
				}
				logrus.Info(line)
			case <-a.stopProgress:
				return
			}
		}
	}()
}

// watchSignals returns the channel receiving the first SIGINT/SIGTERM. A
// second signal saves what it can and exits immediately.
func (a *app) watchSignals() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Handle force quit on second signal
	forceQuitChan := make(chan os.Signal, 1)
	signal.Notify(forceQuitChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-forceQuitChan        // First signal (consumed by main handler)
		sig := <-forceQuitChan // Second signal = force quit
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		logrus.Warn("Attempting emergency save...")

		if err := a.profiles.Flush(a.store); err != nil {
			logrus.Errorf("Emergency profile flush failed: %v", err)
		} else {
			logrus.Info("Emergency profile flush succeeded")
		}

		if err := a.tracker.WriteToFile(a.cfg.MetricsPath, "forced_exit"); err != nil {
			logrus.Errorf("Emergency metrics save failed: %v", err)
		}
		os.Exit(1)
	}()

	return sigChan
}

// shutdown runs the numbered graceful shutdown; stop ends the command's
// own intake (batch queue, HTTP listener) and may be nil
func (a *app) shutdown(reason string, stop func()) {
	logrus.Info("Initiating graceful shutdown...")
	logrus.Info("Step 1/5: Stopping intake...")
	if stop != nil {
		stop()
	}

	logrus.Info("Step 2/5: Waiting for background goroutines...")
	a.stopOnce.Do(func() { close(a.stopProgress) })

	bgDone := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(bgDone)
	}()

	select {
	case <-bgDone:
		logrus.Info("All background tasks completed")
	case <-time.After(5 * time.Second):
		logrus.Warn("Background tasks timeout (5s), continuing with shutdown")
	}

	logrus.Info("Step 3/5: Flushing domain profiles to database...")
	if err := a.profiles.Flush(a.store); err != nil {
		logrus.Errorf("Failed to flush profiles: %v", err)
	} else {
		logrus.Info("Domain profiles flushed successfully")
	}

	logrus.Info("Step 4/5: Writing final metrics...")
	logrus.Info("Final stats: " + a.tracker.LogProgress())
	if err := a.tracker.WriteToFile(a.cfg.MetricsPath, reason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", a.cfg.MetricsPath)
	}

	logrus.Info("Step 5/5: Closing browser and database connection...")
	if err := a.engine.Close(); err != nil {
		logrus.Errorf("Failed to release strategies: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logrus.Errorf("Failed to close database: %v", err)
	}

	logrus.Info("Graceful shutdown complete. Goodbye!")
}
