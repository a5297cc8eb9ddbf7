package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/career-weaver/internal/scrape"
)

// callFlags are the per-call options shared by scrape and batch
type callFlags struct {
	lang          string
	query         string
	platform      string
	timeout       time.Duration
	skipProfiling bool
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.lang, "lang", "", "page language (en, fr, de, es, ...), auto when empty")
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "search query hint")
	cmd.Flags().StringVar(&f.platform, "platform", "", "force a platform instead of detecting it")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-call timeout (default from config)")
	cmd.Flags().BoolVar(&f.skipProfiling, "skip-profiling", false, "ignore the domain history")
}

func (f *callFlags) options() scrape.Options {
	return scrape.Options{
		Language:        f.lang,
		SearchQuery:     f.query,
		SpecialPlatform: f.platform,
		Timeout:         f.timeout,
		SkipProfiling:   f.skipProfiling,
	}
}

var scrapeFlags callFlags

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Scrape one career page and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runScrape,
}

func init() {
	scrapeFlags.register(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := a.watchSignals()
	go func() {
		select {
		case sig := <-sigChan:
			logrus.Infof("Received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	res := a.engine.Scrape(ctx, args[0], scrapeFlags.options())
	reason := "completed"
	if ctx.Err() != nil {
		reason = "signal"
	}
	a.shutdown(reason, nil)

	if err := writeResult(os.Stdout, res); err != nil {
		return err
	}
	if res.Status == scrape.StatusFailed {
		return fmt.Errorf("scrape failed: %s", res.StatusReason)
	}
	return nil
}

func writeResult(w io.Writer, res *scrape.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
