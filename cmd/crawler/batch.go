package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/career-weaver/internal/crawler"
	"github.com/alvmarrod/career-weaver/internal/scrape"
)

var (
	batchFlags  callFlags
	batchInput  string
	batchOutput string
)

var batchCmd = &cobra.Command{
	Use:   "batch [urls...]",
	Short: "Scrape many career pages, writing one JSON result per line",
	Long: `Scrape every URL given as argument or listed in --input (one per line,
'#' starts a comment). Aggregators and social networks are skipped, as are
duplicates and hosts past the per-domain limit. Results are written as JSON
lines to --output, or stdout.`,
	RunE: runBatch,
}

func init() {
	batchFlags.register(batchCmd)
	batchCmd.Flags().StringVarP(&batchInput, "input", "i", "", "file with one URL per line")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "JSON lines output file (default stdout)")
}

// readURLs reads one URL per line, skipping blanks and comments
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}
	return urls, nil
}

// outcomeLine is one line of batch output
type outcomeLine struct {
	URL     string         `json:"url"`
	Skipped string         `json:"skipped,omitempty"`
	Result  *scrape.Result `json:"result,omitempty"`
}

// lineWriter serialises outcomes from concurrent scrapes
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) write(o crawler.Outcome) {
	line := outcomeLine{URL: o.URL, Skipped: o.Skipped, Result: o.Result}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(line); err != nil {
		logrus.Errorf("Failed to write result for %s: %v", o.URL, err)
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	urls := append([]string(nil), args...)
	if batchInput != "" {
		f, err := os.Open(batchInput)
		if err != nil {
			return fmt.Errorf("failed to open URL list: %w", err)
		}
		listed, err := readURLs(f)
		f.Close()
		if err != nil {
			return err
		}
		urls = append(urls, listed...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given")
	}

	out := os.Stdout
	if batchOutput != "" {
		f, err := os.Create(batchOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	writer := &lineWriter{enc: json.NewEncoder(out)}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	c := crawler.NewCrawler(crawler.Config{
		Concurrency:          cfg.Concurrency,
		BatchDelay:           cfg.BatchDelay(),
		MaxSubdomainsPerRoot: cfg.MaxSubdomainsPerRoot,
		Options:              batchFlags.options(),
	}, a.engine, func(o crawler.Outcome, p crawler.Progress) {
		writer.write(o)
		if o.Result != nil {
			logrus.Infof("[%d/%d] %s: %s via %s (%d job links)",
				p.Done, p.Queued, o.URL, o.Result.Status, o.Result.Method, len(o.Result.JobLinks()))
		}
	})

	for _, o := range c.EnqueueAll(urls) {
		writer.write(o)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Setup signal handler for graceful shutdown
	sigChan := a.watchSignals()
	a.startProgress(c.LogProgress)

	// Monitor the batch for natural termination
	batchDone := make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(batchDone)
		c.Run(ctx)
	}()

	// Wait for signal or natural completion
	var terminationReason string
	select {
	case sig := <-sigChan:
		logrus.Infof("Received signal: %v", sig)
		terminationReason = "signal"
	case <-batchDone:
		terminationReason = "batch_complete"
	}

	// In-flight scrapes end on cancellation and are reported as such
	a.shutdown(terminationReason, func() {
		c.Stop()
		cancel()
	})

	if pending := c.Pending(); len(pending) > 0 {
		logrus.Warnf("%d URLs left unscraped: %v", len(pending), pending)
	}
	logrus.Info(c.LogProgress())
	return nil
}
