package main

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/career-weaver/internal/config"
	"github.com/alvmarrod/career-weaver/internal/version"
)

const defaultConfigPath = "config.json"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "career-weaver",
	Short: "Adaptive scraper for company career pages",
	Long: `career-weaver extracts job listings from company career pages. Each
domain is learned over time: the strategy that worked last is tried first,
strategies that keep failing are skipped, and when everything fails a
minimum-quality result is cached so callers always get an answer.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "JSON config file (default ./config.json when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(scrapeCmd, batchCmd, serveCmd)
}

// loadConfig reads the config file and sets up logging
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logrus.SetLevel(cfg.Level())
	if path == "" {
		logrus.Info("No config file, using defaults")
	} else {
		logrus.Infof("Configuration loaded from %s", path)
	}
	return cfg, nil
}

func main() {
	// Configure logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("%v", err)
	}
}
