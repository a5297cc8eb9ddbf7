package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/career-weaver/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scrape engine over HTTP",
	Long: `Serve the scrape engine over HTTP:

  GET    /scrape?url=...&lang=&timeout_ms=&skip_profiling=&platform=
  GET    /profiles/{domain}
  DELETE /profiles/{domain}
  DELETE /cache?url=...
  GET    /metrics
  GET    /sessions
  GET    /healthz`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewServer(a.engine, a.profiles,
			api.WithMetrics(a.tracker),
			api.WithProfileDeleter(a.store),
			api.WithCache(a.cache),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := a.watchSignals()
	a.startProgress(nil)

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("Listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var terminationReason string
	select {
	case sig := <-sigChan:
		logrus.Infof("Received signal: %v", sig)
		terminationReason = "signal"
	case err = <-serveErr:
		logrus.Errorf("HTTP server failed: %v", err)
		terminationReason = "server_error"
	}

	// In-flight requests get the global timeout to finish
	a.shutdown(terminationReason, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.GlobalTimeout())
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logrus.Warnf("HTTP server shutdown: %v", err)
		}
	})
	return err
}
