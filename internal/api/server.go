// Package api exposes the scrape engine and its learned state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/memory"
	"github.com/alvmarrod/career-weaver/internal/scrape"
	"github.com/alvmarrod/career-weaver/internal/storage"
	"github.com/alvmarrod/career-weaver/internal/version"
)

// Scraper runs one scrape call
type Scraper interface {
	Scrape(ctx context.Context, url string, opts scrape.Options) *scrape.Result
	Strategies() []scrape.Info
}

// Metrics exposes run telemetry
type Metrics interface {
	GetSnapshot() storage.Metrics
	RecentSessions() []*scrape.Session
}

// ProfileDeleter removes persisted profiles
type ProfileDeleter interface {
	DeleteProfile(domain string) error
}

// CacheInvalidator drops cached results
type CacheInvalidator interface {
	Invalidate(ctx context.Context, url string) error
}

// Server serves the HTTP API
type Server struct {
	scraper  Scraper
	profiles memory.Store
	metrics  Metrics
	deleter  ProfileDeleter
	cache    CacheInvalidator
	router   chi.Router
}

// Option configures a Server
type Option func(*Server)

// WithMetrics enables GET /metrics and GET /sessions
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithProfileDeleter also deletes persisted profiles on DELETE /profiles
func WithProfileDeleter(d ProfileDeleter) Option {
	return func(s *Server) { s.deleter = d }
}

// WithCache enables DELETE /cache
func WithCache(c CacheInvalidator) Option {
	return func(s *Server) { s.cache = c }
}

// NewServer builds the router
func NewServer(sc Scraper, profiles memory.Store, opts ...Option) *Server {
	s := &Server{scraper: sc, profiles: profiles}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/scrape", s.handleScrape)
	r.Get("/profiles/{domain}", s.handleGetProfile)
	r.Delete("/profiles/{domain}", s.handleDeleteProfile)
	if s.metrics != nil {
		r.Get("/metrics", s.handleMetrics)
		r.Get("/sessions", s.handleSessions)
	}
	if s.cache != nil {
		r.Delete("/cache", s.handleInvalidate)
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0)
	for _, info := range s.scraper.Strategies() {
		names = append(names, info.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    version.Version,
		"strategies": names,
	})
}

// handleScrape runs a call with the request context, so a client
// disconnect cancels it
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	opts := scrape.Options{
		Language:        q.Get("lang"),
		SearchQuery:     q.Get("q"),
		SpecialPlatform: q.Get("platform"),
	}
	if v := q.Get("skip_profiling"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "skip_profiling must be a boolean")
			return
		}
		opts.SkipProfiling = b
	}
	if v := q.Get("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			writeError(w, http.StatusBadRequest, "timeout_ms must be a positive integer")
			return
		}
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}

	res := s.scraper.Scrape(r.Context(), target, opts)
	status := http.StatusOK
	if res.StatusReason == scrape.ReasonInvalidURL {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	p, ok := s.profiles.Get(domain)
	if !ok {
		writeError(w, http.StatusNotFound, "no profile for "+domain)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	s.profiles.Reset(domain)
	if s.deleter != nil {
		if err := s.deleter.DeleteProfile(domain); err != nil {
			logrus.Errorf("Failed to delete stored profile %s: %v", domain, err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetSnapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.RecentSessions())
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	if err := s.cache.Invalidate(r.Context(), target); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request through logrus
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Info("HTTP request")
	})
}
