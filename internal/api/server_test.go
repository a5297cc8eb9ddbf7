package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/career-weaver/internal/memory"
	"github.com/alvmarrod/career-weaver/internal/scrape"
	"github.com/alvmarrod/career-weaver/internal/storage"
)

type stubScraper struct {
	gotURL  string
	gotOpts scrape.Options
}

func (s *stubScraper) Scrape(_ context.Context, url string, opts scrape.Options) *scrape.Result {
	s.gotURL, s.gotOpts = url, opts
	if url == "bad" {
		return &scrape.Result{URL: url, Status: scrape.StatusFailed, StatusReason: scrape.ReasonInvalidURL}
	}
	return &scrape.Result{URL: url, Title: "Careers", Method: "static-html", Status: scrape.StatusOK}
}

func (s *stubScraper) Strategies() []scrape.Info {
	return []scrape.Info{{Name: "greenhouse-api"}, {Name: "static-html"}}
}

type stubMetrics struct{}

func (stubMetrics) GetSnapshot() storage.Metrics {
	return storage.Metrics{Calls: 3, CallsOK: 2}
}

func (stubMetrics) RecentSessions() []*scrape.Session {
	return []*scrape.Session{{ID: "s1", URL: "https://acme.test"}}
}

type stubDeleter struct {
	deleted []string
	err     error
}

func (d *stubDeleter) DeleteProfile(domain string) error {
	d.deleted = append(d.deleted, domain)
	return d.err
}

type stubCache struct{ invalidated []string }

func (c *stubCache) Invalidate(_ context.Context, url string) error {
	c.invalidated = append(c.invalidated, url)
	return nil
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv := NewServer(&stubScraper{}, memory.NewProfileStore(10))

	rec := do(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string   `json:"status"`
		Strategies []string `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{"greenhouse-api", "static-html"}, body.Strategies)
}

func TestScrape(t *testing.T) {
	sc := &stubScraper{}
	srv := NewServer(sc, memory.NewProfileStore(10))

	rec := do(t, srv, http.MethodGet, "/scrape?url=https%3A%2F%2Facme.test%2Fcareers&lang=fr&timeout_ms=5000&skip_profiling=true&platform=lever")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res scrape.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, scrape.StatusOK, res.Status)
	assert.Equal(t, "https://acme.test/careers", sc.gotURL)
	assert.Equal(t, "fr", sc.gotOpts.Language)
	assert.Equal(t, 5*time.Second, sc.gotOpts.Timeout)
	assert.True(t, sc.gotOpts.SkipProfiling)
	assert.Equal(t, "lever", sc.gotOpts.SpecialPlatform)
}

func TestScrapeBadRequests(t *testing.T) {
	srv := NewServer(&stubScraper{}, memory.NewProfileStore(10))

	for _, target := range []string{
		"/scrape",
		"/scrape?url=x&timeout_ms=soon",
		"/scrape?url=x&timeout_ms=-1",
		"/scrape?url=x&skip_profiling=maybe",
		"/scrape?url=bad",
	} {
		assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, target).Code, target)
	}
}

func TestProfiles(t *testing.T) {
	profiles := memory.NewProfileStore(10)
	profiles.RecordSuccess("acme.test", "static-html", memory.Sample{TextLength: 300, Quality: 70})
	deleter := &stubDeleter{}
	srv := NewServer(&stubScraper{}, profiles, WithProfileDeleter(deleter))

	rec := do(t, srv, http.MethodGet, "/profiles/acme.test")
	require.Equal(t, http.StatusOK, rec.Code)
	var p memory.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "acme.test", p.Domain)
	assert.Equal(t, "static-html", p.LastSuccessfulStrategy)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/profiles/acme.test").Code)
	assert.Equal(t, []string{"acme.test"}, deleter.deleted)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/profiles/acme.test").Code)
}

func TestDeleteProfileStorageError(t *testing.T) {
	srv := NewServer(&stubScraper{}, memory.NewProfileStore(10), WithProfileDeleter(&stubDeleter{err: errors.New("locked")}))
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodDelete, "/profiles/acme.test").Code)
}

func TestMetricsAndSessions(t *testing.T) {
	srv := NewServer(&stubScraper{}, memory.NewProfileStore(10), WithMetrics(stubMetrics{}))

	rec := do(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	var m storage.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 3, m.Calls)

	rec = do(t, srv, http.MethodGet, "/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"s1"`)
}

func TestOptionalRoutesDisabled(t *testing.T) {
	srv := NewServer(&stubScraper{}, memory.NewProfileStore(10))
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodPost, "/healthz").Code)
}

func TestInvalidateCache(t *testing.T) {
	cache := &stubCache{}
	srv := NewServer(&stubScraper{}, memory.NewProfileStore(10), WithCache(cache))

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodDelete, "/cache").Code)
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/cache?url=https%3A%2F%2Facme.test").Code)
	assert.Equal(t, []string{"https://acme.test"}, cache.invalidated)
}
