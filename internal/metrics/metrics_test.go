package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/career-weaver/internal/scrape"
	"github.com/alvmarrod/career-weaver/internal/storage"
)

type memoryWriter struct {
	sessions []*scrape.Session
	err      error
}

func (w *memoryWriter) InsertSession(_ context.Context, s *scrape.Session) error {
	if w.err != nil {
		return w.err
	}
	w.sessions = append(w.sessions, s)
	return nil
}

func TestStepCounters(t *testing.T) {
	tr := NewTracker()

	tr.RecordStart("example.com", "static-html")
	tr.RecordError("example.com", "static-html", scrape.KindTimeout, 300*time.Millisecond, context.DeadlineExceeded)
	tr.RecordStart("example.com", "headless-browser")
	tr.RecordSuccess("example.com", "headless-browser", 900*time.Millisecond, 4)

	snap := tr.GetSnapshot()
	assert.Equal(t, 2, snap.StepsStarted)
	assert.Equal(t, 1, snap.StepsSucceeded)
	assert.Equal(t, 1, snap.StepsFailed)
	assert.Equal(t, int64(1200), snap.TotalStepTimeMs)
	assert.Equal(t, int64(600), snap.AvgStepTimeMs)
	assert.Equal(t, map[string]int{scrape.KindTimeout: 1}, snap.ErrorKinds)

	require.Len(t, snap.Strategies, 2)
	assert.Equal(t, "headless-browser", snap.Strategies[0].Strategy)
	assert.Equal(t, int64(900), snap.Strategies[0].AvgMs)
	assert.Equal(t, 1, snap.Strategies[1].ErrorKinds[scrape.KindTimeout])

	// Snapshots are copies
	snap.ErrorKinds["x"] = 1
	assert.NotContains(t, tr.GetSnapshot().ErrorKinds, "x")
}

func TestRecordSession(t *testing.T) {
	w := &memoryWriter{}
	tr := NewTracker(WithSessionWriter(w), WithSessionBuffer(2))
	ctx := context.Background()

	for i, status := range []scrape.Status{scrape.StatusOK, scrape.StatusDegraded, scrape.StatusFailed} {
		require.NoError(t, tr.RecordSession(ctx, &scrape.Session{
			ID:        fmt.Sprintf("s%d", i),
			Status:    status,
			FromCache: i == 0,
		}))
	}
	require.NoError(t, tr.RecordSession(ctx, nil))

	snap := tr.GetSnapshot()
	assert.Equal(t, 3, snap.Calls)
	assert.Equal(t, 1, snap.CallsOK)
	assert.Equal(t, 1, snap.CallsDegraded)
	assert.Equal(t, 1, snap.CallsFailed)
	assert.Equal(t, 1, snap.CacheHits)

	recent := tr.RecentSessions()
	require.Len(t, recent, 2, "ring keeps the newest")
	assert.Equal(t, "s2", recent[0].ID)
	assert.Equal(t, "s1", recent[1].ID)
	assert.Len(t, w.sessions, 3)

	w.err = errors.New("disk full")
	assert.Error(t, tr.RecordSession(ctx, &scrape.Session{ID: "s3", Status: scrape.StatusOK}))
	assert.Equal(t, 4, tr.GetSnapshot().Calls, "counted even when persistence fails")
}

func TestWriteToFile(t *testing.T) {
	tr := NewTracker()
	tr.RecordStart("example.com", "static-html")
	tr.RecordSuccess("example.com", "static-html", 100*time.Millisecond, 1)

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, tr.WriteToFile(path, "completed"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var m storage.Metrics
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "completed", m.TerminationReason)
	assert.Equal(t, 1, m.StepsSucceeded)
	assert.False(t, m.EndTime.IsZero())
}

func TestLogProgress(t *testing.T) {
	tr := NewTracker()
	tr.RecordStart("example.com", "static-html")
	assert.Contains(t, tr.LogProgress(), "Steps: 1 started")
}
