package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedStatus struct {
	mu     sync.Mutex
	script []entity.ScanStatus
	// stamps, when set, gives the write time of each scripted status.
	stamps []time.Time
	errs   []error
	calls  int
}

func (s *scriptedStatus) Status(_ context.Context, _ string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Snapshot{}, s.errs[i]
	}
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	snap := Snapshot{Status: s.script[i]}
	if i < len(s.stamps) {
		snap.UpdatedAt = s.stamps[i]
	}
	return snap, nil
}

type staticSurfaces struct {
	rows []entity.DetectedSurface
	err  error
}

func (s staticSurfaces) Surfaces(_ context.Context, _ string) ([]entity.DetectedSurface, error) {
	return s.rows, s.err
}

func newTestPoller(status StatusSource, surfaces SurfaceSource) *Poller {
	p := New(status, surfaces, zap.NewNop())
	p.Interval = 5 * time.Millisecond
	p.MaxWait = time.Second
	return p
}

func TestPoll_ReturnsSurfacesWhenReady(t *testing.T) {
	status := &scriptedStatus{script: []entity.ScanStatus{entity.Scanning(), entity.Scanning(), entity.Ready(1)}}
	rows := []entity.DetectedSurface{{ID: "s1", VideoID: "v1", SurfaceType: "Desk", Confidence: 0.9}}

	res, err := newTestPoller(status, staticSurfaces{rows: rows}).Poll(context.Background(), "v1")

	require.NoError(t, err)
	assert.Equal(t, entity.Ready(1), res.Status)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, rows, res.Surfaces)
}

func TestPoll_TerminalWithoutSurfaces(t *testing.T) {
	for _, final := range []entity.ScanStatus{entity.NoSurfacesRetry(), entity.ScanFailed()} {
		status := &scriptedStatus{script: []entity.ScanStatus{entity.PendingScan(), final}}

		res, err := newTestPoller(status, staticSurfaces{err: errors.New("must not be called")}).Poll(context.Background(), "v1")

		require.NoError(t, err)
		assert.Equal(t, final, res.Status)
		assert.Empty(t, res.Surfaces)
	}
}

func TestPollSince_SkipsTerminalStatusOfEarlierScan(t *testing.T) {
	before := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := &scriptedStatus{
		script: []entity.ScanStatus{entity.Ready(3), entity.Ready(3), entity.Scanning(), entity.Ready(2)},
		stamps: []time.Time{before, before, before.Add(time.Second), before.Add(2 * time.Second)},
	}
	rows := []entity.DetectedSurface{{ID: "new-1"}, {ID: "new-2"}}

	res, err := newTestPoller(status, staticSurfaces{rows: rows}).PollSince(context.Background(), "v1", before)

	require.NoError(t, err)
	assert.Equal(t, entity.Ready(2), res.Status)
	assert.Equal(t, 4, res.Polls)
	assert.Equal(t, rows, res.Surfaces)
}

func TestPollSince_AcceptsSameStatusFromNewerScan(t *testing.T) {
	before := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := &scriptedStatus{
		script: []entity.ScanStatus{entity.NoSurfacesRetry(), entity.NoSurfacesRetry()},
		stamps: []time.Time{before, before.Add(time.Millisecond)},
	}

	res, err := newTestPoller(status, nil).PollSince(context.Background(), "v1", before)

	require.NoError(t, err)
	assert.Equal(t, entity.NoSurfacesRetry(), res.Status)
	assert.Equal(t, 2, res.Polls)
}

func TestPollSince_GivesUpWhenOnlyTheEarlierScanIsSeen(t *testing.T) {
	before := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := &scriptedStatus{
		script: []entity.ScanStatus{entity.Ready(3)},
		stamps: []time.Time{before},
	}
	p := newTestPoller(status, staticSurfaces{err: errors.New("must not be called")})
	p.MaxWait = 30 * time.Millisecond

	_, err := p.PollSince(context.Background(), "v1", before)

	require.ErrorIs(t, err, ErrGaveUp)
}

func TestPoll_GivesUpAfterMaxWait(t *testing.T) {
	status := &scriptedStatus{script: []entity.ScanStatus{entity.Scanning()}}
	p := newTestPoller(status, nil)
	p.MaxWait = 30 * time.Millisecond

	res, err := p.Poll(context.Background(), "v1")

	require.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, entity.Scanning(), res.Status)
	assert.Greater(t, res.Polls, 1)
}

func TestPoll_RetriesTransientReadErrors(t *testing.T) {
	status := &scriptedStatus{
		script: []entity.ScanStatus{entity.Scanning(), entity.Scanning(), entity.NoSurfacesRetry()},
		errs:   []error{errors.New("connection reset"), nil, nil},
	}

	res, err := newTestPoller(status, nil).Poll(context.Background(), "v1")

	require.NoError(t, err)
	assert.Equal(t, entity.NoSurfacesRetry(), res.Status)
	assert.Equal(t, 3, res.Polls)
}

func TestPoll_UnknownVideoStops(t *testing.T) {
	status := &scriptedStatus{
		script: []entity.ScanStatus{entity.Scanning()},
		errs:   []error{entity.ErrVideoNotFound},
	}

	_, err := newTestPoller(status, nil).Poll(context.Background(), "missing")

	require.ErrorIs(t, err, entity.ErrVideoNotFound)
	assert.Equal(t, 1, status.calls)
}

func TestPoll_ContextCancelled(t *testing.T) {
	status := &scriptedStatus{script: []entity.ScanStatus{entity.Scanning()}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestPoller(status, nil).Poll(ctx, "v1")

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPSource_RoundTrip(t *testing.T) {
	var (
		mu    sync.Mutex
		polls int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/video-scan/v1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"jobStarted": true, "jobId": "job-1"})
	})
	mux.HandleFunc("/video/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		polls++
		status := "Scanning"
		if polls >= 2 {
			status = "Ready (2 Spots)"
		}
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"videoId": "v1", "status": status, "updatedAt": "2026-03-01T12:00:05.123456Z"})
	})
	mux.HandleFunc("/video/v1/surfaces", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count": 2,
			"surfaces": []map[string]any{
				{"id": "a", "videoId": "v1", "timestamp": 0, "surfaceType": "Desk", "confidence": 0.9,
					"boundingBox": map[string]float64{"x": 0.1, "y": 0.1, "width": 0.5, "height": 0.5}},
				{"id": "b", "videoId": "v1", "timestamp": 3, "surfaceType": "Shelf", "confidence": 0.7,
					"boundingBox": map[string]float64{"x": 0, "y": 0, "width": 0.25, "height": 0.25}},
			},
		})
	})
	mux.HandleFunc("/video/missing/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "video not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", "tok", time.Second)

	jobID, started, err := src.RequestScan(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, "job-1", jobID)

	res, err := newTestPoller(src, src).Poll(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, entity.Ready(2), res.Status)
	require.Len(t, res.Surfaces, 2)
	assert.Equal(t, "Shelf", res.Surfaces[1].SurfaceType)
	assert.InDelta(t, 0.25, res.Surfaces[1].BoundingBox.Width, 1e-9)

	snap, err := src.Status(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 3, 1, 12, 0, 5, 123456000, time.UTC).Equal(snap.UpdatedAt), snap.UpdatedAt)

	_, err = src.Status(context.Background(), "missing")
	require.ErrorIs(t, err, entity.ErrVideoNotFound)
}
