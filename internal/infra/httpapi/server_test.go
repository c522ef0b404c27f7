package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/memstore"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/scheduler"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeScanner struct {
	jobID     uuid.UUID
	started   bool
	err       error
	batchArg  int
	cancelled map[string]bool
	requested []string
}

func (f *fakeScanner) RequestScan(_ context.Context, videoID string) (*scheduler.ScanJob, bool, error) {
	f.requested = append(f.requested, videoID)
	if f.err != nil {
		return nil, false, f.err
	}
	return &scheduler.ScanJob{ID: f.jobID, VideoID: videoID}, f.started, nil
}

func (f *fakeScanner) RequestBatchScan(_ context.Context, limit int) (int, error) {
	f.batchArg = limit
	return limit, f.err
}

func (f *fakeScanner) Cancel(videoID string) bool { return f.cancelled[videoID] }

func newTestApp(t *testing.T, scanner Scanner, secret string) (*fiber.App, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	reader := usecase.NewReadSurfacesUseCase(usecase.DataSource{Name: "live", Videos: store, Surfaces: store}, zap.NewNop())
	app := NewApp(NewHandlers(scanner, reader, zap.NewNop()), ServerConfig{JWTSecret: secret}, zap.NewNop())
	return app, store
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &out), string(body))
	}
	return resp.StatusCode, out
}

func TestRequestScan(t *testing.T) {
	id := uuid.New()
	app, _ := newTestApp(t, &fakeScanner{jobID: id, started: true}, "")

	code, body := do(t, app, httptest.NewRequest(http.MethodPost, "/video-scan/v1", nil))
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["jobStarted"])
	assert.Equal(t, id.String(), body["jobId"])
}

func TestRequestScanKeepsVideoIDAfterLaterRequests(t *testing.T) {
	scanner := &fakeScanner{jobID: uuid.New(), started: true}
	app, _ := newTestApp(t, scanner, "")

	do(t, app, httptest.NewRequest(http.MethodPost, "/video-scan/vid-aaaa", nil))
	do(t, app, httptest.NewRequest(http.MethodPost, "/video-scan/zzz-bbbb", nil))
	do(t, app, httptest.NewRequest(http.MethodGet, "/video/qqq-cccc/status", nil))

	assert.Equal(t, []string{"vid-aaaa", "zzz-bbbb"}, scanner.requested)
}

func TestRequestScanErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown video", entity.ErrVideoNotFound, http.StatusNotFound},
		{"queue full", entity.ErrQueueFull, http.StatusServiceUnavailable},
		{"stopped", scheduler.ErrStopped, http.StatusServiceUnavailable},
		{"other", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t, &fakeScanner{err: tt.err}, "")
			code, body := do(t, app, httptest.NewRequest(http.MethodPost, "/video-scan/v1", nil))
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestBatchScanValidation(t *testing.T) {
	scanner := &fakeScanner{}
	app, _ := newTestApp(t, scanner, "")

	code, body := do(t, app, httptest.NewRequest(http.MethodPost, "/video-scan/batch?limit=3", nil))
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, float64(3), body["enqueued"])
	assert.Equal(t, 3, scanner.batchArg)

	code, _ = do(t, app, httptest.NewRequest(http.MethodPost, "/video-scan/batch", nil))
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, defaultBatchLimit, scanner.batchArg)

	for _, q := range []string{"0", "101", "abc"} {
		code, body = do(t, app, httptest.NewRequest(http.MethodPost, "/video-scan/batch?limit="+q, nil))
		assert.Equal(t, http.StatusBadRequest, code, q)
		assert.NotEmpty(t, body["error"])
	}
}

func TestCancelScan(t *testing.T) {
	app, _ := newTestApp(t, &fakeScanner{cancelled: map[string]bool{"v1": true}}, "")

	code, body := do(t, app, httptest.NewRequest(http.MethodDelete, "/video-scan/v1", nil))
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["cancelled"])

	_, body = do(t, app, httptest.NewRequest(http.MethodDelete, "/video-scan/v2", nil))
	assert.Equal(t, false, body["cancelled"])
}

func TestSurfacesAndStatus(t *testing.T) {
	app, store := newTestApp(t, &fakeScanner{}, "")
	store.AddVideo(entity.VideoAsset{ID: "v1", Status: entity.Scanning()})

	code, body := do(t, app, httptest.NewRequest(http.MethodGet, "/video/v1/surfaces", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["surfaces"])
	assert.Equal(t, float64(0), body["count"])

	code, body = do(t, app, httptest.NewRequest(http.MethodGet, "/video/v1/status", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Scanning", body["status"])
	assert.Equal(t, false, body["terminal"])
	assert.NotEmpty(t, body["updatedAt"])

	_, err := store.CommitScan(context.Background(), "v1", []entity.DetectedSurface{{
		ID: uuid.NewString(), VideoID: "v1", Timestamp: 4, SurfaceType: "Desk", Confidence: 0.7,
		BoundingBox: entity.BoundingBox{X: 0.1, Y: 0.5, Width: 0.6, Height: 0.3},
	}})
	require.NoError(t, err)

	_, body = do(t, app, httptest.NewRequest(http.MethodGet, "/video/v1/surfaces", nil))
	assert.Equal(t, float64(1), body["count"])
	surfaces := body["surfaces"].([]any)
	require.Len(t, surfaces, 1)
	first := surfaces[0].(map[string]any)
	assert.Equal(t, "Desk", first["surfaceType"])
	assert.Contains(t, first, "boundingBox")

	_, body = do(t, app, httptest.NewRequest(http.MethodGet, "/video/v1/status", nil))
	assert.Equal(t, "Ready (1 Spots)", body["status"])
	assert.Equal(t, true, body["terminal"])
	assert.Equal(t, float64(1), body["count"])

	code, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/video/missing/status", nil))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	app, _ := newTestApp(t, &fakeScanner{jobID: uuid.New(), started: true}, secret)

	code, _ := do(t, app, httptest.NewRequest(http.MethodPost, "/video-scan/v1", nil))
	assert.Equal(t, http.StatusUnauthorized, code)

	bad := httptest.NewRequest(http.MethodPost, "/video-scan/v1", nil)
	bad.Header.Set("Authorization", "Bearer not-a-token")
	code, _ = do(t, app, bad)
	assert.Equal(t, http.StatusUnauthorized, code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "creator-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	ok := httptest.NewRequest(http.MethodPost, "/video-scan/v1", nil)
	ok.Header.Set("Authorization", "Bearer "+token)
	code, _ = do(t, app, ok)
	assert.Equal(t, http.StatusAccepted, code)

	// Read endpoints stay open.
	code, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, code)
}
