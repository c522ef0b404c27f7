package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("surfaces"),
		tcpostgres.WithUsername("scan_user"),
		tcpostgres.WithPassword("scan_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(connStr))
	// Second run is a no-op.
	require.NoError(t, RunMigrations(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func ptr(f float64) *float64 { return &f }

func newSurface(videoID string, ts float64, kind string) entity.DetectedSurface {
	return entity.DetectedSurface{
		ID:          uuid.NewString(),
		VideoID:     videoID,
		Timestamp:   ts,
		SurfaceType: kind,
		Confidence:  0.8,
		BoundingBox: entity.BoundingBox{X: 0.1, Y: 0.2, Width: 0.5, Height: 0.5},
		CreatedAt:   time.Now().UTC(),
	}
}

func TestRepositoriesAgainstPostgres(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	videos := NewVideoRepository(pool)
	surfaces := NewSurfaceRepository(pool)

	require.NoError(t, videos.UpsertVideo(ctx, entity.VideoAsset{ID: "low", SourceRef: "/v/low.mp4", Priority: ptr(1)}))
	require.NoError(t, videos.UpsertVideo(ctx, entity.VideoAsset{ID: "high", SourceRef: "/v/high.mp4", Priority: ptr(10)}))
	require.NoError(t, videos.UpsertVideo(ctx, entity.VideoAsset{ID: "none", SourceRef: "/v/none.mp4"}))
	require.NoError(t, videos.UpsertVideo(ctx, entity.VideoAsset{ID: "done", SourceRef: "/v/done.mp4", Status: entity.Ready(3)}))

	t.Run("list pending by priority", func(t *testing.T) {
		pending, err := videos.ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, "high", pending[0].ID)
		assert.Equal(t, "low", pending[1].ID)
		assert.Equal(t, "none", pending[2].ID)
		assert.Nil(t, pending[2].Priority)

		pending, err = videos.ListPending(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("status round trip", func(t *testing.T) {
		v, err := videos.FindVideo(ctx, "done")
		require.NoError(t, err)
		assert.Equal(t, entity.Ready(3), v.Status)

		require.NoError(t, videos.UpdateStatus(ctx, "low", entity.Scanning()))
		v, err = videos.FindVideo(ctx, "low")
		require.NoError(t, err)
		assert.Equal(t, entity.Scanning(), v.Status)
	})

	t.Run("unknown video", func(t *testing.T) {
		_, err := videos.FindVideo(ctx, "missing")
		assert.True(t, errors.Is(err, entity.ErrVideoNotFound))
		assert.True(t, errors.Is(videos.UpdateStatus(ctx, "missing", entity.Scanning()), entity.ErrVideoNotFound))
		_, err = surfaces.CommitScan(ctx, "missing", nil)
		assert.True(t, errors.Is(err, entity.ErrVideoNotFound))
	})

	t.Run("commit replaces surfaces atomically", func(t *testing.T) {
		first := []entity.DetectedSurface{newSurface("high", 6, "Desk"), newSurface("high", 2, "Wall")}
		status, err := surfaces.CommitScan(ctx, "high", first)
		require.NoError(t, err)
		assert.Equal(t, entity.Ready(2), status)

		rows, err := surfaces.ListSurfaces(ctx, "high")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, 2.0, rows[0].Timestamp)
		assert.Equal(t, first[1].ID, rows[0].ID)

		bad := newSurface("high", 9, "Cup")
		bad.BoundingBox.Width = 0.95
		_, err = surfaces.CommitScan(ctx, "high", []entity.DetectedSurface{newSurface("high", 1, "Desk"), bad})
		require.Error(t, err)

		rows, err = surfaces.ListSurfaces(ctx, "high")
		require.NoError(t, err)
		assert.Len(t, rows, 2, "failed commit must leave the previous set intact")
		v, _ := videos.FindVideo(ctx, "high")
		assert.Equal(t, entity.Ready(2), v.Status)

		status, err = surfaces.CommitScan(ctx, "high", nil)
		require.NoError(t, err)
		assert.Equal(t, entity.NoSurfacesRetry(), status)
		rows, err = surfaces.ListSurfaces(ctx, "high")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("frame url persisted", func(t *testing.T) {
		s := newSurface("none", 3, "Monitor")
		url := "http://frames/none/3.000.png"
		s.FrameURL = &url
		_, err := surfaces.CommitScan(ctx, "none", []entity.DetectedSurface{s})
		require.NoError(t, err)

		rows, err := surfaces.ListSurfaces(ctx, "none")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.NotNil(t, rows[0].FrameURL)
		assert.Equal(t, url, *rows[0].FrameURL)
	})
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://u:p@h/db", migrateURL("postgresql://u:p@h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}
