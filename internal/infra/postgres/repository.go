package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

type VideoRepository struct {
	pool *pgxpool.Pool
}

func NewVideoRepository(pool *pgxpool.Pool) *VideoRepository {
	return &VideoRepository{pool: pool}
}

// UpsertVideo registers a video in the catalog. Used by seeding and tests;
// the video library owns this table in production.
func (r *VideoRepository) UpsertVideo(ctx context.Context, v entity.VideoAsset) error {
	if v.Status.Kind == "" {
		v.Status = entity.PendingScan()
	}
	query := `
		INSERT INTO videos (id, source_ref, duration_seconds, priority, status, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id) DO UPDATE SET
			source_ref=EXCLUDED.source_ref,
			duration_seconds=EXCLUDED.duration_seconds,
			priority=EXCLUDED.priority,
			status=EXCLUDED.status,
			updated_at=now()`

	_, err := r.pool.Exec(ctx, query, v.ID, v.SourceRef, v.DurationSeconds, v.Priority, v.Status.String())
	if err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	return nil
}

func (r *VideoRepository) FindVideo(ctx context.Context, id string) (*entity.VideoAsset, error) {
	query := `
		SELECT id, source_ref, duration_seconds, priority, status, updated_at
		FROM videos WHERE id=$1`

	v, err := scanVideo(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entity.ErrVideoNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find video by id: %w", err)
	}
	return v, nil
}

func (r *VideoRepository) UpdateStatus(ctx context.Context, id string, status entity.ScanStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE videos SET status=$2, updated_at=now() WHERE id=$1`,
		id, status.String(),
	)
	if err != nil {
		return fmt.Errorf("update video status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", entity.ErrVideoNotFound, id)
	}
	return nil
}

func (r *VideoRepository) ListPending(ctx context.Context, limit int) ([]entity.VideoAsset, error) {
	query := `
		SELECT id, source_ref, duration_seconds, priority, status, updated_at
		FROM videos
		WHERE status=$1
		ORDER BY priority DESC NULLS LAST, id
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, entity.PendingScan().String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending videos: %w", err)
	}
	defer rows.Close()

	var out []entity.VideoAsset
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending video: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *VideoRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanVideo(row pgx.Row) (*entity.VideoAsset, error) {
	v := &entity.VideoAsset{}
	var status string
	if err := row.Scan(&v.ID, &v.SourceRef, &v.DurationSeconds, &v.Priority, &status, &v.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := entity.ParseScanStatus(status)
	if err != nil {
		return nil, err
	}
	v.Status = parsed
	return v, nil
}

type SurfaceRepository struct {
	pool *pgxpool.Pool
}

func NewSurfaceRepository(pool *pgxpool.Pool) *SurfaceRepository {
	return &SurfaceRepository{pool: pool}
}

func (r *SurfaceRepository) ListSurfaces(ctx context.Context, videoID string) ([]entity.DetectedSurface, error) {
	query := `
		SELECT id::text, video_id, "timestamp", surface_type, confidence,
			bounding_box_x, bounding_box_y, bounding_box_width, bounding_box_height,
			frame_url, created_at
		FROM detected_surfaces
		WHERE video_id=$1
		ORDER BY "timestamp", surface_type, confidence DESC`

	rows, err := r.pool.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("list surfaces: %w", err)
	}
	defer rows.Close()

	out := []entity.DetectedSurface{}
	for rows.Next() {
		var s entity.DetectedSurface
		if err := rows.Scan(
			&s.ID, &s.VideoID, &s.Timestamp, &s.SurfaceType, &s.Confidence,
			&s.BoundingBox.X, &s.BoundingBox.Y, &s.BoundingBox.Width, &s.BoundingBox.Height,
			&s.FrameURL, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan surface: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CommitScan replaces the video's surfaces and sets the derived status in a
// single transaction.
func (r *SurfaceRepository) CommitScan(ctx context.Context, videoID string, surfaces []entity.DetectedSurface) (entity.ScanStatus, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return entity.ScanStatus{}, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM detected_surfaces WHERE video_id=$1`, videoID); err != nil {
		return entity.ScanStatus{}, fmt.Errorf("delete previous surfaces: %w", err)
	}

	if len(surfaces) > 0 {
		insert := `
			INSERT INTO detected_surfaces (
				id, video_id, "timestamp", surface_type, confidence,
				bounding_box_x, bounding_box_y, bounding_box_width, bounding_box_height,
				frame_url, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

		batch := &pgx.Batch{}
		for _, s := range surfaces {
			id, err := uuid.Parse(s.ID)
			if err != nil {
				return entity.ScanStatus{}, fmt.Errorf("surface id %q: %w", s.ID, err)
			}
			created := s.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			batch.Queue(insert,
				id, videoID, s.Timestamp, s.SurfaceType, s.Confidence,
				s.BoundingBox.X, s.BoundingBox.Y, s.BoundingBox.Width, s.BoundingBox.Height,
				s.FrameURL, created,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return entity.ScanStatus{}, fmt.Errorf("insert surfaces: %w", err)
		}
	}

	status := entity.Ready(len(surfaces))
	tag, err := tx.Exec(ctx, `UPDATE videos SET status=$2, updated_at=now() WHERE id=$1`, videoID, status.String())
	if err != nil {
		return entity.ScanStatus{}, fmt.Errorf("update video status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ScanStatus{}, fmt.Errorf("%w: %s", entity.ErrVideoNotFound, videoID)
	}

	if err := tx.Commit(ctx); err != nil {
		return entity.ScanStatus{}, fmt.Errorf("commit surfaces: %w", err)
	}
	return status, nil
}
