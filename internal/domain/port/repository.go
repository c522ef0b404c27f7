package port

import (
	"context"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

type VideoReader interface {
	FindVideo(ctx context.Context, id string) (*entity.VideoAsset, error)
}

type VideoRepository interface {
	VideoReader
	UpdateStatus(ctx context.Context, id string, status entity.ScanStatus) error
	// ListPending returns up to limit videos in PendingScan, highest priority first.
	ListPending(ctx context.Context, limit int) ([]entity.VideoAsset, error)
}

type SurfaceReader interface {
	// ListSurfaces returns the persisted surfaces ordered by timestamp ascending.
	ListSurfaces(ctx context.Context, videoID string) ([]entity.DetectedSurface, error)
}

type SurfaceRepository interface {
	SurfaceReader
	// CommitScan atomically replaces the video's surface set and writes the
	// derived terminal status. Nothing is written if ctx ends before commit.
	CommitScan(ctx context.Context, videoID string, surfaces []entity.DetectedSurface) (entity.ScanStatus, error)
}
