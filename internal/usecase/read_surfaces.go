package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/port"
	"go.uber.org/zap"
)

// DataSource is where the read path gets videos and surfaces from: the live
// store, or a canned fixture set for demos.
type DataSource struct {
	Name     string
	Videos   port.VideoReader
	Surfaces port.SurfaceReader
}

type ReadSurfacesUseCase struct {
	source DataSource
	logger *zap.Logger
}

func NewReadSurfacesUseCase(source DataSource, logger *zap.Logger) *ReadSurfacesUseCase {
	return &ReadSurfacesUseCase{
		source: source,
		logger: logger.With(zap.String("data_source", source.Name)),
	}
}

func (uc *ReadSurfacesUseCase) Source() string { return uc.source.Name }

// Surfaces returns the committed surfaces of a video. Anything other than a
// Ready video yields an empty list, so readers never observe a scan in flight.
func (uc *ReadSurfacesUseCase) Surfaces(ctx context.Context, videoID string) ([]entity.DetectedSurface, error) {
	video, err := uc.source.Videos.FindVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.Status.Kind != entity.StatusReady {
		return []entity.DetectedSurface{}, nil
	}

	rows, err := uc.source.Surfaces.ListSurfaces(ctx, videoID)
	if err != nil {
		uc.logger.Error("failed to list surfaces", zap.String("video_id", videoID), zap.Error(err))
		return nil, fmt.Errorf("list surfaces: %w", err)
	}
	if rows == nil {
		rows = []entity.DetectedSurface{}
	}
	return rows, nil
}

func (uc *ReadSurfacesUseCase) Status(ctx context.Context, videoID string) (entity.ScanStatus, error) {
	status, _, err := uc.StatusAt(ctx, videoID)
	return status, err
}

// StatusAt also returns when the status was last written, so a client can
// tell a new scan's result from the one before it.
func (uc *ReadSurfacesUseCase) StatusAt(ctx context.Context, videoID string) (entity.ScanStatus, time.Time, error) {
	video, err := uc.source.Videos.FindVideo(ctx, videoID)
	if err != nil {
		return entity.ScanStatus{}, time.Time{}, err
	}
	return video.Status, video.UpdatedAt, nil
}
