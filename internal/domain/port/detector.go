package port

import (
	"context"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

// SurfaceDetector runs one detection backend over a single frame. Returned
// boxes are already normalized to [0,1].
type SurfaceDetector interface {
	Detect(ctx context.Context, frame entity.Frame) ([]entity.RawDetection, error)
	Name() string
}
