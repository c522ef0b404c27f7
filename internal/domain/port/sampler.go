package port

import (
	"context"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

// FrameStream yields sampled frames in timestamp order. Next returns io.EOF
// once the video is exhausted or the frame cap is reached.
type FrameStream interface {
	Next(ctx context.Context) (*entity.Frame, error)
	// Duration is the probed video length, or 0 when unknown.
	Duration() float64
	Close() error
}

// FrameSampler opens an independent stream per call; streams share no cursor.
type FrameSampler interface {
	Open(ctx context.Context, sourceRef string, rateSeconds float64) (FrameStream, error)
}
