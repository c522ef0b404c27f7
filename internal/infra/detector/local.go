package detector

import (
	"context"
	"fmt"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

// PixelDetection is a model output in pixel coordinates of the input frame.
type PixelDetection struct {
	Label  string
	Score  float64
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Model is a pre-loaded in-process object-detection network.
type Model interface {
	Infer(ctx context.Context, frame entity.Frame) ([]PixelDetection, error)
	Close() error
}

// LocalModelDetector runs a Model in process and normalizes its output.
type LocalModelDetector struct {
	model Model
}

func NewLocalModelDetector(model Model) *LocalModelDetector {
	return &LocalModelDetector{model: model}
}

func (d *LocalModelDetector) Name() string { return "local" }

func (d *LocalModelDetector) Detect(ctx context.Context, frame entity.Frame) ([]entity.RawDetection, error) {
	if d.model == nil {
		return nil, fmt.Errorf("%w: no model loaded", entity.ErrModelUnavailable)
	}
	pix, err := d.model.Infer(ctx, frame)
	if err != nil {
		return nil, err
	}
	out := make([]entity.RawDetection, 0, len(pix))
	for _, p := range pix {
		out = append(out, entity.RawDetection{
			Label: p.Label,
			Score: p.Score,
			Box:   entity.NormalizePixelBox(p.X, p.Y, p.Width, p.Height, frame.Width, frame.Height),
		})
	}
	return out, nil
}

func (d *LocalModelDetector) Close() error {
	if d.model == nil {
		return nil
	}
	return d.model.Close()
}
