package detector

import (
	"context"
	"math"
	"strings"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/port"
)

const DefaultMinConfidence = 0.4

// PlacementSurfaceAllowlist maps backend labels (lower case) to the canonical
// surface type stored on a DetectedSurface.
var PlacementSurfaceAllowlist = map[string]string{
	"desk":         "Desk",
	"table":        "Table",
	"dining table": "Table",
	"wall":         "Wall",
	"monitor":      "Monitor",
	"tv":           "Monitor",
	"tvmonitor":    "Monitor",
	"laptop":       "Laptop",
	"bottle":       "Bottle",
	"shelf":        "Shelf",
	"bookshelf":    "Shelf",
	"counter":      "Counter",
	"cabinet":      "Cabinet",
	"couch":        "Couch",
	"sofa":         "Couch",
	"bed":          "Bed",
	"whiteboard":   "Whiteboard",
	"cup":          "Cup",
	"book":         "Book",
	"keyboard":     "Keyboard",
}

// SurfaceType returns the canonical surface type for a backend label.
func SurfaceType(label string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.ReplaceAll(key, "_", " ")
	t, ok := PlacementSurfaceAllowlist[key]
	return t, ok
}

// Filter wraps a backend and drops everything that is not an allowlisted
// placement surface at or above the confidence floor.
type Filter struct {
	next          port.SurfaceDetector
	minConfidence float64
}

func NewFilter(next port.SurfaceDetector, minConfidence float64) *Filter {
	return &Filter{next: next, minConfidence: minConfidence}
}

func (f *Filter) Name() string { return f.next.Name() }

func (f *Filter) Detect(ctx context.Context, frame entity.Frame) ([]entity.RawDetection, error) {
	raw, err := f.next.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	return Keep(raw, f.minConfidence), nil
}

// Keep applies the allowlist and threshold, canonicalizes labels and clamps boxes.
func Keep(raw []entity.RawDetection, minConfidence float64) []entity.RawDetection {
	out := make([]entity.RawDetection, 0, len(raw))
	for _, d := range raw {
		if math.IsNaN(d.Score) || d.Score < minConfidence || d.Score > 1 {
			continue
		}
		st, ok := SurfaceType(d.Label)
		if !ok {
			continue
		}
		box := d.Box.Clamp()
		if box.Area() == 0 {
			continue
		}
		out = append(out, entity.RawDetection{Label: st, Score: d.Score, Box: box})
	}
	return out
}
