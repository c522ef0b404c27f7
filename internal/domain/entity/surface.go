package entity

import (
	"math"
	"time"
)

// BoundingBox is expressed in frame-relative coordinates, every component in [0,1].
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Clamp forces the box into the unit square so that X+Width <= 1 and
// Y+Height <= 1. NaN components collapse to zero.
func (b BoundingBox) Clamp() BoundingBox {
	x := clamp01(b.X)
	y := clamp01(b.Y)
	w := clamp01(b.Width)
	h := clamp01(b.Height)
	if x+w > 1 {
		w = 1 - x
	}
	if y+h > 1 {
		h = 1 - y
	}
	return BoundingBox{X: x, Y: y, Width: w, Height: h}
}

func (b BoundingBox) Valid() bool {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return b.X+b.Width <= 1 && b.Y+b.Height <= 1
}

func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// IoU returns the intersection-over-union of two boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	ix := math.Max(0, math.Min(b.X+b.Width, o.X+o.Width)-math.Max(b.X, o.X))
	iy := math.Max(0, math.Min(b.Y+b.Height, o.Y+o.Height)-math.Max(b.Y, o.Y))
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NormalizePixelBox converts a pixel-space box to frame-relative coordinates
// and clamps it. Frames without known dimensions yield a zero box.
func NormalizePixelBox(x, y, w, h float64, frameW, frameH int) BoundingBox {
	if frameW <= 0 || frameH <= 0 {
		return BoundingBox{}
	}
	fw, fh := float64(frameW), float64(frameH)
	return BoundingBox{X: x / fw, Y: y / fh, Width: w / fw, Height: h / fh}.Clamp()
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Frame is a single sampled image. It is never persisted.
type Frame struct {
	Timestamp float64
	Image     []byte
	Width     int
	Height    int
}

// RawDetection is a backend detection after normalization into box space.
type RawDetection struct {
	Label string
	Score float64
	Box   BoundingBox
}

// FrameDetections pairs a frame with the detections that survived filtering.
type FrameDetections struct {
	Frame      Frame
	Detections []RawDetection
}

type DetectedSurface struct {
	ID          string      `json:"id"`
	VideoID     string      `json:"videoId"`
	Timestamp   float64     `json:"timestamp"`
	SurfaceType string      `json:"surfaceType"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
	FrameURL    *string     `json:"frameUrl,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}
