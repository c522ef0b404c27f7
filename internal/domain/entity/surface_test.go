package entity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBox_Clamp(t *testing.T) {
	b := BoundingBox{X: 0.9, Y: -0.2, Width: 0.5, Height: 1.4}.Clamp()
	assert.InDelta(t, 0.9, b.X, 1e-9)
	assert.Equal(t, 0.0, b.Y)
	assert.InDelta(t, 0.1, b.Width, 1e-9)
	assert.Equal(t, 1.0, b.Height)
	assert.True(t, b.Valid())

	nan := BoundingBox{X: math.NaN(), Y: 0.1, Width: 0.2, Height: 0.2}
	assert.False(t, nan.Valid())
	assert.Equal(t, 0.0, nan.Clamp().X)
}

func TestBoundingBox_IoU(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, Width: 0.5, Height: 0.5}
	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.Equal(t, 0.0, a.IoU(BoundingBox{X: 0.5, Y: 0.5, Width: 0.5, Height: 0.5}))
	assert.InDelta(t, 1.0/3.0, a.IoU(BoundingBox{X: 0.25, Y: 0, Width: 0.5, Height: 0.5}), 1e-9)
	assert.Equal(t, 0.0, BoundingBox{}.IoU(BoundingBox{}))
}

func TestNormalizePixelBox(t *testing.T) {
	b := NormalizePixelBox(64, 36, 320, 180, 1280, 720)
	assert.InDelta(t, 0.05, b.X, 1e-9)
	assert.InDelta(t, 0.05, b.Y, 1e-9)
	assert.InDelta(t, 0.25, b.Width, 1e-9)
	assert.InDelta(t, 0.25, b.Height, 1e-9)

	overflow := NormalizePixelBox(1200, 0, 400, 720, 1280, 720)
	assert.True(t, overflow.Valid())
	assert.InDelta(t, 0.0625, overflow.Width, 1e-9)

	assert.Equal(t, BoundingBox{}, NormalizePixelBox(10, 10, 10, 10, 0, 720))
}
