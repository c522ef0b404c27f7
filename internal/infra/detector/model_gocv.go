//go:build gocv

package detector

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"gocv.io/x/gocv"
)

const ssdInputSize = 300

// ssdModel runs an SSD-style network through OpenCV's DNN module. Output rows
// are [batch, class, score, left, top, right, bottom] with relative coords.
type ssdModel struct {
	mu     sync.Mutex
	net    gocv.Net
	labels []string
}

// LoadModel reads the network and its label file. Any failure is reported as
// ErrModelUnavailable.
func LoadModel(modelPath, configPath, labelsPath string) (Model, error) {
	labels, err := ReadLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrModelUnavailable, err)
	}
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot read network %s", entity.ErrModelUnavailable, modelPath)
	}
	return &ssdModel{net: net, labels: labels}, nil
}

func (m *ssdModel) Infer(ctx context.Context, frame entity.Frame) ([]PixelDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := gocv.IMDecode(frame.Image, gocv.IMReadColor)
	if err != nil || img.Empty() {
		return nil, fmt.Errorf("%w: decode frame at %.2fs", entity.ErrModelUnavailable, frame.Timestamp)
	}
	defer img.Close()

	w, h := float64(img.Cols()), float64(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/127.5, image.Pt(ssdInputSize, ssdInputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	m.mu.Lock()
	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	m.mu.Unlock()
	defer out.Close()

	var dets []PixelDetection
	for i := 0; i+6 < out.Total(); i += 7 {
		score := float64(out.GetFloatAt(0, i+2))
		if score <= 0 {
			continue
		}
		class := int(out.GetFloatAt(0, i+1))
		if class < 0 || class >= len(m.labels) {
			continue
		}
		left := float64(out.GetFloatAt(0, i+3)) * w
		top := float64(out.GetFloatAt(0, i+4)) * h
		right := float64(out.GetFloatAt(0, i+5)) * w
		bottom := float64(out.GetFloatAt(0, i+6)) * h
		dets = append(dets, PixelDetection{
			Label:  m.labels[class],
			Score:  score,
			X:      left,
			Y:      top,
			Width:  right - left,
			Height: bottom - top,
		})
	}
	return dets, nil
}

func (m *ssdModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
