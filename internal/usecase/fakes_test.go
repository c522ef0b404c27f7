package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/port"
)

type fakeSampler struct {
	mu         sync.Mutex
	timestamps []float64
	openErr    error
	opened     []string
}

func (s *fakeSampler) Open(_ context.Context, ref string, _ float64) (port.FrameStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, ref)
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &fakeStream{timestamps: s.timestamps}, nil
}

type fakeStream struct {
	timestamps []float64
	pos        int
}

func (s *fakeStream) Next(context.Context) (*entity.Frame, error) {
	if s.pos >= len(s.timestamps) {
		return nil, io.EOF
	}
	ts := s.timestamps[s.pos]
	s.pos++
	return &entity.Frame{Timestamp: ts, Image: []byte(fmt.Sprintf("frame-%v", ts)), Width: 100, Height: 100}, nil
}

func (s *fakeStream) Duration() float64 { return 0 }
func (s *fakeStream) Close() error      { return nil }

// fakeDetector returns the detections registered for a timestamp.
type fakeDetector struct {
	byTimestamp map[float64][]entity.RawDetection
	err         error
	onDetect    func(entity.Frame)
}

func (d *fakeDetector) Name() string { return "fake" }

func (d *fakeDetector) Detect(_ context.Context, f entity.Frame) ([]entity.RawDetection, error) {
	if d.onDetect != nil {
		d.onDetect(f)
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.byTimestamp[f.Timestamp], nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (p *fakePublisher) PublishStatus(_ context.Context, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

type fakeFetcher struct {
	fetched []string
}

func (f *fakeFetcher) Handles(ref string) bool { return len(ref) > 5 && ref[:5] == "s3://" }

func (f *fakeFetcher) FetchSource(_ context.Context, ref, dest string) error {
	f.fetched = append(f.fetched, ref)
	return nil
}

type fakeFrameStorage struct {
	uploads int
}

func (s *fakeFrameStorage) UploadFrame(_ context.Context, videoID string, ts float64, _ []byte) (string, error) {
	s.uploads++
	return fmt.Sprintf("http://frames/%s/%.3f.png", videoID, ts), nil
}
