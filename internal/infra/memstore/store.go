// Package memstore keeps videos and surfaces in process memory. It backs
// STORE_DRIVER=memory and the scheduler tests.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

type Store struct {
	mu       sync.RWMutex
	videos   map[string]entity.VideoAsset
	surfaces map[string][]entity.DetectedSurface
}

func New() *Store {
	return &Store{
		videos:   make(map[string]entity.VideoAsset),
		surfaces: make(map[string][]entity.DetectedSurface),
	}
}

// AddVideo inserts or replaces a video. A zero status becomes PendingScan.
func (s *Store) AddVideo(v entity.VideoAsset) {
	if v.Status.Kind == "" {
		v.Status = entity.PendingScan()
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.videos[v.ID] = v
	s.mu.Unlock()
}

func (s *Store) FindVideo(_ context.Context, id string) (*entity.VideoAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrVideoNotFound, id)
	}
	return &v, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status entity.ScanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return fmt.Errorf("%w: %s", entity.ErrVideoNotFound, id)
	}
	v.Status = status
	v.UpdatedAt = time.Now().UTC()
	s.videos[id] = v
	return nil
}

func (s *Store) ListPending(_ context.Context, limit int) ([]entity.VideoAsset, error) {
	s.mu.RLock()
	var out []entity.VideoAsset
	for _, v := range s.videos {
		if v.Status.Kind == entity.StatusPendingScan {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		switch {
		case pi != nil && pj != nil && *pi != *pj:
			return *pi > *pj
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListSurfaces(_ context.Context, videoID string) ([]entity.DetectedSurface, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.videos[videoID]; !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrVideoNotFound, videoID)
	}
	out := make([]entity.DetectedSurface, len(s.surfaces[videoID]))
	copy(out, s.surfaces[videoID])
	return out, nil
}

// CommitScan swaps the surface set and status under one lock.
func (s *Store) CommitScan(ctx context.Context, videoID string, surfaces []entity.DetectedSurface) (entity.ScanStatus, error) {
	if err := ctx.Err(); err != nil {
		return entity.ScanStatus{}, err
	}
	for _, sf := range surfaces {
		if sf.VideoID != videoID || !sf.BoundingBox.Valid() || math.IsNaN(sf.Confidence) || sf.Confidence < 0 || sf.Confidence > 1 {
			return entity.ScanStatus{}, fmt.Errorf("invalid surface %s for video %s", sf.ID, videoID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[videoID]
	if !ok {
		return entity.ScanStatus{}, fmt.Errorf("%w: %s", entity.ErrVideoNotFound, videoID)
	}

	rows := make([]entity.DetectedSurface, len(surfaces))
	copy(rows, surfaces)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })
	s.surfaces[videoID] = rows

	status := entity.Ready(len(rows))
	v.Status = status
	v.UpdatedAt = time.Now().UTC()
	s.videos[videoID] = v
	return status, nil
}

func (s *Store) Ping(context.Context) error { return nil }
