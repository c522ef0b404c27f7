// Package fixture serves a canned surface dataset for demos. It never touches
// the real store and is read-only.
package fixture

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

//go:embed demo.json
var demoData []byte

type fixtureSurface struct {
	Timestamp   float64            `json:"timestamp"`
	SurfaceType string             `json:"surfaceType"`
	Confidence  float64            `json:"confidence"`
	BoundingBox entity.BoundingBox `json:"boundingBox"`
	FrameURL    *string            `json:"frameUrl"`
}

type fixtureVideo struct {
	ID              string           `json:"id"`
	SourceRef       string           `json:"sourceRef"`
	DurationSeconds *float64         `json:"durationSeconds"`
	Surfaces        []fixtureSurface `json:"surfaces"`
}

type fixtureFile struct {
	Videos []fixtureVideo `json:"videos"`
}

type Dataset struct {
	videos   map[string]entity.VideoAsset
	surfaces map[string][]entity.DetectedSurface
}

// Load reads the dataset at path, or the embedded demo set when path is empty.
func Load(path string) (*Dataset, error) {
	data := demoData
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fixture: %w", err)
		}
		data = b
	}
	return Parse(data)
}

func Parse(data []byte) (*Dataset, error) {
	var f fixtureFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := &Dataset{
		videos:   make(map[string]entity.VideoAsset, len(f.Videos)),
		surfaces: make(map[string][]entity.DetectedSurface, len(f.Videos)),
	}
	for _, v := range f.Videos {
		if v.ID == "" {
			return nil, fmt.Errorf("fixture video without id")
		}
		rows := make([]entity.DetectedSurface, 0, len(v.Surfaces))
		for i, s := range v.Surfaces {
			if !s.BoundingBox.Valid() || s.Confidence < 0 || s.Confidence > 1 {
				return nil, fmt.Errorf("fixture video %s: surface %d out of range", v.ID, i)
			}
			rows = append(rows, entity.DetectedSurface{
				ID:          fmt.Sprintf("%s-%d", v.ID, i+1),
				VideoID:     v.ID,
				Timestamp:   s.Timestamp,
				SurfaceType: s.SurfaceType,
				Confidence:  s.Confidence,
				BoundingBox: s.BoundingBox,
				FrameURL:    s.FrameURL,
				CreatedAt:   created,
			})
		}
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

		ds.videos[v.ID] = entity.VideoAsset{
			ID:              v.ID,
			SourceRef:       v.SourceRef,
			DurationSeconds: v.DurationSeconds,
			Status:          entity.Ready(len(rows)),
			UpdatedAt:       created,
		}
		ds.surfaces[v.ID] = rows
	}
	return ds, nil
}

func (d *Dataset) FindVideo(_ context.Context, id string) (*entity.VideoAsset, error) {
	v, ok := d.videos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrVideoNotFound, id)
	}
	return &v, nil
}

func (d *Dataset) ListSurfaces(_ context.Context, videoID string) ([]entity.DetectedSurface, error) {
	rows, ok := d.surfaces[videoID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrVideoNotFound, videoID)
	}
	out := make([]entity.DetectedSurface, len(rows))
	copy(out, rows)
	return out, nil
}

// Videos lists the fixture videos ordered by id.
func (d *Dataset) Videos() []entity.VideoAsset {
	out := make([]entity.VideoAsset, 0, len(d.videos))
	for _, v := range d.videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
