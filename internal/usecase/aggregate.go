package usecase

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

const (
	DefaultDedupWindow  = 5.0
	DefaultIoUThreshold = 0.5
)

type AggregateOptions struct {
	// Window is the max gap in seconds between a candidate and the last
	// member of a cluster it may join.
	Window       float64
	IoUThreshold float64
}

func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{Window: DefaultDedupWindow, IoUThreshold: DefaultIoUThreshold}
}

// SurfaceCluster is one deduplicated surface together with the frame its
// best member was detected on.
type SurfaceCluster struct {
	Surface entity.DetectedSurface
	Frame   entity.Frame
	Members int
}

type candidate struct {
	frame entity.Frame
	det   entity.RawDetection
}

type cluster struct {
	best    candidate
	last    candidate
	members int
}

// Aggregate collapses per-frame detections into the canonical surface list
// for a video, ordered by timestamp.
func Aggregate(videoID string, frames []entity.FrameDetections, opts AggregateOptions) []entity.DetectedSurface {
	clusters := Cluster(videoID, frames, opts)
	out := make([]entity.DetectedSurface, len(clusters))
	for i, c := range clusters {
		out[i] = c.Surface
	}
	return out
}

func Cluster(videoID string, frames []entity.FrameDetections, opts AggregateOptions) []SurfaceCluster {
	var cands []candidate
	for _, fd := range frames {
		for _, d := range fd.Detections {
			cands = append(cands, candidate{frame: fd.Frame, det: d})
		}
	}
	if len(cands) == 0 {
		return []SurfaceCluster{}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].frame.Timestamp < cands[j].frame.Timestamp
	})

	var clusters []*cluster
	for _, c := range cands {
		var match *cluster
		bestIoU := opts.IoUThreshold
		for _, cl := range clusters {
			if cl.last.det.Label != c.det.Label {
				continue
			}
			if c.frame.Timestamp-cl.last.frame.Timestamp > opts.Window {
				continue
			}
			if iou := cl.last.det.Box.IoU(c.det.Box); iou > bestIoU {
				bestIoU = iou
				match = cl
			}
		}
		if match == nil {
			clusters = append(clusters, &cluster{best: c, last: c, members: 1})
			continue
		}
		match.last = c
		match.members++
		if c.det.Score > match.best.det.Score {
			match.best = c
		}
	}

	now := time.Now().UTC()
	out := make([]SurfaceCluster, 0, len(clusters))
	for _, cl := range clusters {
		out = append(out, SurfaceCluster{
			Surface: entity.DetectedSurface{
				ID:          uuid.NewString(),
				VideoID:     videoID,
				Timestamp:   cl.best.frame.Timestamp,
				SurfaceType: cl.best.det.Label,
				Confidence:  cl.best.det.Score,
				BoundingBox: cl.best.det.Box.Clamp(),
				CreatedAt:   now,
			},
			Frame:   cl.best.frame,
			Members: cl.members,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Surface, out[j].Surface
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.SurfaceType != b.SurfaceType {
			return a.SurfaceType < b.SurfaceType
		}
		return a.Confidence > b.Confidence
	})
	return out
}
