// Package poller waits client-side for a scan to reach a terminal status.
// It holds no server state; stopping a poll never affects the scan.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultMaxWait  = 150 * time.Second
)

var ErrGaveUp = errors.New("gave up waiting for scan")

// Snapshot is one status read. UpdatedAt is the server's write time.
type Snapshot struct {
	Status    entity.ScanStatus
	UpdatedAt time.Time
}

type StatusSource interface {
	Status(ctx context.Context, videoID string) (Snapshot, error)
}

type SurfaceSource interface {
	Surfaces(ctx context.Context, videoID string) ([]entity.DetectedSurface, error)
}

type Result struct {
	Status   entity.ScanStatus
	Surfaces []entity.DetectedSurface
	Polls    int
	Elapsed  time.Duration
}

type Poller struct {
	status   StatusSource
	surfaces SurfaceSource
	logger   *zap.Logger

	Interval time.Duration
	MaxWait  time.Duration
}

// New returns a poller with default timing. surfaces may be nil when only
// the terminal status is wanted.
func New(status StatusSource, surfaces SurfaceSource, logger *zap.Logger) *Poller {
	return &Poller{
		status:   status,
		surfaces: surfaces,
		logger:   logger,
		Interval: DefaultInterval,
		MaxWait:  DefaultMaxWait,
	}
}

// Poll reads the status until it is terminal, MaxWait elapses (ErrGaveUp),
// or ctx is done. Read failures other than an unknown video are retried on
// the next tick.
func (p *Poller) Poll(ctx context.Context, videoID string) (Result, error) {
	return p.PollSince(ctx, videoID, time.Time{})
}

// PollSince is Poll for a scan requested after since was observed: terminal
// statuses written at or before since belong to an earlier scan and are
// skipped. A zero since accepts any terminal status.
func (p *Poller) PollSince(ctx context.Context, videoID string, since time.Time) (Result, error) {
	start := time.Now()
	deadline := start.Add(p.MaxWait)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	log := p.logger.With(zap.String("video_id", videoID))
	res := Result{}

	for {
		res.Polls++
		snap, err := p.status.Status(ctx, videoID)
		status := snap.Status
		switch {
		case errors.Is(err, entity.ErrVideoNotFound):
			return res, err
		case err != nil:
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn("status read failed", zap.Int("poll", res.Polls), zap.Error(err))
		case status.IsTerminal() && !since.IsZero() && !snap.UpdatedAt.After(since):
			log.Debug("previous scan still reported", zap.String("status", status.String()), zap.Int("poll", res.Polls))
		default:
			res.Status = status
			if status.IsTerminal() {
				res.Elapsed = time.Since(start)
				if status.Kind == entity.StatusReady && p.surfaces != nil {
					rows, err := p.surfaces.Surfaces(ctx, videoID)
					if err != nil {
						return res, fmt.Errorf("read surfaces: %w", err)
					}
					res.Surfaces = rows
				}
				log.Debug("scan reached terminal status", zap.String("status", status.String()), zap.Int("polls", res.Polls))
				return res, nil
			}
		}

		if !time.Now().Before(deadline) {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("%w after %s (last status %q)", ErrGaveUp, p.MaxWait, res.Status.String())
		}

		select {
		case <-ctx.Done():
			res.Elapsed = time.Since(start)
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}
