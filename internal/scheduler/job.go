package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

// ScanJob is the in-memory handle of a live scan. At most one exists per
// video; it is dropped from the registry once the scan is terminal.
type ScanJob struct {
	ID        uuid.UUID
	VideoID   string
	StartedAt time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	attempt atomic.Int32
	done    chan struct{}

	mu     sync.Mutex
	status entity.ScanStatus
	err    error
}

func newScanJob(parent context.Context, videoID string) *ScanJob {
	ctx, cancel := context.WithCancel(parent)
	return &ScanJob{
		ID:        uuid.New(),
		VideoID:   videoID,
		StartedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    entity.Scanning(),
	}
}

// Attempt is the current attempt number, starting at 1 once a worker picks the job up.
func (j *ScanJob) Attempt() int { return int(j.attempt.Load()) }

// Done is closed when the job reaches a terminal status.
func (j *ScanJob) Done() <-chan struct{} { return j.done }

// Result returns the last known status and, for failed scans, the cause.
func (j *ScanJob) Result() (entity.ScanStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, j.err
}

func (j *ScanJob) complete(status entity.ScanStatus, err error) {
	j.mu.Lock()
	j.status = status
	j.err = err
	j.mu.Unlock()
	close(j.done)
	j.cancel()
}
