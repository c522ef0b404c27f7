package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/port"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/metrics"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/usecase"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("scheduler stopped")

// Pipeline runs scan attempts and records status transitions.
type Pipeline interface {
	Execute(ctx context.Context, run usecase.ScanRun) (entity.ScanStatus, error)
	MarkScanning(ctx context.Context, run usecase.ScanRun) error
	MarkFailed(run usecase.ScanRun, cause error)
	PublishRetry(ctx context.Context, run usecase.ScanRun, cause error)
}

type VideoLister interface {
	port.VideoReader
	ListPending(ctx context.Context, limit int) ([]entity.VideoAsset, error)
}

type Config struct {
	Workers        int
	QueueSize      int
	JobTimeout     time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 120 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	return c
}

// Scheduler owns the job registry and a fixed pool of scan workers.
type Scheduler struct {
	videos   VideoLister
	pipeline Pipeline
	logger   *zap.Logger
	cfg      Config

	// lifecycle is read-held by every RequestScan so Stop never races an enqueue.
	lifecycle sync.RWMutex
	stopped   bool

	mu   sync.Mutex
	jobs map[string]*ScanJob

	slots chan struct{}
	queue chan *ScanJob

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

func New(videos VideoLister, pipeline Pipeline, logger *zap.Logger, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		videos:     videos,
		pipeline:   pipeline,
		logger:     logger,
		cfg:        cfg,
		jobs:       make(map[string]*ScanJob),
		slots:      make(chan struct{}, cfg.QueueSize),
		queue:      make(chan *ScanJob, cfg.QueueSize),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Start launches the worker pool. Workers exit when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go s.worker(i)
		}
		go func() {
			select {
			case <-ctx.Done():
				s.Stop()
			case <-s.baseCtx.Done():
			}
		}()
		s.logger.Info("scan scheduler started",
			zap.Int("workers", s.cfg.Workers),
			zap.Int("queue_size", s.cfg.QueueSize),
			zap.Duration("job_timeout", s.cfg.JobTimeout),
		)
	})
}

// Stop cancels running jobs, waits for the workers and fails whatever is
// still queued so no video is left in Scanning.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.lifecycle.Lock()
		s.stopped = true
		s.lifecycle.Unlock()

		s.baseCancel()
		s.wg.Wait()

		for {
			select {
			case job := <-s.queue:
				<-s.slots
				err := fmt.Errorf("%w: %v", entity.ErrScanCancelled, ErrStopped)
				s.pipeline.MarkFailed(s.run(job), err)
				s.finish(job, entity.ScanFailed(), err)
			default:
				s.logger.Info("scan scheduler stopped")
				return
			}
		}
	})
}

// RequestScan returns the live job for videoID, or registers and queues a new
// one. started is false when an existing job was returned.
func (s *Scheduler) RequestScan(ctx context.Context, videoID string) (*ScanJob, bool, error) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.stopped {
		return nil, false, ErrStopped
	}
	// The id keys the registry for the job's lifetime; never alias caller memory.
	videoID = strings.Clone(videoID)

	if _, err := s.videos.FindVideo(ctx, videoID); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	if existing, ok := s.jobs[videoID]; ok {
		s.mu.Unlock()
		return existing, false, nil
	}
	job := newScanJob(s.baseCtx, videoID)
	s.jobs[videoID] = job
	s.mu.Unlock()

	select {
	case s.slots <- struct{}{}:
	default:
		s.deregister(job)
		job.cancel()
		return nil, false, entity.ErrQueueFull
	}

	if err := s.pipeline.MarkScanning(ctx, s.run(job)); err != nil {
		<-s.slots
		s.deregister(job)
		job.cancel()
		return nil, false, err
	}

	metrics.InFlightJobs.Inc()
	s.queue <- job

	s.logger.Info("scan job queued", zap.String("video_id", videoID), zap.String("job_id", job.ID.String()))
	return job, true, nil
}

// RequestBatchScan queues up to limit PendingScan videos, highest priority
// first, and returns how many new jobs were started.
func (s *Scheduler) RequestBatchScan(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("batch limit must be positive, got %d", limit)
	}
	videos, err := s.videos.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending videos: %w", err)
	}

	started := 0
	for _, v := range videos {
		_, ok, err := s.RequestScan(ctx, v.ID)
		if err != nil {
			s.logger.Warn("batch scan skipped video", zap.String("video_id", v.ID), zap.Error(err))
			if errors.Is(err, ErrStopped) {
				break
			}
			continue
		}
		if ok {
			started++
		}
	}
	s.logger.Info("batch scan queued", zap.Int("requested", limit), zap.Int("started", started))
	return started, nil
}

// Cancel stops the live job for videoID at its next frame boundary.
func (s *Scheduler) Cancel(videoID string) bool {
	job, ok := s.Job(videoID)
	if !ok {
		return false
	}
	job.cancel()
	s.logger.Info("scan job cancel requested", zap.String("video_id", videoID), zap.String("job_id", job.ID.String()))
	return true
}

func (s *Scheduler) Job(videoID string) (*ScanJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[videoID]
	return job, ok
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case job := <-s.queue:
			<-s.slots
			s.runJob(id, job)
		}
	}
}

func (s *Scheduler) runJob(workerID int, job *ScanJob) {
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	log := s.logger.With(
		zap.Int("worker", workerID),
		zap.String("video_id", job.VideoID),
		zap.String("job_id", job.ID.String()),
	)

	ctx, cancel := context.WithTimeout(job.ctx, s.cfg.JobTimeout)
	defer cancel()

	status, err := s.execute(ctx, job, log)
	if err != nil {
		log.Error("scan failed",
			zap.String("reason", entity.FailureReason(err)),
			zap.Int("attempts", job.Attempt()),
			zap.Error(err),
		)
		s.pipeline.MarkFailed(s.run(job), err)
		status = entity.ScanFailed()
	}
	s.finish(job, status, err)
}

// execute runs attempts until success, a non-transient error, exhausted
// retries, or the job deadline.
func (s *Scheduler) execute(ctx context.Context, job *ScanJob, log *zap.Logger) (entity.ScanStatus, error) {
	for attempt := 1; ; attempt++ {
		if err := entity.ContextErr(ctx); err != nil {
			return entity.ScanStatus{}, err
		}
		job.attempt.Store(int32(attempt))

		status, err := s.attempt(ctx, job)
		if err == nil {
			return status, nil
		}
		if cerr := entity.ContextErr(ctx); cerr != nil && !errors.Is(err, entity.ErrScanTimeout) && !errors.Is(err, entity.ErrScanCancelled) {
			return entity.ScanStatus{}, fmt.Errorf("%w (after %v)", cerr, err)
		}
		if !entity.IsTransient(err) || attempt > s.cfg.MaxRetries {
			return entity.ScanStatus{}, err
		}

		delay := s.backoff(attempt)
		metrics.RetryTotal.WithLabelValues(entity.FailureReason(err)).Inc()
		s.pipeline.PublishRetry(ctx, s.run(job), err)
		log.Warn("scan attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return entity.ScanStatus{}, entity.ContextErr(ctx)
		case <-time.After(delay):
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, job *ScanJob) (status entity.ScanStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan attempt panicked",
				zap.String("video_id", job.VideoID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("scan panicked: %v", r)
		}
	}()
	return s.pipeline.Execute(ctx, s.run(job))
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(s.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > s.cfg.MaxRetryDelay {
		delay = s.cfg.MaxRetryDelay
	}
	return delay
}

func (s *Scheduler) finish(job *ScanJob, status entity.ScanStatus, err error) {
	s.deregister(job)
	metrics.InFlightJobs.Dec()
	metrics.ScansTotal.WithLabelValues(outcome(status)).Inc()
	job.complete(status, err)
}

func (s *Scheduler) deregister(job *ScanJob) {
	s.mu.Lock()
	if s.jobs[job.VideoID] == job {
		delete(s.jobs, job.VideoID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(job *ScanJob) usecase.ScanRun {
	return usecase.ScanRun{JobID: job.ID, VideoID: job.VideoID, Attempt: job.Attempt()}
}

func outcome(status entity.ScanStatus) string {
	switch status.Kind {
	case entity.StatusReady:
		return "ready"
	case entity.StatusNoSurfacesRetry:
		return "no_surfaces"
	default:
		return "failed"
	}
}
