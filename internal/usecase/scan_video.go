package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/port"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ScanRun identifies one attempt of a scan job.
type ScanRun struct {
	JobID   uuid.UUID
	VideoID string
	Attempt int
}

type ScanVideoConfig struct {
	TempDir           string
	SampleRateSeconds float64
	Aggregate         AggregateOptions
}

type ScanVideoUseCase struct {
	videos    port.VideoRepository
	surfaces  port.SurfaceRepository
	sampler   port.FrameSampler
	detector  port.SurfaceDetector
	fetcher   port.SourceFetcher
	frames    port.FrameStorage
	publisher port.StatusPublisher
	logger    *zap.Logger
	cfg       ScanVideoConfig
}

func NewScanVideoUseCase(
	videos port.VideoRepository,
	surfaces port.SurfaceRepository,
	sampler port.FrameSampler,
	detector port.SurfaceDetector,
	logger *zap.Logger,
	cfg ScanVideoConfig,
) *ScanVideoUseCase {
	if cfg.SampleRateSeconds <= 0 {
		cfg.SampleRateSeconds = 3
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &ScanVideoUseCase{
		videos:   videos,
		surfaces: surfaces,
		sampler:  sampler,
		detector: detector,
		logger:   logger,
		cfg:      cfg,
	}
}

// WithSourceFetcher enables object-store source references.
func (uc *ScanVideoUseCase) WithSourceFetcher(f port.SourceFetcher) *ScanVideoUseCase {
	uc.fetcher = f
	return uc
}

// WithFrameStorage uploads the best frame of every surface and records its URL.
func (uc *ScanVideoUseCase) WithFrameStorage(s port.FrameStorage) *ScanVideoUseCase {
	uc.frames = s
	return uc
}

func (uc *ScanVideoUseCase) WithPublisher(p port.StatusPublisher) *ScanVideoUseCase {
	uc.publisher = p
	return uc
}

// MarkScanning flips the video to Scanning once its job is queued.
func (uc *ScanVideoUseCase) MarkScanning(ctx context.Context, run ScanRun) error {
	if err := uc.videos.UpdateStatus(ctx, run.VideoID, entity.Scanning()); err != nil {
		return fmt.Errorf("mark scanning: %w", err)
	}
	uc.publishStatus(ctx, run, entity.Scanning(), nil)
	return nil
}

// MarkFailed records ScanFailed. It runs on its own context because the job
// context is usually already done.
func (uc *ScanVideoUseCase) MarkFailed(run ScanRun, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := uc.logger.With(zap.String("video_id", run.VideoID), zap.String("job_id", run.JobID.String()))
	if err := uc.videos.UpdateStatus(ctx, run.VideoID, entity.ScanFailed()); err != nil {
		log.Error("failed to mark video as failed", zap.Error(err))
	}
	uc.publishStatus(ctx, run, entity.ScanFailed(), cause)
}

// PublishRetry announces that a transient failure will be retried.
func (uc *ScanVideoUseCase) PublishRetry(ctx context.Context, run ScanRun, cause error) {
	uc.publishStatus(ctx, run, entity.Scanning(), cause)
}

// Execute runs one full scan attempt: sample, detect, aggregate, commit.
// Nothing is persisted unless every stage succeeds with ctx still live.
func (uc *ScanVideoUseCase) Execute(ctx context.Context, run ScanRun) (entity.ScanStatus, error) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ScanVideoUseCase.Execute")
	defer span.End()

	span.SetAttributes(
		attribute.String("job.id", run.JobID.String()),
		attribute.String("video.id", run.VideoID),
		attribute.Int("job.attempt", run.Attempt),
	)

	log := uc.logger.With(
		zap.String("job_id", run.JobID.String()),
		zap.String("video_id", run.VideoID),
		zap.Int("attempt", run.Attempt),
	)

	totalTimer := time.Now()

	status, err := uc.scan(ctx, run, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, entity.FailureReason(err))
		return entity.ScanStatus{}, err
	}

	metrics.ScanStageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	uc.publishStatus(ctx, run, status, nil)

	log.Info("scan completed", zap.String("status", status.String()))
	return status, nil
}

func (uc *ScanVideoUseCase) scan(ctx context.Context, run ScanRun, log *zap.Logger) (entity.ScanStatus, error) {
	tracer := otel.Tracer("usecase")

	video, err := uc.videos.FindVideo(ctx, run.VideoID)
	if err != nil {
		return entity.ScanStatus{}, err
	}

	workDir := filepath.Join(uc.cfg.TempDir, run.JobID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return entity.ScanStatus{}, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	source, err := uc.resolveSource(ctx, video.SourceRef, workDir)
	if err != nil {
		log.Error("failed to fetch source", zap.Error(err))
		return entity.ScanStatus{}, err
	}

	// Sample and detect
	detStart := time.Now()
	ctx2, spanDet := tracer.Start(ctx, "sample_and_detect")
	frames, err := uc.sampleAndDetect(ctx2, source, log)
	spanDet.End()
	if err != nil {
		return entity.ScanStatus{}, err
	}
	metrics.ScanStageDuration.WithLabelValues("detect").Observe(time.Since(detStart).Seconds())

	// Aggregate
	clusters := Cluster(run.VideoID, frames, uc.cfg.Aggregate)
	if uc.frames != nil {
		uc.uploadFrames(ctx, clusters, log)
	}
	surfaces := make([]entity.DetectedSurface, len(clusters))
	for i, c := range clusters {
		surfaces[i] = c.Surface
	}

	if err := entity.ContextErr(ctx); err != nil {
		log.Warn("scan ended before commit, discarding results", zap.Int("surfaces", len(surfaces)))
		return entity.ScanStatus{}, err
	}

	// Commit
	commitStart := time.Now()
	ctx3, spanCommit := tracer.Start(ctx, "commit_surfaces")
	status, err := uc.surfaces.CommitScan(ctx3, run.VideoID, surfaces)
	spanCommit.End()
	if err != nil {
		if cerr := entity.ContextErr(ctx); cerr != nil {
			return entity.ScanStatus{}, cerr
		}
		log.Error("failed to commit surfaces", zap.Error(err))
		return entity.ScanStatus{}, fmt.Errorf("commit surfaces: %w", err)
	}
	metrics.ScanStageDuration.WithLabelValues("commit").Observe(time.Since(commitStart).Seconds())

	for _, s := range surfaces {
		metrics.DetectionsTotal.WithLabelValues(s.SurfaceType).Inc()
	}
	return status, nil
}

func (uc *ScanVideoUseCase) resolveSource(ctx context.Context, ref, workDir string) (string, error) {
	if uc.fetcher != nil && uc.fetcher.Handles(ref) {
		ctx, span := otel.Tracer("usecase").Start(ctx, "fetch_source")
		defer span.End()

		start := time.Now()
		dest := filepath.Join(workDir, "input"+filepath.Ext(ref))
		if err := uc.fetcher.FetchSource(ctx, ref, dest); err != nil {
			if cerr := entity.ContextErr(ctx); cerr != nil {
				return "", cerr
			}
			return "", err
		}
		metrics.ScanStageDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
		return dest, nil
	}
	if strings.HasPrefix(ref, "s3://") {
		return "", fmt.Errorf("%w: no object store configured for %s", entity.ErrSourceUnavailable, ref)
	}
	return ref, nil
}

func (uc *ScanVideoUseCase) sampleAndDetect(ctx context.Context, source string, log *zap.Logger) ([]entity.FrameDetections, error) {
	stream, err := uc.sampler.Open(ctx, source, uc.cfg.SampleRateSeconds)
	if err != nil {
		if cerr := entity.ContextErr(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	defer stream.Close()

	var out []entity.FrameDetections
	sampled := 0
	for {
		if err := entity.ContextErr(ctx); err != nil {
			return nil, err
		}
		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cerr := entity.ContextErr(ctx); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
		sampled++
		metrics.FramesSampledTotal.Inc()

		dets, err := uc.detector.Detect(ctx, *frame)
		if err != nil {
			if cerr := entity.ContextErr(ctx); cerr != nil {
				return nil, cerr
			}
			log.Warn("detection failed",
				zap.String("detector", uc.detector.Name()),
				zap.Float64("timestamp", frame.Timestamp),
				zap.Error(err),
			)
			return nil, err
		}
		if len(dets) == 0 {
			continue
		}
		if uc.frames == nil {
			frame.Image = nil
		}
		out = append(out, entity.FrameDetections{Frame: *frame, Detections: dets})
	}

	log.Debug("sampling finished",
		zap.Int("frames", sampled),
		zap.Int("frames_with_detections", len(out)),
		zap.Float64("duration_secs", stream.Duration()),
	)
	return out, nil
}

// uploadFrames stores the best frame per surface. Upload failures leave
// FrameURL empty and never fail the scan.
func (uc *ScanVideoUseCase) uploadFrames(ctx context.Context, clusters []SurfaceCluster, log *zap.Logger) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "upload_frames",
		trace.WithAttributes(attribute.Int("surfaces", len(clusters))))
	defer span.End()

	start := time.Now()
	for i := range clusters {
		c := &clusters[i]
		if len(c.Frame.Image) == 0 {
			continue
		}
		url, err := uc.frames.UploadFrame(ctx, c.Surface.VideoID, c.Surface.Timestamp, c.Frame.Image)
		if err != nil {
			log.Warn("frame upload failed", zap.Float64("timestamp", c.Surface.Timestamp), zap.Error(err))
			continue
		}
		c.Surface.FrameURL = &url
	}
	metrics.ScanStageDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
}

func (uc *ScanVideoUseCase) publishStatus(ctx context.Context, run ScanRun, status entity.ScanStatus, cause error) {
	if uc.publisher == nil {
		return
	}
	msg := entity.ScanStatusMessage{
		JobID:        run.JobID,
		VideoID:      run.VideoID,
		Status:       status.String(),
		SurfaceCount: status.Count,
		Terminal:     status.IsTerminal(),
		Attempt:      run.Attempt,
	}
	if cause != nil {
		msg.ErrorReason = entity.FailureReason(cause)
		msg.ErrorMessage = cause.Error()
	}
	data, _ := json.Marshal(msg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		uc.logger.Error("failed to publish status", zap.String("video_id", run.VideoID), zap.Error(err))
	}
}
