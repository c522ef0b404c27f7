package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/port"
	"go.uber.org/zap"
)

// Runner executes an external command and returns its stdout. Stderr is
// folded into the returned error.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return stdout.Bytes(), nil
}

type CommandError struct {
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

type SamplerConfig struct {
	FFmpegPath  string
	FFprobePath string
	MaxFrames   int
}

type Sampler struct {
	ffmpeg    string
	ffprobe   string
	maxFrames int
	run       Runner
	logger    *zap.Logger
}

func NewSampler(cfg SamplerConfig, logger *zap.Logger) *Sampler {
	s := &Sampler{
		ffmpeg:    cfg.FFmpegPath,
		ffprobe:   cfg.FFprobePath,
		maxFrames: cfg.MaxFrames,
		run:       execRunner,
		logger:    logger,
	}
	if s.ffmpeg == "" {
		s.ffmpeg = "ffmpeg"
	}
	if s.ffprobe == "" {
		s.ffprobe = "ffprobe"
	}
	if s.maxFrames <= 0 {
		s.maxFrames = 60
	}
	return s
}

// WithRunner swaps the command runner; used by tests.
func (s *Sampler) WithRunner(r Runner) *Sampler {
	s.run = r
	return s
}

func (s *Sampler) Open(ctx context.Context, sourceRef string, rateSeconds float64) (port.FrameStream, error) {
	if rateSeconds <= 0 || math.IsNaN(rateSeconds) {
		return nil, fmt.Errorf("invalid sample rate %v", rateSeconds)
	}
	if isLocalPath(sourceRef) {
		if _, err := os.Stat(sourceRef); err != nil {
			return nil, fmt.Errorf("%w: %v", entity.ErrSourceUnavailable, err)
		}
	}

	duration, err := s.probe(ctx, sourceRef)
	if err != nil {
		return nil, err
	}

	interval := rateSeconds
	if duration > 0 && duration/rateSeconds > float64(s.maxFrames) {
		interval = duration / float64(s.maxFrames)
	}

	s.logger.Debug("sampler opened",
		zap.String("source", sourceRef),
		zap.Float64("duration", duration),
		zap.Float64("interval", interval),
		zap.Int("max_frames", s.maxFrames),
	)

	return &stream{
		sampler:  s,
		source:   sourceRef,
		duration: duration,
		interval: interval,
	}, nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (s *Sampler) probe(ctx context.Context, source string) (float64, error) {
	out, err := s.run(ctx, s.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		source,
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, classify(err)
	}

	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return 0, fmt.Errorf("%w: unreadable ffprobe output: %v", entity.ErrUnsupportedFormat, err)
	}

	hasVideo := false
	for _, st := range po.Streams {
		if st.CodecType == "video" {
			hasVideo = true
			break
		}
	}
	if !hasVideo {
		return 0, fmt.Errorf("%w: no video stream", entity.ErrUnsupportedFormat)
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(po.Format.Duration), 64)
	if err != nil || d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		// Live or broken containers report N/A; sample until ffmpeg runs dry.
		return 0, nil
	}
	return d, nil
}

func (s *Sampler) grab(ctx context.Context, source string, ts float64) ([]byte, error) {
	out, err := s.run(ctx, s.ffmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", source,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

type stream struct {
	sampler  *Sampler
	source   string
	duration float64
	interval float64
	index    int
	done     bool
}

func (st *stream) Duration() float64 { return st.duration }

func (st *stream) Next(ctx context.Context) (*entity.Frame, error) {
	if st.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st.index >= st.sampler.maxFrames {
		st.done = true
		return nil, io.EOF
	}

	ts := float64(st.index) * st.interval
	if st.duration > 0 && ts >= st.duration {
		st.done = true
		return nil, io.EOF
	}

	img, err := st.sampler.grab(ctx, st.source, ts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if len(img) == 0 {
		st.done = true
		return nil, io.EOF
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame at %.3fs: %v", entity.ErrUnsupportedFormat, ts, err)
	}

	st.index++
	return &entity.Frame{
		Timestamp: ts,
		Image:     img,
		Width:     cfg.Width,
		Height:    cfg.Height,
	}, nil
}

func (st *stream) Close() error {
	st.done = true
	return nil
}

var sourceUnavailableMarkers = []string{
	"no such file or directory",
	"connection refused",
	"connection timed out",
	"server returned 4",
	"server returned 5",
	"input/output error",
	"permission denied",
	"failed to resolve hostname",
	"network is unreachable",
}

// classify maps ffmpeg/ffprobe failures onto the permanent source errors.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		if errors.Is(ce.Err, exec.ErrNotFound) {
			return fmt.Errorf("ffmpeg binary missing: %w", err)
		}
		msg := strings.ToLower(ce.Stderr)
		for _, marker := range sourceUnavailableMarkers {
			if strings.Contains(msg, marker) {
				return fmt.Errorf("%w: %v", entity.ErrSourceUnavailable, err)
			}
		}
	}
	return fmt.Errorf("%w: %v", entity.ErrUnsupportedFormat, err)
}

func isLocalPath(ref string) bool {
	return !strings.Contains(ref, "://")
}
