package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"go.uber.org/zap"
)

// RemoteServiceDetector delegates each frame to an external vision API.
type RemoteServiceDetector struct {
	inferenceURL string
	client       *http.Client
	logger       *zap.Logger
}

func NewRemoteServiceDetector(inferenceURL string, timeout time.Duration, logger *zap.Logger) *RemoteServiceDetector {
	return &RemoteServiceDetector{
		inferenceURL: inferenceURL,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

func (d *RemoteServiceDetector) Name() string { return "remote" }

type remoteDetection struct {
	Class      string   `json:"class"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Score      *float64 `json:"score"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
}

type remoteResponse struct {
	Normalized bool              `json:"normalized"`
	Detections []remoteDetection `json:"detections"`
}

func (d *RemoteServiceDetector) Detect(ctx context.Context, frame entity.Frame) ([]entity.RawDetection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", fmt.Sprintf("frame_%.3f.png", frame.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(frame.Image)); err != nil {
		return nil, fmt.Errorf("copy frame data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.inferenceURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: send request: %v", entity.ErrServiceError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: inference failed with status %d: %s", entity.ErrServiceError, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", entity.ErrServiceError, err)
	}

	out := make([]entity.RawDetection, 0, len(result.Detections))
	for i, rd := range result.Detections {
		label := rd.Class
		if label == "" {
			label = rd.Label
		}
		score := rd.Confidence
		if score == nil {
			score = rd.Score
		}
		if label == "" || score == nil {
			return nil, fmt.Errorf("%w: detection %d missing label or score", entity.ErrServiceError, i)
		}

		var box entity.BoundingBox
		if result.Normalized {
			box = entity.BoundingBox{X: rd.X, Y: rd.Y, Width: rd.Width, Height: rd.Height}.Clamp()
		} else {
			box = entity.NormalizePixelBox(rd.X, rd.Y, rd.Width, rd.Height, frame.Width, frame.Height)
		}
		out = append(out, entity.RawDetection{Label: label, Score: *score, Box: box})
	}

	d.logger.Debug("remote detection done",
		zap.Float64("timestamp", frame.Timestamp),
		zap.Int("detections", len(out)),
	)
	return out, nil
}

// CheckHealth probes /health on the inference service's host.
func (d *RemoteServiceDetector) CheckHealth(ctx context.Context) error {
	u, err := url.Parse(d.inferenceURL)
	if err != nil {
		return fmt.Errorf("parse inference url: %w", err)
	}
	u.Path, u.RawQuery = "/health", ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrServiceError, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: inference service unhealthy: %d", entity.ErrServiceError, resp.StatusCode)
	}
	return nil
}
