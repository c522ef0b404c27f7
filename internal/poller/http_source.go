package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

// HTTPSource reads scan state from the service's HTTP API.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type statusPayload struct {
	VideoID   string    `json:"videoId"`
	Status    string    `json:"status"`
	Count     int       `json:"count"`
	Terminal  bool      `json:"terminal"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type surfacesPayload struct {
	Surfaces []entity.DetectedSurface `json:"surfaces"`
	Count    int                      `json:"count"`
}

type scanPayload struct {
	JobStarted bool   `json:"jobStarted"`
	JobID      string `json:"jobId"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *HTTPSource) Status(ctx context.Context, videoID string) (Snapshot, error) {
	var p statusPayload
	if err := s.do(ctx, http.MethodGet, "/video/"+url.PathEscape(videoID)+"/status", &p); err != nil {
		return Snapshot{}, err
	}
	status, err := entity.ParseScanStatus(p.Status)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Status: status, UpdatedAt: p.UpdatedAt}, nil
}

func (s *HTTPSource) Surfaces(ctx context.Context, videoID string) ([]entity.DetectedSurface, error) {
	var p surfacesPayload
	if err := s.do(ctx, http.MethodGet, "/video/"+url.PathEscape(videoID)+"/surfaces", &p); err != nil {
		return nil, err
	}
	return p.Surfaces, nil
}

// RequestScan triggers a scan and reports whether a new job was started.
func (s *HTTPSource) RequestScan(ctx context.Context, videoID string) (string, bool, error) {
	var p scanPayload
	if err := s.do(ctx, http.MethodPost, "/video-scan/"+url.PathEscape(videoID), &p); err != nil {
		return "", false, err
	}
	return p.JobID, p.JobStarted, nil
}

func (s *HTTPSource) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorPayload
		_ = json.Unmarshal(body, &e)
		msg := e.Error
		if msg == "" {
			msg = string(bytes.TrimSpace(body))
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", entity.ErrVideoNotFound, msg)
		case http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %s", entity.ErrQueueFull, msg)
		default:
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
