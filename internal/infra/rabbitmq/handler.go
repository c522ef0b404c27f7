package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/scheduler"
	"go.uber.org/zap"
)

// ScanRequester is the part of the scheduler the consumer drives.
type ScanRequester interface {
	RequestScan(ctx context.Context, videoID string) (*scheduler.ScanJob, bool, error)
	RequestBatchScan(ctx context.Context, limit int) (int, error)
}

type DeadLetterer interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}

// NewScanRequestHandler turns video.scan messages into scheduler calls.
// Malformed or unknown-video messages go to the DLQ; a full queue is
// returned as an error so the delivery is requeued.
func NewScanRequestHandler(requester ScanRequester, dlq DeadLetterer, logger *zap.Logger) MessageHandler {
	return func(ctx context.Context, body []byte) error {
		var msg entity.ScanRequestMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			logger.Error("failed to unmarshal scan request", zap.Error(err), zap.ByteString("body", body))
			_ = dlq.PublishToDLQ(ctx, body, "unmarshal_error: "+err.Error())
			return nil
		}

		switch {
		case msg.VideoID != "":
			job, started, err := requester.RequestScan(ctx, msg.VideoID)
			if errors.Is(err, entity.ErrVideoNotFound) {
				logger.Warn("scan requested for unknown video", zap.String("video_id", msg.VideoID))
				_ = dlq.PublishToDLQ(ctx, body, "video_not_found")
				return nil
			}
			if err != nil {
				return fmt.Errorf("request scan %s: %w", msg.VideoID, err)
			}
			logger.Info("scan request accepted",
				zap.String("video_id", msg.VideoID),
				zap.String("job_id", job.ID.String()),
				zap.Bool("job_started", started),
			)
			return nil

		case msg.BatchLimit > 0:
			n, err := requester.RequestBatchScan(ctx, msg.BatchLimit)
			if err != nil {
				return fmt.Errorf("request batch scan: %w", err)
			}
			logger.Info("batch scan request accepted", zap.Int("limit", msg.BatchLimit), zap.Int("enqueued", n))
			return nil

		default:
			_ = dlq.PublishToDLQ(ctx, body, "empty_request")
			return nil
		}
	}
}
