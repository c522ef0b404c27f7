package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/scheduler"
	"github.com/martinatfullscale/fullscale-app-sub001/internal/usecase"
	"go.uber.org/zap"
)

const defaultBatchLimit = 10

// Scanner is the scheduler surface exposed over HTTP.
type Scanner interface {
	RequestScan(ctx context.Context, videoID string) (*scheduler.ScanJob, bool, error)
	RequestBatchScan(ctx context.Context, limit int) (int, error)
	Cancel(videoID string) bool
}

type Handlers struct {
	scanner  Scanner
	reader   *usecase.ReadSurfacesUseCase
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandlers(scanner Scanner, reader *usecase.ReadSurfacesUseCase, logger *zap.Logger) *Handlers {
	return &Handlers{
		scanner:  scanner,
		reader:   reader,
		validate: validator.New(),
		logger:   logger,
	}
}

type batchQuery struct {
	Limit int `query:"limit" validate:"gte=1,lte=100"`
}

type scanResponse struct {
	JobStarted bool   `json:"jobStarted"`
	JobID      string `json:"jobId"`
}

type surfacesResponse struct {
	Surfaces []entity.DetectedSurface `json:"surfaces"`
	Count    int                      `json:"count"`
}

type statusResponse struct {
	VideoID   string    `json:"videoId"`
	Status    string    `json:"status"`
	Count     int       `json:"count"`
	Terminal  bool      `json:"terminal"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RequestBatchScan handles POST /video-scan/batch?limit=N.
func (h *Handlers) RequestBatchScan(c *fiber.Ctx) error {
	q := batchQuery{Limit: defaultBatchLimit}
	if err := c.QueryParser(&q); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid query: "+err.Error())
	}
	if err := h.validate.Struct(q); err != nil {
		return respondError(c, fiber.StatusBadRequest, validationMessage(err))
	}

	n, err := h.scanner.RequestBatchScan(c.UserContext(), q.Limit)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"enqueued": n})
}

// RequestScan handles POST /video-scan/:videoId.
func (h *Handlers) RequestScan(c *fiber.Ctx) error {
	videoID := c.Params("videoId")
	if videoID == "" {
		return respondError(c, fiber.StatusBadRequest, "videoId is required")
	}

	job, started, err := h.scanner.RequestScan(c.UserContext(), videoID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(scanResponse{JobStarted: started, JobID: job.ID.String()})
}

// CancelScan handles DELETE /video-scan/:videoId.
func (h *Handlers) CancelScan(c *fiber.Ctx) error {
	cancelled := h.scanner.Cancel(c.Params("videoId"))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"cancelled": cancelled})
}

// ListSurfaces handles GET /video/:videoId/surfaces.
func (h *Handlers) ListSurfaces(c *fiber.Ctx) error {
	rows, err := h.reader.Surfaces(c.UserContext(), c.Params("videoId"))
	if err != nil {
		return err
	}
	return c.JSON(surfacesResponse{Surfaces: rows, Count: len(rows)})
}

// ScanStatus handles GET /video/:videoId/status.
func (h *Handlers) ScanStatus(c *fiber.Ctx) error {
	videoID := c.Params("videoId")
	status, updatedAt, err := h.reader.StatusAt(c.UserContext(), videoID)
	if err != nil {
		return err
	}
	return c.JSON(statusResponse{
		VideoID:   videoID,
		Status:    status.String(),
		Count:     status.Count,
		Terminal:  status.IsTerminal(),
		UpdatedAt: updatedAt,
	})
}

func respondError(c *fiber.Ctx, code int, message string) error {
	return c.Status(code).JSON(fiber.Map{"error": message})
}

// ErrorHandler maps domain errors onto status codes.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			return respondError(c, fe.Code, fe.Message)
		case errors.Is(err, entity.ErrVideoNotFound):
			return respondError(c, fiber.StatusNotFound, err.Error())
		case errors.Is(err, entity.ErrQueueFull), errors.Is(err, scheduler.ErrStopped):
			return respondError(c, fiber.StatusServiceUnavailable, err.Error())
		default:
			logger.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
			return respondError(c, fiber.StatusInternalServerError, err.Error())
		}
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	msg := "field '" + fe.Field() + "' failed on the '" + fe.Tag() + "' tag"
	if fe.Param() != "" {
		msg += " (value: " + fe.Param() + ")"
	}
	return msg
}
