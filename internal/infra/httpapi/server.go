package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ServerConfig struct {
	// JWTSecret enables bearer auth on the scan endpoints when set.
	JWTSecret string
}

// NewApp wires routes and middleware.
func NewApp(h *Handlers, cfg ServerConfig, logger *zap.Logger) *fiber.App {
	// Immutable: route params are kept by the scan registry after the request.
	app := fiber.New(fiber.Config{
		AppName:               "surface-scan-service",
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler:          ErrorHandler(logger),
	})

	app.Use(RequestLogger(logger))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "dataSource": h.reader.Source()})
	})

	scans := app.Group("/video-scan")
	if cfg.JWTSecret != "" {
		scans.Use(JWTAuth([]byte(cfg.JWTSecret)))
	}
	scans.Post("/batch", h.RequestBatchScan)
	scans.Post("/:videoId", h.RequestScan)
	scans.Delete("/:videoId", h.CancelScan)

	videos := app.Group("/video")
	videos.Get("/:videoId/surfaces", h.ListSurfaces)
	videos.Get("/:videoId/status", h.ScanStatus)

	return app
}
