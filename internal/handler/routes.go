package handler

import (
	"github.com/labstack/echo/v4"

	"form-relay/internal/config"
	"form-relay/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, relay *RelayHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	e.POST(config.RelayPath, relay.Handle)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}
}
