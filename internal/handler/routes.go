package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxifier-go/internal/config"
	"proxifier-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Local
// endpoints are registered first; every other path goes to the proxy.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
