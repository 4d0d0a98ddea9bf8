package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"proxifier-go/internal/config"
	"proxifier-go/internal/steps"
)

// Version is a string type for dependency injection of the build version.
type Version string

// ChainInspector exposes the configured pre and post chains.
type ChainInspector interface {
	PreMiddlewares() []steps.Middleware
	PostMiddlewares() []steps.Middleware
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	chains  ChainInspector
}

// NewHealthHandler creates a HealthHandler. chains may be nil.
func NewHealthHandler(cfg *config.Config, v Version, chains ChainInspector) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, chains: chains}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	UpstreamURL string `json:"upstream_url"`
	PreSteps    int    `json:"pre_steps"`
	PostSteps   int    `json:"post_steps"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:      "ok",
		Version:     string(h.version),
		UpstreamURL: h.cfg.Upstream.BaseURL,
	}
	if h.chains != nil {
		resp.PreSteps = len(h.chains.PreMiddlewares())
		resp.PostSteps = len(h.chains.PostMiddlewares())
	}
	return c.JSON(http.StatusOK, resp)
}
