package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"proxifier-go/internal/config"
	"proxifier-go/internal/metrics"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	defer upstream.Close()

	cfg := upstreamConfig(upstream.URL, config.StepConfig{Kind: config.StepDeny, Prefixes: []string{"/admin"}})
	cfg.Metrics = config.MetricsConfig{Enabled: true, Path: "/metrics"}
	m := metrics.New()

	p := newTestPipeline(t, cfg)
	proxy := NewProxyHandler(p, discardLogger(), m)
	health := NewHealthHandler(cfg, "test", p)

	e := echo.New()
	RegisterRoutes(e, cfg, m, proxy, health)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"GET / is proxied", http.MethodGet, "/", http.StatusOK},
		{"GET nested path is proxied", http.MethodGet, "/v1/search/?q=test", http.StatusOK},
		{"POST is proxied", http.MethodPost, "/v1/items", http.StatusOK},
		{"DELETE is proxied", http.MethodDelete, "/v1/items/1", http.StatusOK},
		{"denied path", http.MethodGet, "/admin/settings", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "upstream:"+r.URL.Path)
	}))
	defer upstream.Close()

	cfg := upstreamConfig(upstream.URL)
	cfg.Metrics = config.MetricsConfig{Enabled: false, Path: "/metrics"}

	p := newTestPipeline(t, cfg)
	e := echo.New()
	RegisterRoutes(e, cfg, metrics.New(), NewProxyHandler(p, discardLogger(), nil), NewHealthHandler(cfg, "test", p))

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Body.String(); !strings.HasPrefix(got, "upstream:/metrics") {
		t.Errorf("body = %q, want the request proxied upstream", got)
	}
}
