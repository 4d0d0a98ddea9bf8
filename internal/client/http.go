// Package client provides the standard upstream HTTP handler for the proxy pipeline.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"proxifier-go/internal/config"
	"proxifier-go/internal/metrics"
	"proxifier-go/internal/model"
	"proxifier-go/internal/proxifier"
)

var _ proxifier.RequestHandler[*model.ProxyRequest, *model.ProxyResponse, *http.Client] = (*HTTPHandler)(nil)

// HTTPHandler forwards ProxyRequests to the configured upstream over a pooled
// *http.Client. The client is its session: shared by all concurrent calls and
// replaceable through SetSession.
type HTTPHandler struct {
	mu      sync.RWMutex
	session *http.Client

	cfg     *config.Config
	baseURL *url.URL
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHTTPHandler creates an HTTPHandler with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewHTTPHandler(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*HTTPHandler, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &HTTPHandler{
		session: NewSession(cfg),
		cfg:     cfg,
		baseURL: u,
		logger:  logger.With("component", "http_handler"),
		metrics: m,
	}, nil
}

// NewSession builds the pooled *http.Client used as the default session.
func NewSession(cfg *config.Config) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}
}

// Session returns the *http.Client used for upstream calls.
func (h *HTTPHandler) Session() *http.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// SetSession replaces the *http.Client used for subsequent calls.
// A nil session restores a fresh default one.
func (h *HTTPHandler) SetSession(s *http.Client) {
	if s == nil {
		s = NewSession(h.cfg)
	}
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
}

// ForwardOption tweaks a single Forward call.
type ForwardOption func(*forwardOptions)

type forwardOptions struct {
	timeout time.Duration
	baseURL *url.URL
}

// WithTimeout bounds one upstream call independently of the session timeout.
func WithTimeout(d time.Duration) ForwardOption {
	return func(o *forwardOptions) { o.timeout = d }
}

// WithBaseURL sends one call to a different upstream.
func WithBaseURL(u *url.URL) ForwardOption {
	return func(o *forwardOptions) { o.baseURL = u }
}

// Forward sends req upstream with the same method, path, query, headers and
// body, and returns the upstream response. The caller closes the response body.
//
// Failures are returned as proxifier.ErrTransport joined with the cause.
func (h *HTTPHandler) Forward(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error) {
	return h.ForwardWith(ctx, req)
}

// ForwardWith is Forward with per-call options.
func (h *HTTPHandler) ForwardWith(ctx context.Context, req *model.ProxyRequest, opts ...ForwardOption) (*model.ProxyResponse, error) {
	o := forwardOptions{baseURL: h.baseURL}
	for _, opt := range opts {
		opt(&o)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		// The body outlives this call; cancel when the caller closes it.
		resp, err := h.do(ctx, o.baseURL, req)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return h.do(ctx, o.baseURL, req)
}

func (h *HTTPHandler) do(ctx context.Context, base *url.URL, req *model.ProxyRequest) (*model.ProxyResponse, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, buildUpstreamURL(base, req.Path, req.RawPath, req.Query), body)
	if err != nil {
		return nil, errors.Join(proxifier.ErrTransport, fmt.Errorf("build upstream request: %w", err))
	}
	if req.Header != nil {
		upstreamReq.Header = req.Header.Clone()
	}

	h.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.Path,
	)

	start := time.Now()
	resp, err := h.Session().Do(upstreamReq) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if h.metrics != nil {
			h.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, errors.Join(proxifier.ErrTransport, fmt.Errorf("upstream request: %w", err))
	}

	if h.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		h.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		h.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// buildUpstreamURL appends the request path to the base URL path as is,
// without cleaning, and re-encodes the query. rawPath, when set, is the
// encoded form of reqPath and is kept on the wire.
func buildUpstreamURL(base *url.URL, reqPath, rawPath string, query url.Values) string {
	u := *base
	if reqPath != "" {
		u.Path = strings.TrimSuffix(base.Path, "/") + reqPath
		u.RawPath = ""
		if rawPath != "" {
			u.RawPath = strings.TrimSuffix(base.EscapedPath(), "/") + rawPath
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
