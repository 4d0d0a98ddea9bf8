package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"proxifier-go/internal/metrics"
	"proxifier-go/internal/middleware"
	"proxifier-go/internal/model"
	"proxifier-go/internal/proxifier"
	"proxifier-go/internal/steps"
)

// secretParamPattern matches credential-like query values in URLs embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)((?:api_?key|access_token|token|secret|password)=)[^&\s"]+`)

// errEmptyResponse reports a pipeline that returned neither a response nor an error.
var errEmptyResponse = errors.New("pipeline returned no response")

// Pipeline runs a request through the pre chain, the upstream and the post chain.
type Pipeline interface {
	Handle(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error)
}

// ProxyHandler hands every unmatched request to the pipeline and streams the result back.
type ProxyHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. m may be nil.
func NewProxyHandler(p Pipeline, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		pipeline: p,
		logger:   logger.With("component", "proxy_handler"),
		metrics:  m,
	}
}

// Handle proxies the request through the pipeline and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he
			}
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": "request body too large",
				})
			}
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "reading request body failed",
			})
		}
		body = b
	}

	pr := &model.ProxyRequest{
		Method:     req.Method,
		Path:       req.URL.Path,
		RawPath:    req.URL.RawPath,
		Query:      req.URL.Query(),
		Header:     req.Header.Clone(),
		Body:       body,
		RemoteAddr: c.RealIP(),
	}

	resp, err := h.pipeline.Handle(req.Context(), pr)
	if err != nil {
		return h.mapError(c, err)
	}
	if resp == nil || resp.Body == nil {
		return h.mapError(c, errEmptyResponse)
	}
	defer func() { _ = resp.Body.Close() }()

	header := resp.Header.Clone()
	middleware.StripHopByHop(header)
	for key, vals := range header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent; a copy failure leaves the client with a
	// truncated body, so only log it.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	status, kind, msg := classify(err)

	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"kind", kind,
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.PipelineErrors.WithLabelValues(kind).Inc()
	}

	return c.JSON(status, map[string]string{"error": msg})
}

// classify maps a pipeline error to a status code, a bounded metric label and
// a client-facing message.
func classify(err error) (status int, kind, msg string) {
	if errors.Is(err, steps.ErrDenied) {
		return http.StatusForbidden, "denied", "request denied by proxy policy"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout", "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, "canceled", "client disconnected"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "transport", "upstream host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return http.StatusBadGateway, "transport", "upstream connection failed"
	}

	if errors.Is(err, errEmptyResponse) {
		return http.StatusBadGateway, "empty_response", "upstream returned no response"
	}

	if errors.Is(err, proxifier.ErrTransport) {
		return http.StatusBadGateway, "transport", "upstream request failed"
	}

	return http.StatusInternalServerError, "middleware", "proxy pipeline failed"
}

// sanitizeError redacts credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
