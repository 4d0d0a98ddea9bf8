// Package steps provides middleware for *model.ProxyRequest pipelines.
//
// Every step leaves its input untouched: changes are made on a clone that is
// handed downstream with Next.CallWith.
package steps

import (
	"context"
	"log/slog"

	"proxifier-go/internal/chain"
	"proxifier-go/internal/metrics"
	"proxifier-go/internal/model"
)

// Middleware is a chain step over proxy requests.
type Middleware = chain.Middleware[*model.ProxyRequest]

// Next is the continuation passed to a Middleware.
type Next = chain.Next[*model.ProxyRequest]

// Stage labels for Count.
const (
	StagePre  = "pre"
	StagePost = "post"
)

// LoggerStep logs each request it sees and continues unchanged.
type LoggerStep struct {
	logger *slog.Logger
}

// Logger returns a step that logs method, target and remote address.
func Logger(logger *slog.Logger) *LoggerStep {
	return &LoggerStep{logger: logger.With("component", "pipeline")}
}

// Process implements chain.Middleware.
func (s *LoggerStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	s.logger.InfoContext(ctx, "handling request",
		"method", req.Method,
		"target", req.Target(),
		"remote_addr", req.RemoteAddr,
	)
	return next.Call(ctx)
}

// AuditStep records what was sent upstream. It is meant for the post-chain.
type AuditStep struct {
	logger *slog.Logger
}

// Audit returns a post-chain step logging the forwarded request.
func Audit(logger *slog.Logger) *AuditStep {
	return &AuditStep{logger: logger.With("component", "audit")}
}

// Process implements chain.Middleware.
func (s *AuditStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	s.logger.InfoContext(ctx, "request forwarded",
		"method", req.Method,
		"target", req.Target(),
		"headers", len(req.Header),
		"body_bytes", len(req.Body),
	)
	return next.Call(ctx)
}

// CountStep increments the pipeline request counter for its stage.
type CountStep struct {
	m     *metrics.Metrics
	stage string
}

// Count returns a step that counts requests passing through stage.
func Count(m *metrics.Metrics, stage string) *CountStep {
	return &CountStep{m: m, stage: stage}
}

// Process implements chain.Middleware.
func (s *CountStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	s.m.StepRequests.WithLabelValues(s.stage, metrics.NormalizeMethod(req.Method)).Inc()
	return next.Call(ctx)
}
