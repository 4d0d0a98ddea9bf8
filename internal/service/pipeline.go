// Package service assembles the configured proxy pipeline.
package service

import (
	"fmt"
	"log/slog"
	"time"

	"proxifier-go/internal/client"
	"proxifier-go/internal/config"
	"proxifier-go/internal/metrics"
	"proxifier-go/internal/model"
	"proxifier-go/internal/proxifier"
	"proxifier-go/internal/steps"
)

// Proxifier is the HTTP instantiation of the generic pipeline.
type Proxifier = proxifier.Proxifier[*model.ProxyRequest, *model.ProxyResponse]

// NewProxifier builds a Proxifier forwarding through h, with the pre and post
// chains described by cfg.Pipeline. When m is non-nil each non-empty chain
// is prefixed with a counting step; empty chains stay empty so Handle skips
// them.
func NewProxifier(cfg *config.Config, h *client.HTTPHandler, logger *slog.Logger, m *metrics.Metrics) (*Proxifier, error) {
	pre, err := BuildSteps(cfg.Pipeline.Pre, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline.pre: %w", err)
	}
	post, err := BuildSteps(cfg.Pipeline.Post, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline.post: %w", err)
	}

	if m != nil {
		if len(pre) > 0 {
			pre = append([]steps.Middleware{steps.Count(m, steps.StagePre)}, pre...)
		}
		if len(post) > 0 {
			post = append([]steps.Middleware{steps.Count(m, steps.StagePost)}, post...)
		}
	}

	p, err := proxifier.New(proxifier.Handler[*model.ProxyRequest, *model.ProxyResponse](h),
		proxifier.WithLogger[*model.ProxyRequest, *model.ProxyResponse](logger),
		proxifier.WithPre[*model.ProxyRequest, *model.ProxyResponse](pre...),
		proxifier.WithPost[*model.ProxyRequest, *model.ProxyResponse](post...),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("pipeline configured",
		"pre_steps", len(p.PreMiddlewares()),
		"post_steps", len(p.PostMiddlewares()),
		"upstream", cfg.Upstream.BaseURL,
	)
	return p, nil
}

// BuildSteps turns step configs into middleware, preserving order.
func BuildSteps(cfgs []config.StepConfig, logger *slog.Logger) ([]steps.Middleware, error) {
	out := make([]steps.Middleware, 0, len(cfgs))
	for i, sc := range cfgs {
		s, err := BuildStep(sc, logger)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// BuildStep creates the middleware for one step config.
func BuildStep(sc config.StepConfig, logger *slog.Logger) (steps.Middleware, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	switch sc.Kind {
	case config.StepLog:
		return steps.Logger(logger), nil
	case config.StepAudit:
		return steps.Audit(logger), nil
	case config.StepSetHeader:
		return steps.SetHeader(sc.Header, sc.Value), nil
	case config.StepRemoveHeader:
		names := sc.Headers
		if sc.Header != "" {
			names = append([]string{sc.Header}, names...)
		}
		return steps.RemoveHeaders(names...), nil
	case config.StepRewritePath:
		return steps.RewritePath(sc.Path), nil
	case config.StepStripPrefix:
		return steps.StripPrefix(sc.Prefix), nil
	case config.StepRequestID:
		header := sc.Header
		if header == "" {
			header = "X-Request-Id"
		}
		return steps.RequestID(header), nil
	case config.StepBearerToken:
		ttl := time.Duration(sc.TTLSeconds) * time.Second
		if ttl == 0 {
			ttl = 5 * time.Minute
		}
		return steps.BearerToken(sc.Secret, sc.Issuer, sc.Subject, ttl), nil
	case config.StepDeny:
		return steps.Deny(sc.Prefixes...), nil
	case config.StepBypass:
		return steps.Bypass(sc.Prefixes...), nil
	}
	return nil, fmt.Errorf("unsupported step kind %q", sc.Kind)
}
