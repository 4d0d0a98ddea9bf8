package steps

import (
	"context"
	"errors"
	"fmt"

	"proxifier-go/internal/model"
)

// ErrDenied is returned by Deny for requests under a blocked prefix.
var ErrDenied = errors.New("request denied")

// DenyStep fails requests whose path falls under one of its prefixes.
type DenyStep struct {
	Prefixes []string
}

// Deny returns a step that rejects matching paths with ErrDenied.
func Deny(prefixes ...string) *DenyStep {
	return &DenyStep{Prefixes: prefixes}
}

// Process implements chain.Middleware.
func (s *DenyStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	if matchAny(req.Path, s.Prefixes) {
		return nil, fmt.Errorf("%w: %s %s", ErrDenied, req.Method, req.Path)
	}
	return next.Call(ctx)
}

// BypassStep ends the chain early for matching paths: later steps do not
// run and the request goes on exactly as this step received it.
type BypassStep struct {
	Prefixes []string
}

// Bypass returns a step that short-circuits the chain for matching paths.
func Bypass(prefixes ...string) *BypassStep {
	return &BypassStep{Prefixes: prefixes}
}

// Process implements chain.Middleware.
func (s *BypassStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	if matchAny(req.Path, s.Prefixes) {
		return req, nil
	}
	return next.Call(ctx)
}

func matchAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if hasPathPrefix(path, p) {
			return true
		}
	}
	return false
}
