package steps

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"proxifier-go/internal/model"
)

// SetHeaderStep sets one header on a copy of the request.
type SetHeaderStep struct {
	Name  string
	Value string
}

// SetHeader returns a step that sets name to value.
func SetHeader(name, value string) *SetHeaderStep {
	return &SetHeaderStep{Name: name, Value: value}
}

// Process implements chain.Middleware.
func (s *SetHeaderStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	return next.CallWith(ctx, req.Clone(model.WithHeader(s.Name, s.Value)))
}

// RemoveHeadersStep drops headers from a copy of the request.
type RemoveHeadersStep struct {
	Names []string
}

// RemoveHeaders returns a step that removes the named headers.
func RemoveHeaders(names ...string) *RemoveHeadersStep {
	return &RemoveHeadersStep{Names: names}
}

// Process implements chain.Middleware.
func (s *RemoveHeadersStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	return next.CallWith(ctx, req.Clone(model.WithoutHeader(s.Names...)))
}

// RewritePathStep sends every request to a fixed path.
type RewritePathStep struct {
	Path string
}

// RewritePath returns a step that replaces the request path with path.
func RewritePath(path string) *RewritePathStep {
	return &RewritePathStep{Path: path}
}

// Process implements chain.Middleware.
func (s *RewritePathStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	return next.CallWith(ctx, req.Clone(model.WithPath(s.Path)))
}

// StripPrefixStep removes a leading path prefix.
type StripPrefixStep struct {
	Prefix string
}

// StripPrefix returns a step that removes prefix from matching paths.
// Paths that do not start with prefix pass through unchanged.
func StripPrefix(prefix string) *StripPrefixStep {
	return &StripPrefixStep{Prefix: strings.TrimSuffix(prefix, "/")}
}

// Process implements chain.Middleware.
func (s *StripPrefixStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	if !hasPathPrefix(req.Path, s.Prefix) {
		return next.Call(ctx)
	}
	rest := strings.TrimPrefix(req.Path, s.Prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return next.CallWith(ctx, req.Clone(model.WithPath(rest)))
}

// RequestIDStep stamps a request ID header when the caller sent none.
type RequestIDStep struct {
	Header string
	newID  func() string
}

// RequestID returns a step that fills header with a random UUID if absent.
func RequestID(header string) *RequestIDStep {
	return &RequestIDStep{Header: header, newID: uuid.NewString}
}

// Process implements chain.Middleware.
func (s *RequestIDStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	if req.Header.Get(s.Header) != "" {
		return next.Call(ctx)
	}
	return next.CallWith(ctx, req.Clone(model.WithHeader(s.Header, s.newID())))
}

// hasPathPrefix reports whether path equals prefix or lies beneath it.
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
