// Package proxifier binds a pre-chain, a forwarding handler and a post-chain
// into a single request lifecycle.
package proxifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"proxifier-go/internal/chain"
)

var (
	// ErrNilHandler is returned when a nil handler is installed.
	ErrNilHandler = errors.New("proxifier: handler must not be nil")

	// ErrNilMiddleware is returned when a nil middleware is added to a chain.
	ErrNilMiddleware = errors.New("proxifier: middleware must not be nil")

	// ErrTransport tags failures of the handler's network call.
	ErrTransport = errors.New("transport failure")
)

// Handler turns a request into a response.
type Handler[Req, Resp any] interface {
	Forward(ctx context.Context, req Req) (Resp, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Forward calls f(ctx, req).
func (f HandlerFunc[Req, Resp]) Forward(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// RequestHandler is a Handler backed by a transport session that can be
// inspected and swapped, e.g. for a fake transport in tests.
type RequestHandler[Req, Resp, S any] interface {
	Handler[Req, Resp]
	Session() S
	SetSession(S)
}

// Option configures a Proxifier at construction.
type Option[Req, Resp any] func(*Proxifier[Req, Resp]) error

// WithPre appends middlewares to the pre-chain.
func WithPre[Req, Resp any](mws ...chain.Middleware[Req]) Option[Req, Resp] {
	return func(p *Proxifier[Req, Resp]) error { return p.AddPreMany(mws) }
}

// WithPost appends middlewares to the post-chain.
func WithPost[Req, Resp any](mws ...chain.Middleware[Req]) Option[Req, Resp] {
	return func(p *Proxifier[Req, Resp]) error { return p.AddPostMany(mws) }
}

// WithLogger sets the logger used for pipeline diagnostics.
func WithLogger[Req, Resp any](logger *slog.Logger) Option[Req, Resp] {
	return func(p *Proxifier[Req, Resp]) error {
		if logger != nil {
			p.logger = logger.With("component", "proxifier")
		}
		return nil
	}
}

// Proxifier runs requests through pre-chain, handler and post-chain.
//
// Chains are meant to be configured before traffic starts. Configuration
// calls made while requests are in flight are safe but only affect Handle
// calls that begin afterwards.
type Proxifier[Req, Resp any] struct {
	mu      sync.RWMutex
	pre     chain.Chain[Req]
	post    chain.Chain[Req]
	handler Handler[Req, Resp]
	logger  *slog.Logger
}

// New creates a Proxifier that forwards through h.
func New[Req, Resp any](h Handler[Req, Resp], opts ...Option[Req, Resp]) (*Proxifier[Req, Resp], error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	p := &Proxifier[Req, Resp]{
		handler: h,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Handle runs the full lifecycle for one request:
//
//  1. the pre-chain, whose output replaces req;
//  2. the handler, on that request;
//  3. the post-chain, on the same request (not on the response);
//  4. the handler's response is returned whatever the post-chain produced.
//
// Empty chains are skipped without entering the executor. Any failure ends
// the call; a handler failure means the post-chain does not run.
func (p *Proxifier[Req, Resp]) Handle(ctx context.Context, req Req) (Resp, error) {
	p.mu.RLock()
	pre, post, h := p.pre, p.post, p.handler
	p.mu.RUnlock()

	var zero Resp

	req, err := p.runStage(ctx, pre, req, "pre")
	if err != nil {
		return zero, err
	}

	resp, err := h.Forward(ctx, req)
	if err != nil {
		p.logger.Debug("handler failed", "err", err)
		return zero, fmt.Errorf("handler: %w", err)
	}

	// Post middleware observes the request that went upstream; its result is
	// discarded and the handler's response is returned as is.
	if _, err := p.runStage(ctx, post, req, "post"); err != nil {
		return zero, err
	}

	return resp, nil
}

// RunPre runs only the pre-chain over req and returns its output, for callers
// that forward the request themselves. An empty pre-chain returns req.
func (p *Proxifier[Req, Resp]) RunPre(ctx context.Context, req Req) (Req, error) {
	p.mu.RLock()
	pre := p.pre
	p.mu.RUnlock()
	return p.runStage(ctx, pre, req, "pre")
}

// RunPost runs only the post-chain over req, the request that was sent.
// An empty post-chain returns req.
func (p *Proxifier[Req, Resp]) RunPost(ctx context.Context, req Req) (Req, error) {
	p.mu.RLock()
	post := p.post
	p.mu.RUnlock()
	return p.runStage(ctx, post, req, "post")
}

func (p *Proxifier[Req, Resp]) runStage(ctx context.Context, c chain.Chain[Req], req Req, stage string) (Req, error) {
	if c.Len() == 0 {
		return req, nil
	}
	out, err := c.Run(ctx, req)
	if err != nil {
		p.logger.Debug(stage+" middleware failed", "err", err)
		var zero Req
		return zero, fmt.Errorf("%s middleware: %w", stage, err)
	}
	return out, nil
}

// AddPre appends one middleware to the pre-chain.
func (p *Proxifier[Req, Resp]) AddPre(m chain.Middleware[Req]) error {
	return p.AddPreMany([]chain.Middleware[Req]{m})
}

// AddPreMany appends middlewares to the pre-chain in order. If any entry is
// nil nothing is appended.
func (p *Proxifier[Req, Resp]) AddPreMany(mws []chain.Middleware[Req]) error {
	if err := checkMiddlewares(mws); err != nil {
		return err
	}
	p.mu.Lock()
	p.pre = p.pre.Append(mws...)
	p.mu.Unlock()
	return nil
}

// AddPost appends one middleware to the post-chain.
func (p *Proxifier[Req, Resp]) AddPost(m chain.Middleware[Req]) error {
	return p.AddPostMany([]chain.Middleware[Req]{m})
}

// AddPostMany appends middlewares to the post-chain in order. If any entry
// is nil nothing is appended.
func (p *Proxifier[Req, Resp]) AddPostMany(mws []chain.Middleware[Req]) error {
	if err := checkMiddlewares(mws); err != nil {
		return err
	}
	p.mu.Lock()
	p.post = p.post.Append(mws...)
	p.mu.Unlock()
	return nil
}

// Handler returns the current handler.
func (p *Proxifier[Req, Resp]) Handler() Handler[Req, Resp] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handler
}

// SetHandler replaces the handler for subsequent Handle calls.
func (p *Proxifier[Req, Resp]) SetHandler(h Handler[Req, Resp]) error {
	if h == nil {
		return ErrNilHandler
	}
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return nil
}

// PreMiddlewares returns a copy of the pre-chain.
func (p *Proxifier[Req, Resp]) PreMiddlewares() []chain.Middleware[Req] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pre.Middlewares()
}

// PostMiddlewares returns a copy of the post-chain.
func (p *Proxifier[Req, Resp]) PostMiddlewares() []chain.Middleware[Req] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.post.Middlewares()
}

func checkMiddlewares[Req any](mws []chain.Middleware[Req]) error {
	for i, m := range mws {
		if m == nil {
			return fmt.Errorf("%w (index %d)", ErrNilMiddleware, i)
		}
	}
	return nil
}
