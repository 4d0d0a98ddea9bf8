// Package chain runs ordered middleware over a request using continuation passing.
//
// Each middleware receives the request and a Next continuation standing for
// the rest of the chain. A middleware decides whether the rest runs at all
// (by calling Next or not) and which request it sees (Call keeps the current
// one, CallWith substitutes another).
package chain

import (
	"context"
	"reflect"
	"slices"
)

// Middleware observes or transforms a request of type R.
type Middleware[R any] interface {
	Process(ctx context.Context, req R, next Next[R]) (R, error)
}

// MiddlewareFunc adapts an ordinary function to the Middleware interface.
type MiddlewareFunc[R any] func(ctx context.Context, req R, next Next[R]) (R, error)

// Process calls f(ctx, req, next).
func (f MiddlewareFunc[R]) Process(ctx context.Context, req R, next Next[R]) (R, error) {
	return f(ctx, req, next)
}

// Next is the continuation handed to a middleware. It is built fresh for
// every frame of every walk and holds no state shared with other walks.
//
// Calling Next more than once from the same middleware is not supported.
type Next[R any] struct {
	index       int
	middlewares []Middleware[R]
	req         R
}

// Call runs the remainder of the chain with the request bound to this frame.
func (n Next[R]) Call(ctx context.Context) (R, error) {
	return walk(ctx, n.req, n.middlewares, n.index)
}

// CallWith runs the remainder of the chain with req in place of the bound
// request, so every downstream middleware observes req.
func (n Next[R]) CallWith(ctx context.Context, req R) (R, error) {
	return walk(ctx, req, n.middlewares, n.index)
}

// Run executes middlewares in order starting at index 0 and returns the
// request produced by the walk. An empty list returns req unchanged.
//
// A middleware that returns a nil pointer, map, slice, func, channel or
// interface with a nil error yields the request it received. Other zero
// values, such as 0 for an int R, are returned as is.
//
// Errors are returned exactly as the failing middleware produced them.
// Once ctx is done no further middleware is entered.
func Run[R any](ctx context.Context, req R, middlewares []Middleware[R]) (R, error) {
	// Clip so an append by the caller after Run starts can never write into
	// the backing array this walk reads.
	return walk(ctx, req, slices.Clip(middlewares), 0)
}

func walk[R any](ctx context.Context, req R, middlewares []Middleware[R], index int) (R, error) {
	if index >= len(middlewares) {
		return req, nil
	}
	if err := ctx.Err(); err != nil {
		var zero R
		return zero, err
	}

	next := Next[R]{index: index + 1, middlewares: middlewares, req: req}
	out, err := middlewares[index].Process(ctx, req, next)
	if err != nil {
		var zero R
		return zero, err
	}
	if isNil(out) {
		return req, nil
	}
	return out, nil
}

func isNil[R any](v R) bool {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Chain is an immutable ordered list of middleware. Append returns a new
// Chain and never touches the receiver's backing array, so a Chain value
// captured by an in-flight walk is unaffected by later configuration.
type Chain[R any] struct {
	middlewares []Middleware[R]
}

// New returns a Chain holding middlewares in the given order.
func New[R any](middlewares ...Middleware[R]) Chain[R] {
	return Chain[R]{middlewares: slices.Clone(middlewares)}
}

// Append returns a Chain with middlewares added after the existing ones.
func (c Chain[R]) Append(middlewares ...Middleware[R]) Chain[R] {
	out := make([]Middleware[R], 0, len(c.middlewares)+len(middlewares))
	out = append(out, c.middlewares...)
	out = append(out, middlewares...)
	return Chain[R]{middlewares: out}
}

// Len returns the number of middlewares in the chain.
func (c Chain[R]) Len() int {
	return len(c.middlewares)
}

// Middlewares returns a copy of the ordered middleware list.
func (c Chain[R]) Middlewares() []Middleware[R] {
	return slices.Clone(c.middlewares)
}

// Run walks the chain over req. See the package-level Run.
func (c Chain[R]) Run(ctx context.Context, req R) (R, error) {
	return Run(ctx, req, c.middlewares)
}
