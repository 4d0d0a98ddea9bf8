// Package model defines the request and response values that flow through the proxy pipeline.
package model

import (
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents one inbound call on its way upstream.
//
// Pipeline steps treat a ProxyRequest as immutable: any change is made on a
// copy obtained from Clone, so holders of the previous value keep their view.
type ProxyRequest struct {
	Method string
	Path   string
	// RawPath is the encoded form of Path when it differs from the default
	// encoding, e.g. "/a%2Fb" for Path "/a/b". Empty otherwise.
	RawPath    string
	Query      url.Values
	Header     http.Header
	Body       []byte
	RemoteAddr string
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// CloneOption overrides one field of a cloned ProxyRequest.
type CloneOption func(*ProxyRequest)

// WithMethod overrides the HTTP method.
func WithMethod(method string) CloneOption {
	return func(r *ProxyRequest) { r.Method = method }
}

// WithPath overrides the request path and drops any encoded form of the old one.
func WithPath(path string) CloneOption {
	return func(r *ProxyRequest) {
		r.Path = path
		r.RawPath = ""
	}
}

// WithQuery replaces the query parameters.
func WithQuery(query url.Values) CloneOption {
	return func(r *ProxyRequest) { r.Query = cloneValues(query) }
}

// WithHeader sets a single header, replacing any existing values.
func WithHeader(key, value string) CloneOption {
	return func(r *ProxyRequest) { r.Header.Set(key, value) }
}

// WithoutHeader removes the named headers.
func WithoutHeader(keys ...string) CloneOption {
	return func(r *ProxyRequest) {
		for _, k := range keys {
			r.Header.Del(k)
		}
	}
}

// WithBody replaces the request body.
func WithBody(body []byte) CloneOption {
	return func(r *ProxyRequest) { r.Body = append([]byte(nil), body...) }
}

// Clone returns a deep copy of r with opts applied to the copy.
// The receiver is never modified. Cloning a nil request yields an empty one.
func (r *ProxyRequest) Clone(opts ...CloneOption) *ProxyRequest {
	c := &ProxyRequest{Header: make(http.Header), Query: make(url.Values)}
	if r != nil {
		c.Method = r.Method
		c.Path = r.Path
		c.RawPath = r.RawPath
		c.RemoteAddr = r.RemoteAddr
		if r.Header != nil {
			c.Header = r.Header.Clone()
		}
		if r.Query != nil {
			c.Query = cloneValues(r.Query)
		}
		if r.Body != nil {
			c.Body = append([]byte(nil), r.Body...)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target returns the path with its encoded query string.
func (r *ProxyRequest) Target() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

func cloneValues(src url.Values) url.Values {
	dst := make(url.Values, len(src))
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
	return dst
}
