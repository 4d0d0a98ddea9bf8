package steps

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"proxifier-go/internal/chain"
	"proxifier-go/internal/metrics"
	"proxifier-go/internal/model"
)

// captureStep records the request it receives and continues.
type captureStep struct {
	seen  *model.ProxyRequest
	calls int
}

func (c *captureStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	c.calls++
	c.seen = req
	return next.Call(ctx)
}

func run(t *testing.T, req *model.ProxyRequest, mws ...Middleware) (*model.ProxyRequest, error) {
	t.Helper()
	return chain.Run(context.Background(), req, mws)
}

func newRequest() *model.ProxyRequest {
	return &model.ProxyRequest{
		Method:     http.MethodGet,
		Path:       "/api/v1/users",
		Query:      url.Values{"page": {"1"}},
		Header:     http.Header{"Accept": {"application/json"}, "Cookie": {"sid=1"}},
		RemoteAddr: "192.0.2.10:4321",
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	req := newRequest()

	got, err := run(t, req, Logger(logger))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != req {
		t.Error("Logger changed the request identity")
	}
	out := buf.String()
	for _, want := range []string{"handling request", "method=GET", "target=\"/api/v1/users?page=1\"", "remote_addr=192.0.2.10:4321"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if _, err := run(t, newRequest(), Audit(logger)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(buf.String(), "request forwarded") {
		t.Errorf("log output = %q, want audit record", buf.String())
	}
}

func TestSetHeader(t *testing.T) {
	req := newRequest()
	capture := &captureStep{}

	got, err := run(t, req, SetHeader("X-Proxy", "proxifier"), capture)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got == req {
		t.Fatal("SetHeader returned the original request; want a clone")
	}
	if capture.seen != got {
		t.Error("downstream step did not see the substituted request")
	}
	if v := got.Header.Get("X-Proxy"); v != "proxifier" {
		t.Errorf("X-Proxy = %q, want %q", v, "proxifier")
	}
	if v := req.Header.Get("X-Proxy"); v != "" {
		t.Errorf("original request mutated: X-Proxy = %q", v)
	}
}

func TestRemoveHeaders(t *testing.T) {
	req := newRequest()

	got, err := run(t, req, RemoveHeaders("Cookie", "Authorization"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.Header.Get("Cookie") != "" {
		t.Error("Cookie header not removed")
	}
	if got.Header.Get("Accept") == "" {
		t.Error("Accept header removed unexpectedly")
	}
	if req.Header.Get("Cookie") == "" {
		t.Error("original request mutated")
	}
}

func TestRewritePath(t *testing.T) {
	req := newRequest()

	got, err := run(t, req, RewritePath("/"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.Path != "/" {
		t.Errorf("Path = %q, want %q", got.Path, "/")
	}
	if got.Query.Get("page") != "1" {
		t.Error("query dropped by RewritePath")
	}
	if req.Path != "/api/v1/users" {
		t.Errorf("original path mutated: %q", req.Path)
	}
}

func TestStripPrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		path   string
		want   string
	}{
		{"strips", "/api", "/api/v1/users", "/v1/users"},
		{"exact match becomes root", "/api", "/api", "/"},
		{"trailing slash prefix", "/api/", "/api/v1", "/v1"},
		{"no match passes through", "/api", "/apiary", "/apiary"},
		{"other path passes through", "/api", "/health", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &model.ProxyRequest{Method: http.MethodGet, Path: tt.path}
			got, err := run(t, req, StripPrefix(tt.prefix))
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if got.Path != tt.want {
				t.Errorf("Path = %q, want %q", got.Path, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	t.Run("stamps when absent", func(t *testing.T) {
		got, err := run(t, newRequest(), RequestID("X-Request-Id"))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		id := got.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("X-Request-Id = %q, want a UUID: %v", id, err)
		}
	})

	t.Run("keeps existing", func(t *testing.T) {
		req := newRequest()
		req.Header.Set("X-Request-Id", "caller-id")

		got, err := run(t, req, RequestID("X-Request-Id"))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got != req {
			t.Error("RequestID cloned a request that already had an ID")
		}
		if v := got.Header.Get("X-Request-Id"); v != "caller-id" {
			t.Errorf("X-Request-Id = %q, want %q", v, "caller-id")
		}
	})
}

func TestBearerToken(t *testing.T) {
	const secret = "test-secret"
	step := BearerToken(secret, "proxifier", "gateway", time.Minute)
	fixed := time.Now().Truncate(time.Second)
	step.now = func() time.Time { return fixed }

	req := newRequest()
	got, err := run(t, req, step)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("original request gained an Authorization header")
	}

	auth := got.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		t.Fatalf("Authorization = %q, want Bearer token", auth)
	}

	claims := &gojwt.RegisteredClaims{}
	token, err := gojwt.ParseWithClaims(raw, claims, func(*gojwt.Token) (any, error) {
		return []byte(secret), nil
	}, gojwt.WithValidMethods([]string{"HS256"}), gojwt.WithIssuer("proxifier"))
	if err != nil {
		t.Fatalf("ParseWithClaims() error = %v", err)
	}
	if !token.Valid {
		t.Fatal("token not valid")
	}
	if claims.Subject != "gateway" {
		t.Errorf("sub = %q, want %q", claims.Subject, "gateway")
	}
	if got := claims.ExpiresAt.Time; !got.Equal(fixed.Add(time.Minute)) {
		t.Errorf("exp = %v, want %v", got, fixed.Add(time.Minute))
	}
}

func TestDeny(t *testing.T) {
	capture := &captureStep{}

	_, err := run(t, &model.ProxyRequest{Method: http.MethodDelete, Path: "/admin/users"}, Deny("/admin"), capture)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("Run() error = %v, want ErrDenied", err)
	}
	if capture.calls != 0 {
		t.Errorf("downstream calls = %d, want 0", capture.calls)
	}

	if _, err := run(t, &model.ProxyRequest{Method: http.MethodGet, Path: "/administrator"}, Deny("/admin"), capture); err != nil {
		t.Errorf("Run() error = %v for non-matching path", err)
	}
	if capture.calls != 1 {
		t.Errorf("downstream calls = %d, want 1", capture.calls)
	}
}

func TestBypass(t *testing.T) {
	capture := &captureStep{}
	req := &model.ProxyRequest{Method: http.MethodGet, Path: "/public/logo.png"}

	got, err := run(t, req, Bypass("/public"), SetHeader("X-Late", "1"), capture)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != req {
		t.Error("Bypass should return the request it received")
	}
	if capture.calls != 0 {
		t.Errorf("downstream calls = %d, want 0 after bypass", capture.calls)
	}

	got, err = run(t, &model.ProxyRequest{Method: http.MethodGet, Path: "/private"}, Bypass("/public"), SetHeader("X-Late", "1"), capture)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.Header.Get("X-Late") != "1" || capture.calls != 1 {
		t.Errorf("non-matching path should run the rest of the chain; header=%q calls=%d", got.Header.Get("X-Late"), capture.calls)
	}
}

func TestCount(t *testing.T) {
	m := metrics.New()

	if _, err := run(t, newRequest(), Count(m, StagePre)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "proxifier_pipeline_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["stage"] == StagePre && labels["method"] == "GET" {
				if v := metric.GetCounter().GetValue(); v != 1 {
					t.Errorf("counter value = %v, want 1", v)
				}
				return
			}
		}
	}
	t.Error("expected proxifier_pipeline_requests_total with stage=pre, method=GET")
}

func TestSteps_ChainedRewrites(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := newRequest()

	got, err := run(t, req,
		Logger(logger),
		StripPrefix("/api"),
		SetHeader("X-Proxy", "proxifier"),
		RemoveHeaders("Cookie"),
		Logger(logger),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.Path != "/v1/users" || got.Header.Get("X-Proxy") != "proxifier" || got.Header.Get("Cookie") != "" {
		t.Errorf("chained result = %+v", got)
	}
	if req.Path != "/api/v1/users" || req.Header.Get("Cookie") == "" || req.Header.Get("X-Proxy") != "" {
		t.Errorf("original request mutated: %+v", req)
	}
}
