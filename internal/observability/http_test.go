package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/duckmesh/probe/internal/config"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareGeneratesUUIDTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if _, err := uuid.Parse(rr.Header().Get(traceHeader)); err != nil {
		t.Fatalf("X-Trace-ID = %q is not a uuid: %v", rr.Header().Get(traceHeader), err)
	}
}

func TestLoggingMiddlewareWritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := TraceMiddleware(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/ask", nil))

	line := buf.String()
	for _, want := range []string{`"msg":"http_request"`, `"status":202`, `"path":"/v1/ask"`, `"trace_id":"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q does not contain %q", line, want)
		}
	}
}

func TestMetricsMiddlewareLabelsByRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := MetricsMiddleware(mux)

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "GET /v1/schema", "200"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/schema?source=a.csv", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "GET /v1/schema", "200"))
	if after-before != 1 {
		t.Fatalf("probe_http_requests_total delta = %v, want 1", after-before)
	}
}

func TestObserveModelCallSplitsStatus(t *testing.T) {
	ok := testutil.ToFloat64(modelCallsTotal.WithLabelValues("translate", "ok"))
	failed := testutil.ToFloat64(modelCallsTotal.WithLabelValues("translate", "error"))

	ObserveModelCall("translate", nil, time.Millisecond)
	ObserveModelCall("translate", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(modelCallsTotal.WithLabelValues("translate", "ok")) - ok; got != 1 {
		t.Fatalf("ok delta = %v", got)
	}
	if got := testutil.ToFloat64(modelCallsTotal.WithLabelValues("translate", "error")) - failed; got != 1 {
		t.Fatalf("error delta = %v", got)
	}
}

func TestNewLoggerAddsServiceAttributes(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Profile: config.ProfileTest}
	cfg.Service.Name = "probe-test"
	cfg.Observability.LogJSON = true
	cfg.Observability.LogLevel = slog.LevelInfo

	NewLogger(cfg, &buf).Info("hello")
	if !strings.Contains(buf.String(), `"service":"probe-test"`) || !strings.Contains(buf.String(), `"profile":"test"`) {
		t.Fatalf("log line = %q", buf.String())
	}
}

func TestTraceIDContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("TraceIDFromContext() = %q, want empty", got)
	}
}
