package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func TestMiddleware(t *testing.T) {
	exp := withTracer(t)
	m, reader := newTestMetrics(t)

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	var captured string
	h := Middleware(m, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = CorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/emotions", nil))

	if len(captured) != 32 {
		t.Errorf("correlation ID = %q, want 32 hex chars", captured)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != captured {
		t.Errorf("X-Correlation-ID = %q, want %q", got, captured)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /emotions" {
		t.Errorf("spans = %v", spans)
	}

	if findMetric(collect(t, reader), "avatarperf.http.request.duration") == nil {
		t.Error("http duration metric not recorded")
	}

	out := logBuf.String()
	if !strings.Contains(out, `"msg":"request completed"`) || !strings.Contains(out, `"status":418`) {
		t.Errorf("log output = %s", out)
	}
}

func TestLogger_AddsTraceIDs(t *testing.T) {
	withTracer(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx, span := StartSpan(context.Background(), "op")
	Logger(ctx, base).Info("hello")
	span.End()

	if !strings.Contains(buf.String(), `"trace_id":"`+CorrelationID(ctx)+`"`) {
		t.Errorf("log line missing trace_id: %s", buf.String())
	}

	buf.Reset()
	Logger(context.Background(), base).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line without span has trace_id: %s", buf.String())
	}
}
