package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}

	for _, header := range []string{"", "nope", "xyz/1;o=1", "105445aa7843bc8bf206b12000100000/", "105445aa7843bc8bf206b12000100000/zz"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestNewEventLoggerUsesRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := requestctx.WithLogger(context.Background(), zap.New(core))
	ctx = requestctx.WithSession(ctx, "wiz_1")

	log := NewEventLogger(nil)
	log(ctx, "wizard.advanced", map[string]any{"from": "Quantity", "to": "Location"})
	log(ctx, "wizard.submission.failed", map[string]any{"error": errors.New("boom")})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["event"] != "wizard.advanced" || first["session_id"] != "wiz_1" || first["to"] != "Location" {
		t.Fatalf("unexpected fields %#v", first)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected error fields to log at warn, got %s", entries[1].Level)
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/2;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got.ProjectID != "proj" {
		t.Fatalf("expected project id on trace info, got %#v", got)
	}
	if got.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected remote trace id to be continued, got %s", got.TraceID)
	}
}
