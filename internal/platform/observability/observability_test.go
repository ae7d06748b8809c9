package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tomato-food/api/internal/platform/requestctx"
)

const incomingTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestTraceMiddlewareStoresW3CTrace(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("traceparent", incomingTraceparent)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected propagated trace id, got %q", got.TraceID)
	}
	if !got.Sampled {
		t.Fatalf("expected sampled flag")
	}
	if header := rec.Header().Get("traceparent"); !strings.Contains(header, got.TraceID) {
		t.Fatalf("expected traceparent echoed, got %q", header)
	}
}

func TestTraceMiddlewareWithoutHeader(t *testing.T) {
	called := false
	handler := TraceMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if id := requestctx.TraceID(r.Context()); id != "" {
			t.Fatalf("expected no trace id without a recording tracer, got %q", id)
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected handler to run")
	}
}

func TestRequestLoggerMiddlewareLogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, InjectLoggerMiddleware(logger), TraceMiddleware(nil), RequestLoggerMiddleware(nil))
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("{}"))
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
	req.Header.Set("traceparent", incomingTraceparent)
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/orders/{orderID}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("expected status 404, got %v", fields["status"])
	}
	if fields["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected trace id, got %v", fields["trace_id"])
	}
	if id, _ := fields["request_id"].(string); id == "" {
		t.Fatalf("expected request id field")
	}
	if fields["order_id"] != "ord_1" {
		t.Fatalf("expected order id from path, got %v", fields["order_id"])
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != false || body["code"] != "internal_server_error" {
		t.Fatalf("unexpected body %#v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core).Named("orders"))

	log(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})
	log(context.Background(), "order.event.publish.failed", map[string]any{"error": context.Canceled})

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected two entries, got %d", len(all))
	}
	if all[0].Level != zapcore.InfoLevel || all[0].ContextMap()["orderId"] != "ord_1" {
		t.Fatalf("unexpected first entry %#v", all[0])
	}
	if all[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for failure event, got %s", all[1].Level)
	}
	if all[1].ContextMap()["error"] != context.Canceled.Error() {
		t.Fatalf("expected error string, got %v", all[1].ContextMap()["error"])
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("verbose")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug disabled")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info enabled")
	}

	debug, err := NewLogger("DEBUG")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !debug.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug enabled")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := sanitizeString("a\x00b\nc", 10); got != "abc" {
		t.Fatalf("expected control characters removed, got %q", got)
	}
	if got := SanitizeUserID(strings.Repeat("x", 100)); len(got) != 64 {
		t.Fatalf("expected truncation to 64, got %d", len(got))
	}
	if SanitizeRoute("") != "/" {
		t.Fatal("expected root for empty route")
	}
	if got := sanitizeEventValue("biryani\r\nforged"); got != "biryaniforged" {
		t.Fatalf("expected event value cleaned, got %q", got)
	}
	if got := sanitizeEventValue([]string{"a\tb"}).([]string); got[0] != "ab" {
		t.Fatalf("expected slice values cleaned, got %v", got)
	}
	if got := sanitizeEventValue(42); got != 42 {
		t.Fatalf("expected non-string untouched, got %v", got)
	}
}
