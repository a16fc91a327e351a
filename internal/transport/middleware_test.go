package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rotafacil/formagent/internal/config"
	"github.com/rotafacil/formagent/internal/observability"
)

func noop() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent/form", nil))

	if seen == "" {
		t.Error("no correlation ID in context")
	}
	if got := rec.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("response header = %q, context value = %q", got, seen)
	}
}

func TestRequestID_PreservesIncoming(t *testing.T) {
	h := RequestID(noop())

	req := httptest.NewRequest(http.MethodGet, "/agent/form", nil)
	req.Header.Set("X-Correlation-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-Id"); got != "abc-123" {
		t.Errorf("X-Correlation-Id = %q, want abc-123", got)
	}
}

func TestRequestLogging_ContextLoggerCarriesCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	h := RequestID(RequestLogging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observability.LoggerFrom(r.Context(), zap.NewNop()).Info("handling")
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/agent/submissions/process", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("log entries = %d, want 2 (handler + request line)", len(entries))
	}
	for _, entry := range entries {
		fields := entry.ContextMap()
		if got := fields["correlation_id"]; got != "corr-123" {
			t.Errorf("entry %q correlation_id = %v, want corr-123", entry.Message, got)
		}
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	mw := CORS(config.CORSConfig{
		AllowedOrigins: []string{"https://viagens.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	})
	h := mw(noop())

	req := httptest.NewRequest(http.MethodGet, "/agent/form", nil)
	req.Header.Set("Origin", "https://viagens.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://viagens.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORS_UnknownOriginGetsNoHeaders(t *testing.T) {
	mw := CORS(config.CORSConfig{AllowedOrigins: []string{"https://viagens.example.com"}})
	h := mw(noop())

	req := httptest.NewRequest(http.MethodGet, "/agent/form", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for unknown origin, want empty", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	mw := CORS(config.CORSConfig{AllowedOrigins: []string{"https://viagens.example.com"}})
	h := mw(noop())

	req := httptest.NewRequest(http.MethodOptions, "/agent/form", nil)
	req.Header.Set("Origin", "https://viagens.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	mw := Recovery(zap.NewNop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent/form", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(noop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent/form", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}
