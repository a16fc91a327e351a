package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/agent/health", nil)
	rec := httptest.NewRecorder()

	HandleHealth()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if resp.Version == "" {
		t.Error("Version is empty")
	}
}

func okCheck(context.Context) error   { return nil }
func failCheck(context.Context) error { return errors.New("unreachable") }

func TestHandleReady_AllOK(t *testing.T) {
	handler := HandleReady(ReadinessChecks{
		Storage: HealthCheckFunc(okCheck),
		Backend: HealthCheckFunc(okCheck),
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/agent/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ready" {
		t.Errorf("Status = %q, want ready", resp.Status)
	}
	if resp.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %+v", resp.Checks["storage"])
	}
}

func TestHandleReady_StorageFailureGatesReadiness(t *testing.T) {
	handler := HandleReady(ReadinessChecks{
		Storage: HealthCheckFunc(failCheck),
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/agent/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp ReadinessResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "not_ready" {
		t.Errorf("Status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["storage"].Error == "" {
		t.Error("storage check error is empty")
	}
}

func TestHandleReady_BackendFailureIsInformational(t *testing.T) {
	// Offline operation is a supported mode: the backend check is reported
	// but does not flip readiness.
	handler := HandleReady(ReadinessChecks{
		Storage: HealthCheckFunc(okCheck),
		Backend: HealthCheckFunc(failCheck),
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/agent/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ReadinessResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ready" {
		t.Errorf("Status = %q, want ready", resp.Status)
	}
	if resp.Checks["backend"].Status != "error" {
		t.Errorf("backend check = %+v, want error status", resp.Checks["backend"])
	}
}

func TestHandleReady_MissingStorageCheckIsNotReady(t *testing.T) {
	handler := HandleReady(ReadinessChecks{})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/agent/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
