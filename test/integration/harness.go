// Package integration provides a reusable test harness for end-to-end
// testing of the agent: a fully wired HTTP server over a mock travel
// backend, with a virtual clock driving every timer so offline periods and
// retry backoff run without real waits.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/autosave"
	"github.com/rotafacil/formagent/internal/config"
	"github.com/rotafacil/formagent/internal/formstate"
	"github.com/rotafacil/formagent/internal/netmon"
	"github.com/rotafacil/formagent/internal/observability"
	"github.com/rotafacil/formagent/internal/queue"
	"github.com/rotafacil/formagent/internal/recovery"
	"github.com/rotafacil/formagent/internal/schedule"
	"github.com/rotafacil/formagent/internal/storage"
	"github.com/rotafacil/formagent/internal/transport"
)

// TestHarness encapsulates a fully wired agent instance with a mock
// backend for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Backend  *MockBackend
	Clock    *schedule.Manual
	KV       storage.KV
	Store    *formstate.Store
	AutoSave *autosave.Scheduler
	Monitor  *netmon.Monitor
	Queue    *queue.Queue
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	kv          storage.KV
	backend     *MockBackend
	backendDown bool
}

// WithStorage reuses an existing store, simulating an agent restart over
// the same durable state.
func WithStorage(kv storage.KV) HarnessOption {
	return func(c *harnessConfig) { c.kv = kv }
}

// WithBackend reuses an existing mock backend across harness restarts.
func WithBackend(mb *MockBackend) HarnessOption {
	return func(c *harnessConfig) { c.backend = mb }
}

// WithBackendDown starts the harness with an unreachable backend.
func WithBackendDown() HarnessOption {
	return func(c *harnessConfig) { c.backendDown = true }
}

// NewTestHarness creates and starts a full agent test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Mock backend and durable storage.
	h.Backend = hc.backend
	if h.Backend == nil {
		h.Backend = newMockBackend(t)
	}
	if hc.backendDown {
		h.Backend.SetUp(false)
	}
	h.KV = hc.kv
	if h.KV == nil {
		h.KV = storage.NewMemoryKV(0)
	}

	// Step 2: Config pointing at the mock backend.
	cfg := config.Defaults()
	cfg.Backend.SubmitURL = h.Backend.SubmitURL()
	cfg.Backend.HealthURL = h.Backend.HealthURL()

	logger := zap.NewNop()
	h.Clock = schedule.NewManual()

	// Step 3: Form state store and auto-save scheduler.
	h.Store = formstate.New(h.KV, logger)
	h.AutoSave = autosave.New(h.Store, h.KV, h.Clock, autosave.Config{
		Debounce: cfg.AutoSave.Debounce,
		Interval: cfg.AutoSave.Interval,
	}, logger)
	h.AutoSave.Start()
	t.Cleanup(h.AutoSave.Stop)

	// Step 4: Connectivity monitor.
	h.Monitor = netmon.New(netmon.Config{
		HealthURL:    cfg.Backend.HealthURL,
		Interval:     cfg.Network.ProbeInterval,
		ProbeTimeout: cfg.Network.ProbeTimeout,
	}, h.Clock, logger)
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	t.Cleanup(cancelMonitor)
	h.Monitor.Start(monitorCtx)
	t.Cleanup(h.Monitor.Stop)

	// Step 5: Submission queue, draining on reconnect the way the daemon
	// wires it. The drain runs synchronously here so tests observe the
	// result as soon as the transition lands.
	sender := queue.NewHTTPSender(cfg.Backend.SubmitURL, &http.Client{Timeout: cfg.Backend.Timeout})
	h.Queue = queue.New(h.KV, sender, h.Clock,
		func() bool { return h.Monitor.Status().Online },
		queue.Config{
			MaxRetries:   cfg.Queue.MaxRetries,
			RetryDelay:   cfg.Queue.RetryDelay,
			CompletedTTL: cfg.Queue.CompletedTTL,
		}, logger)

	h.Monitor.OnReconnect(func() {
		h.Queue.Process(context.Background())
	})
	if h.Monitor.Status().Online && h.Queue.PendingCount() > 0 {
		h.Queue.Process(context.Background())
	}

	// Step 6: Router and test server.
	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Store:    h.Store,
		AutoSave: h.AutoSave,
		Monitor:  h.Monitor,
		Queue:    h.Queue,
		Recovery: recovery.New(h.Store, h.AutoSave, logger),
		Readiness: observability.ReadinessChecks{
			Storage: observability.HealthCheckFunc(func(context.Context) error { return nil }),
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// --- HTTP client helpers ---

// GET performs a GET request against the agent API.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body)
}

// PATCH performs a PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPatch, path, body)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil)
}

func (h *TestHarness) doRequest(method, path string, body any) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- fixtures ---

// ReimbursementFixture returns a map representing a typical filled form.
func ReimbursementFixture() map[string]any {
	return map[string]any{
		"nome":         "Ana Souza",
		"centro_custo": "CC-4210",
		"destino":      "Lisboa",
		"motivo":       "Conferencia anual de engenharia",
		"valor_total":  1843.50,
	}
}
