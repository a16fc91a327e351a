package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ReceivedSubmission is one submission attempt as seen by the mock backend.
type ReceivedSubmission struct {
	IdempotencyKey string
	Body           map[string]any
	Accepted       bool
}

// MockBackend simulates the travel-reimbursement backend: a health endpoint
// the agent probes and a submissions endpoint it posts to. The backend can
// be taken down (connections are dropped, the way a dead network looks to
// the agent) and can be told to reject the next N submissions.
type MockBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	up          bool
	failNext    int
	submissions []ReceivedSubmission
}

func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()
	mb := &MockBackend{t: t, up: true}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !mb.isUp() {
			mb.dropConnection(w)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/submissions", func(w http.ResponseWriter, r *http.Request) {
		if !mb.isUp() {
			mb.dropConnection(w)
			return
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mb.mu.Lock()
		reject := mb.failNext > 0
		if reject {
			mb.failNext--
		}
		mb.submissions = append(mb.submissions, ReceivedSubmission{
			IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
			Body:           body,
			Accepted:       !reject,
		})
		mb.mu.Unlock()

		if reject {
			http.Error(w, `{"error":"indisponivel"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	mb.srv = httptest.NewServer(mux)
	t.Cleanup(mb.srv.Close)
	return mb
}

// HealthURL returns the probe endpoint URL.
func (mb *MockBackend) HealthURL() string { return mb.srv.URL + "/health" }

// SubmitURL returns the submissions endpoint URL.
func (mb *MockBackend) SubmitURL() string { return mb.srv.URL + "/submissions" }

// SetUp toggles backend reachability.
func (mb *MockBackend) SetUp(up bool) {
	mb.mu.Lock()
	mb.up = up
	mb.mu.Unlock()
}

// FailNext makes the next n submissions return 503.
func (mb *MockBackend) FailNext(n int) {
	mb.mu.Lock()
	mb.failNext = n
	mb.mu.Unlock()
}

// Attempts returns every submission attempt in arrival order, rejected
// ones included.
func (mb *MockBackend) Attempts() []ReceivedSubmission {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]ReceivedSubmission, len(mb.submissions))
	copy(out, mb.submissions)
	return out
}

// Submissions returns only the accepted submissions.
func (mb *MockBackend) Submissions() []ReceivedSubmission {
	var out []ReceivedSubmission
	for _, s := range mb.Attempts() {
		if s.Accepted {
			out = append(out, s)
		}
	}
	return out
}

// AssertReceived fails the test unless exactly n submissions were accepted.
func (mb *MockBackend) AssertReceived(t *testing.T, n int) {
	t.Helper()
	if got := len(mb.Submissions()); got != n {
		t.Errorf("backend accepted %d submissions, want %d", got, n)
	}
}

func (mb *MockBackend) isUp() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.up
}

// dropConnection hangs up without a response, surfacing as a transport
// error on the agent side.
func (mb *MockBackend) dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		mb.t.Fatal("response writer is not a hijacker")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		mb.t.Fatalf("hijack: %v", err)
	}
	conn.Close()
}
