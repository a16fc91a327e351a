package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/schedule"
)

// probeServer is an httptest server whose availability can be toggled.
// "Down" is simulated by hanging up mid-request, which surfaces to the
// probe as a transport error.
type probeServer struct {
	srv    *httptest.Server
	up     atomic.Bool
	probes atomic.Int64
}

// testContext is a stand-in for t.Context(), which requires Go 1.24:
// a context canceled when the test ends.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newProbeServer(t *testing.T) *probeServer {
	t.Helper()
	p := &probeServer{}
	p.up.Store(true)
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.probes.Add(1)
		if !p.up.Load() {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("response writer is not a hijacker")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func newTestMonitor(t *testing.T, url string) (*Monitor, *schedule.Manual) {
	t.Helper()
	clock := schedule.NewManual()
	m := New(Config{
		HealthURL:    url,
		Interval:     30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}, clock, zap.NewNop())
	t.Cleanup(m.Stop)
	return m, clock
}

func TestStart_ProbesImmediately(t *testing.T) {
	srv := newProbeServer(t)
	m, _ := newTestMonitor(t, srv.srv.URL)

	m.Start(testContext(t))

	st := m.Status()
	if !st.Online {
		t.Error("Online = false with reachable backend")
	}
	if st.LastChecked.IsZero() {
		t.Error("LastChecked not set after initial probe")
	}
	if srv.probes.Load() != 1 {
		t.Errorf("probes = %d, want 1", srv.probes.Load())
	}
}

func TestProbeFailure_GoesOffline(t *testing.T) {
	srv := newProbeServer(t)
	srv.up.Store(false)
	m, _ := newTestMonitor(t, srv.srv.URL)

	m.Start(testContext(t))

	st := m.Status()
	if st.Online {
		t.Error("Online = true with unreachable backend")
	}
	if st.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", st.RetryCount)
	}
}

func TestRetryCount_AccumulatesAndResets(t *testing.T) {
	srv := newProbeServer(t)
	srv.up.Store(false)
	m, _ := newTestMonitor(t, srv.srv.URL)
	m.Start(testContext(t))

	m.Retry()
	m.Retry()
	if got := m.Status().RetryCount; got != 3 {
		t.Fatalf("RetryCount = %d after 3 failed probes, want 3", got)
	}

	srv.up.Store(true)
	st := m.Retry()
	if !st.Online {
		t.Fatal("Online = false after backend recovered")
	}
	if st.RetryCount != 0 {
		t.Errorf("RetryCount = %d after success, want 0", st.RetryCount)
	}
}

func TestPeriodicProbes(t *testing.T) {
	srv := newProbeServer(t)
	m, clock := newTestMonitor(t, srv.srv.URL)
	m.Start(testContext(t))

	clock.Advance(30 * time.Second)
	clock.Advance(30 * time.Second)

	if got := srv.probes.Load(); got != 3 {
		t.Errorf("probes = %d after two intervals, want 3", got)
	}
}

func TestNotifyOffline_TrustedWithoutProbe(t *testing.T) {
	srv := newProbeServer(t)
	m, _ := newTestMonitor(t, srv.srv.URL)
	m.Start(testContext(t))

	before := srv.probes.Load()
	m.NotifyOffline()

	if m.Status().Online {
		t.Error("Online = true after NotifyOffline")
	}
	if srv.probes.Load() != before {
		t.Error("NotifyOffline triggered a probe, want trusted transition")
	}
}

func TestNotifyOnline_IsVerified(t *testing.T) {
	srv := newProbeServer(t)
	srv.up.Store(false)
	m, _ := newTestMonitor(t, srv.srv.URL)
	m.Start(testContext(t))

	// The hint says online but the backend is still unreachable: the probe
	// must win over the hint.
	m.NotifyOnline()

	if m.Status().Online {
		t.Error("Online = true after unverified online hint")
	}
}

func TestSubscribe_ImmediateAndTransitions(t *testing.T) {
	srv := newProbeServer(t)
	m, _ := newTestMonitor(t, srv.srv.URL)
	m.Start(testContext(t))

	var statuses []Status
	unsub := m.Subscribe(func(st Status) { statuses = append(statuses, st) })

	if len(statuses) != 1 {
		t.Fatalf("notifications after Subscribe = %d, want 1", len(statuses))
	}
	if !statuses[0].Online {
		t.Error("immediate status not online")
	}

	m.NotifyOffline()
	last := statuses[len(statuses)-1]
	if last.Online {
		t.Error("subscriber did not observe offline transition")
	}

	unsub()
	n := len(statuses)
	m.NotifyOffline()
	if len(statuses) != n {
		t.Error("subscriber notified after unsubscribe")
	}
}

func TestOnReconnect_FiresOnOfflineToOnlineEdge(t *testing.T) {
	srv := newProbeServer(t)
	srv.up.Store(false)
	m, clock := newTestMonitor(t, srv.srv.URL)
	m.Start(testContext(t))

	var fires atomic.Int64
	m.OnReconnect(func() { fires.Add(1) })

	srv.up.Store(true)
	m.Retry()
	if fires.Load() != 1 {
		t.Fatalf("reconnect callbacks = %d after recovery, want 1", fires.Load())
	}

	// Staying online is not an edge.
	m.Retry()
	clock.Advance(30 * time.Second)
	if fires.Load() != 1 {
		t.Fatalf("reconnect callbacks = %d while staying online, want still 1", fires.Load())
	}

	// Each round trip through offline is a fresh edge.
	m.NotifyOffline()
	m.Retry()
	if fires.Load() != 2 {
		t.Errorf("reconnect callbacks = %d after second recovery, want 2", fires.Load())
	}
}

func TestOnReconnect_ConcurrentProbesFireOnce(t *testing.T) {
	// A user-driven retry can race the interval probe; both may observe the
	// backend recovering, but only the probe that flips the status owns the
	// edge.
	srv := newProbeServer(t)
	srv.up.Store(false)
	m, _ := newTestMonitor(t, srv.srv.URL)
	m.Start(testContext(t))

	var fires atomic.Int64
	m.OnReconnect(func() { fires.Add(1) })

	srv.up.Store(true)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Retry()
		}()
	}
	wg.Wait()

	if fires.Load() != 1 {
		t.Errorf("reconnect callbacks = %d for one offline-to-online edge, want 1", fires.Load())
	}
}

func TestProbeTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	clock := schedule.NewManual()
	m := New(Config{
		HealthURL:    slow.URL,
		Interval:     30 * time.Second,
		ProbeTimeout: 50 * time.Millisecond,
	}, clock, zap.NewNop())
	t.Cleanup(m.Stop)

	m.Start(testContext(t))
	if m.Status().Online {
		t.Error("Online = true with probe exceeding its timeout")
	}
}

func TestStop_CancelsCycle(t *testing.T) {
	srv := newProbeServer(t)
	m, clock := newTestMonitor(t, srv.srv.URL)
	m.Start(testContext(t))
	m.Stop()

	before := srv.probes.Load()
	clock.Advance(5 * time.Minute)
	if srv.probes.Load() != before {
		t.Error("probes continued after Stop")
	}
}
