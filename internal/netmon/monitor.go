// Package netmon tracks backend reachability with a periodic HEAD probe.
// Consumers subscribe to status changes; going from offline to online is
// the signal the submission queue drains on.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/observability"
	"github.com/rotafacil/formagent/internal/schedule"
)

// Status is a point-in-time view of backend connectivity.
type Status struct {
	Online      bool      `json:"online"`
	Checking    bool      `json:"checking"`
	LastChecked time.Time `json:"last_checked"`
	// RetryCount is the number of consecutive failed probes, reset on the
	// first success.
	RetryCount int `json:"retry_count"`
}

// Config holds the probe parameters.
type Config struct {
	HealthURL    string
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// Option configures optional dependencies.
type Option func(*Monitor)

// WithMetrics records probe outcomes and the online gauge.
func WithMetrics(m *observability.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithHTTPClient overrides the probe client.
func WithHTTPClient(c *http.Client) Option {
	return func(mon *Monitor) { mon.client = c }
}

// Monitor probes the backend health endpoint and publishes connectivity
// status. Create with New, then Start; the zero value is not usable.
type Monitor struct {
	mu sync.Mutex

	cfg     Config
	client  *http.Client
	sched   schedule.Scheduler
	logger  *zap.Logger
	metrics *observability.Metrics

	status     Status
	subs       map[int]func(Status)
	reconnSubs map[int]func()
	nextSub    int
	task       schedule.Task
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Monitor. The initial status is optimistic (online) until the
// first probe completes.
func New(cfg Config, sched schedule.Scheduler, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:        cfg,
		client:     &http.Client{},
		sched:      sched,
		logger:     logger,
		status:     Status{Online: true},
		subs:       make(map[int]func(Status)),
		reconnSubs: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs an immediate probe and begins the periodic probe cycle. The
// context bounds the monitor's lifetime; Stop cancels it.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.probe()

	m.mu.Lock()
	if !m.stopped {
		m.task = m.sched.After(m.cfg.Interval, m.tick)
	}
	m.mu.Unlock()
}

// Stop cancels the probe cycle. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.task != nil {
		m.task.Cancel()
	}
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Status returns the current connectivity status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn for status updates. It is invoked immediately with
// the current status, then after every probe and externally reported
// transition. The returned function unsubscribes.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	current := m.status
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// OnReconnect registers fn to run after each offline-to-online transition.
// The edge is detected under the monitor's lock, so overlapping probes see
// it exactly once; fn runs on the probing goroutine after the status
// subscribers. The returned function unregisters.
func (m *Monitor) OnReconnect(fn func()) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.reconnSubs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.reconnSubs, id)
		m.mu.Unlock()
	}
}

// Retry forces an immediate probe, for a user-initiated "try again". The
// returned status reflects the probe result.
func (m *Monitor) Retry() Status {
	m.probe()
	return m.Status()
}

// NotifyOnline reports an external online hint. Hints are verified: the
// monitor probes rather than trusting the report, since a restored local
// link does not guarantee the backend is reachable.
func (m *Monitor) NotifyOnline() {
	m.logger.Debug("external online hint received, probing")
	m.probe()
}

// NotifyOffline reports an external offline hint. Offline reports are
// trusted immediately: there is no point probing a link known to be down,
// and flipping early lets the queue stop attempting sends sooner.
func (m *Monitor) NotifyOffline() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.status.Online = false
	m.status.Checking = false
	m.status.LastChecked = time.Now().UTC()
	st := m.status
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.setOnlineGauge(false)
	m.logger.Info("marked offline from external hint")
	for _, fn := range subs {
		fn(st)
	}
}

// --- probing ---

// tick probes and reschedules itself.
func (m *Monitor) tick() {
	m.probe()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.task = m.sched.After(m.cfg.Interval, m.tick)
}

// probe sends a HEAD request to the health endpoint. Any response counts as
// reachable; only transport errors and timeouts count as offline.
func (m *Monitor) probe() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.status.Checking = true
	st := m.status
	subs := m.subscribersLocked()
	parent := m.ctx
	m.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	online := m.doProbe(ctx)
	elapsed := time.Since(start)

	if m.metrics != nil {
		m.metrics.ProbeDuration.Observe(elapsed.Seconds())
		if !online {
			m.metrics.ProbeFailuresTotal.Inc()
		}
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	wasOnline := m.status.Online
	m.status.Online = online
	m.status.Checking = false
	m.status.LastChecked = time.Now().UTC()
	if online {
		m.status.RetryCount = 0
	} else {
		m.status.RetryCount++
	}
	st = m.status
	subs = m.subscribersLocked()
	var reconn []func()
	if online && !wasOnline {
		reconn = m.reconnectSubscribersLocked()
	}
	m.mu.Unlock()

	m.setOnlineGauge(online)
	if online != wasOnline {
		m.logger.Info("connectivity changed",
			zap.Bool("online", online),
			zap.Duration("probe_duration", elapsed),
		)
	}
	for _, fn := range subs {
		fn(st)
	}
	for _, fn := range reconn {
		fn()
	}
}

func (m *Monitor) doProbe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.HealthURL, nil)
	if err != nil {
		m.logger.Error("probe request build failed", zap.Error(err))
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("probe failed", zap.Error(err))
		return false
	}
	resp.Body.Close()
	return true
}

func (m *Monitor) subscribersLocked() []func(Status) {
	out := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}

func (m *Monitor) reconnectSubscribersLocked() []func() {
	out := make([]func(), 0, len(m.reconnSubs))
	for _, fn := range m.reconnSubs {
		out = append(out, fn)
	}
	return out
}

func (m *Monitor) setOnlineGauge(online bool) {
	if m.metrics == nil {
		return
	}
	if online {
		m.metrics.NetworkOnline.Set(1)
	} else {
		m.metrics.NetworkOnline.Set(0)
	}
}
