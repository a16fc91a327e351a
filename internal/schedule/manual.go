package schedule

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Tasks only fire when the
// virtual clock is advanced past their due time; callbacks run synchronously
// on the advancing goroutine.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

// NewManual creates a virtual-clock scheduler starting at zero.
func NewManual() *Manual {
	return &Manual{}
}

// After schedules fn to fire when the virtual clock reaches now+d.
func (m *Manual) After(d time.Duration, fn func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTask{mu: &m.mu, due: m.now + d, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the virtual clock forward by d, firing due tasks in due-time
// order. Tasks scheduled by a firing callback are themselves eligible if
// their due time falls within the advanced window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// PendingCount returns the number of tasks still waiting. For test
// assertions on scheduled-but-unfired work.
func (m *Manual) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tasks {
		if !t.fired && !t.cancelled {
			n++
		}
	}
	return n
}

// nextDue pops the earliest unfired task due at or before target, advancing
// the virtual clock to its due time.
func (m *Manual) nextDue(target time.Duration) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*manualTask
	for _, t := range m.tasks {
		if !t.fired && !t.cancelled && t.due <= target {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].due < candidates[j].due
	})

	t := candidates[0]
	t.fired = true
	if t.due > m.now {
		m.now = t.due
	}
	return t
}

type manualTask struct {
	mu        *sync.Mutex
	due       time.Duration
	fn        func()
	fired     bool
	cancelled bool
}

func (t *manualTask) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

func (t *manualTask) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.fired && !t.cancelled
}
