// Package schedule provides an explicit scheduled-task abstraction so that
// debounce, retry backoff, and grace-period timers are inspectable and
// testable without real wall-clock waits.
package schedule

import (
	"sync"
	"time"
)

// Task is a single scheduled callback.
type Task interface {
	// Cancel stops the task if it has not fired yet. It reports whether
	// the cancellation prevented the callback from running.
	Cancel() bool
	// Pending reports whether the task is still waiting to fire.
	Pending() bool
}

// Scheduler schedules callbacks to run once after a delay. Callbacks run on
// their own goroutine; anything they touch must be synchronized by the
// caller.
type Scheduler interface {
	After(d time.Duration, fn func()) Task
}

// Timers is the production Scheduler, backed by time.AfterFunc.
type Timers struct{}

// NewTimers creates the wall-clock scheduler.
func NewTimers() *Timers {
	return &Timers{}
}

// After schedules fn to run once after d.
func (*Timers) After(d time.Duration, fn func()) Task {
	t := &timerTask{}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		t.done = true
		t.mu.Unlock()
		fn()
	})
	return t
}

type timerTask struct {
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func (t *timerTask) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	stopped := t.timer.Stop()
	if stopped {
		t.done = true
	}
	return stopped
}

func (t *timerTask) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}
