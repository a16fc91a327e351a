// Package queue implements the durable submission queue: submissions
// enqueued while offline survive restarts and drain automatically once the
// backend is reachable, with linear retry backoff and an idempotency key
// per logical submission.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/observability"
	"github.com/rotafacil/formagent/internal/schedule"
	"github.com/rotafacil/formagent/internal/storage"
	"github.com/rotafacil/formagent/model"
)

// Config holds the retry policy.
type Config struct {
	// MaxRetries is the number of send attempts before an item is marked
	// failed.
	MaxRetries int
	// RetryDelay is the linear backoff base: attempt n waits n*RetryDelay.
	RetryDelay time.Duration
	// CompletedTTL is how long completed items stay visible before removal.
	CompletedTTL time.Duration
}

// Option configures optional dependencies.
type Option func(*Queue)

// WithMetrics records queue depth and attempt outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is a durable FIFO of backend submissions. All methods are safe for
// concurrent use.
type Queue struct {
	mu sync.Mutex

	kv      storage.KV
	sender  Sender
	sched   schedule.Scheduler
	online  func() bool
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics

	items      []model.QueuedSubmission
	subs       map[int]func([]model.QueuedSubmission)
	nextSub    int
	processing bool
}

// New creates a Queue, restoring persisted items. Items caught mid-send by
// a crash come back as pending so the next drain retries them. The online
// func gates drains; it is consulted before every attempt.
func New(kv storage.KV, sender Sender, sched schedule.Scheduler, online func() bool, cfg Config, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		kv:     kv,
		sender: sender,
		sched:  sched,
		online: online,
		cfg:    cfg,
		logger: logger,
		subs:   make(map[int]func([]model.QueuedSubmission)),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.restore()
	return q
}

// Add enqueues a submission and returns it. The generated ID is the
// idempotency key for every delivery attempt of this submission. When the
// backend is reachable a drain is scheduled immediately.
func (q *Queue) Add(data map[string]any) model.QueuedSubmission {
	sub := model.QueuedSubmission{
		ID:        uuid.NewString(),
		Data:      data,
		Status:    model.SubmissionPending,
		Timestamp: time.Now().UTC(),
	}

	q.mu.Lock()
	q.items = append(q.items, sub)
	q.persistLocked()
	subs := q.subscribersLocked()
	snapshot := q.itemsLocked()
	q.mu.Unlock()

	q.logger.Info("submission queued", zap.String("id", sub.ID))
	q.notify(subs, snapshot)

	if q.online() {
		q.sched.After(0, func() { q.Process(context.Background()) })
	}
	return sub
}

// Process drains the queue: each pending item gets one send attempt, oldest
// first. Overlapping calls are coalesced; a drain already in progress makes
// Process a no-op. The pass stops early if connectivity is lost.
func (q *Queue) Process(ctx context.Context) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	pending := make([]string, 0, len(q.items))
	for _, it := range q.items {
		// Terminal items are done; processing items already belong to
		// another in-flight attempt.
		if it.Terminal() || it.Status == model.SubmissionProcessing {
			continue
		}
		pending = append(pending, it.ID)
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	if len(pending) == 0 {
		return
	}

	start := time.Now()
	for _, id := range pending {
		if ctx.Err() != nil {
			return
		}
		if !q.online() {
			q.logger.Info("drain interrupted, backend offline")
			return
		}
		q.attempt(ctx, id)
	}
	if q.metrics != nil {
		q.metrics.QueueDrainDuration.Observe(time.Since(start).Seconds())
	}
}

// Remove deletes an item by ID. Used by the UI and by the completed-item
// grace timer.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	kept := q.items[:0]
	for _, it := range q.items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	removed := len(kept) != len(q.items)
	q.items = kept
	if removed {
		q.persistLocked()
	}
	subs := q.subscribersLocked()
	snapshot := q.itemsLocked()
	q.mu.Unlock()

	if removed {
		q.notify(subs, snapshot)
	}
}

// ClearCompleted removes all completed items.
func (q *Queue) ClearCompleted() {
	q.clearWhere(func(it model.QueuedSubmission) bool {
		return it.Status == model.SubmissionCompleted
	})
}

// ClearAll empties the queue regardless of status.
func (q *Queue) ClearAll() {
	q.clearWhere(func(model.QueuedSubmission) bool { return true })
}

// Items returns a copy of the queue in FIFO order.
func (q *Queue) Items() []model.QueuedSubmission {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.itemsLocked()
}

// PendingCount returns the number of items still awaiting delivery.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.Status == model.SubmissionPending || it.Status == model.SubmissionProcessing {
			n++
		}
	}
	return n
}

// Subscribe registers fn for queue updates, invoking it immediately with
// the current items. The returned function unsubscribes.
func (q *Queue) Subscribe(fn func([]model.QueuedSubmission)) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	snapshot := q.itemsLocked()
	q.mu.Unlock()

	fn(snapshot)

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

// --- drain mechanics ---

// attempt sends one item. On success the item completes and is scheduled
// for removal after the grace period; on failure the retry count advances
// and either a delayed re-drain is scheduled or the item is marked failed.
func (q *Queue) attempt(ctx context.Context, id string) {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 || q.items[idx].Status != model.SubmissionPending {
		q.mu.Unlock()
		return
	}
	q.items[idx].Status = model.SubmissionProcessing
	sub := q.items[idx]
	q.persistLocked()
	subs := q.subscribersLocked()
	snapshot := q.itemsLocked()
	q.mu.Unlock()

	q.notify(subs, snapshot)

	err := q.sender.Send(ctx, sub)

	q.mu.Lock()
	idx = q.indexLocked(id)
	if idx < 0 {
		// Removed while in flight.
		q.mu.Unlock()
		return
	}

	if err == nil {
		q.items[idx].Status = model.SubmissionCompleted
		q.items[idx].Error = ""
		q.persistLocked()
		subs = q.subscribersLocked()
		snapshot = q.itemsLocked()
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.SubmissionAttemptsTotal.WithLabelValues("success").Inc()
		}
		q.logger.Info("submission delivered", zap.String("id", id))
		q.notify(subs, snapshot)
		q.scheduleCompletedRemoval(id)
		return
	}

	q.items[idx].RetryCount++
	q.items[idx].Error = err.Error()
	retries := q.items[idx].RetryCount
	exhausted := retries >= q.cfg.MaxRetries
	if exhausted {
		q.items[idx].Status = model.SubmissionFailed
	} else {
		q.items[idx].Status = model.SubmissionPending
	}
	q.persistLocked()
	subs = q.subscribersLocked()
	snapshot = q.itemsLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SubmissionAttemptsTotal.WithLabelValues("failure").Inc()
	}
	q.notify(subs, snapshot)

	if exhausted {
		q.logger.Error("submission failed permanently",
			zap.String("id", id),
			zap.Int("attempts", retries),
			zap.Error(err),
		)
		return
	}

	// Linear backoff: attempt n waits n*RetryDelay before the re-drain.
	delay := time.Duration(retries) * q.cfg.RetryDelay
	q.logger.Warn("submission attempt failed, will retry",
		zap.String("id", id),
		zap.Int("retry_count", retries),
		zap.Duration("retry_in", delay),
		zap.Error(err),
	)
	q.sched.After(delay, func() {
		if q.online() {
			q.Process(context.Background())
		}
	})
}

// scheduleCompletedRemoval removes the item after the grace period, but
// only if it is still completed; the user may have cleared it already.
func (q *Queue) scheduleCompletedRemoval(id string) {
	q.sched.After(q.cfg.CompletedTTL, func() {
		q.mu.Lock()
		idx := q.indexLocked(id)
		stillCompleted := idx >= 0 && q.items[idx].Status == model.SubmissionCompleted
		q.mu.Unlock()
		if stillCompleted {
			q.Remove(id)
		}
	})
}

// --- persistence and bookkeeping ---

// restore loads the persisted queue. Items interrupted mid-send come back
// pending with their retry count intact.
func (q *Queue) restore() {
	data, found, err := q.kv.Get(context.Background(), storage.KeySubmissionQueue)
	if err != nil {
		q.logger.Warn("submission queue restore failed", zap.Error(err))
		return
	}
	if !found {
		return
	}

	var items []model.QueuedSubmission
	if err := json.Unmarshal(data, &items); err != nil {
		q.logger.Warn("submission queue malformed, starting empty", zap.Error(err))
		return
	}

	for i := range items {
		if items[i].Status == model.SubmissionProcessing {
			items[i].Status = model.SubmissionPending
		}
	}
	q.items = items
	q.updateDepthGauge()
	if len(items) > 0 {
		q.logger.Info("submission queue restored", zap.Int("items", len(items)))
	}
}

func (q *Queue) clearWhere(drop func(model.QueuedSubmission) bool) {
	q.mu.Lock()
	kept := q.items[:0]
	for _, it := range q.items {
		if !drop(it) {
			kept = append(kept, it)
		}
	}
	q.items = kept
	q.persistLocked()
	subs := q.subscribersLocked()
	snapshot := q.itemsLocked()
	q.mu.Unlock()

	q.notify(subs, snapshot)
}

// persistLocked writes the queue to storage. Failures are absorbed: the
// in-memory queue keeps working, it just loses crash durability.
func (q *Queue) persistLocked() {
	data, err := json.Marshal(q.items)
	if err != nil {
		q.logger.Error("submission queue marshal failed", zap.Error(err))
		return
	}
	if err := q.kv.Set(context.Background(), storage.KeySubmissionQueue, data); err != nil {
		if err == storage.ErrQuotaExceeded {
			q.logger.Warn("submission queue persist hit storage quota")
		} else {
			q.logger.Error("submission queue persist failed", zap.Error(err))
		}
	}
	q.updateDepthGauge()
}

func (q *Queue) indexLocked(id string) int {
	for i, it := range q.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) itemsLocked() []model.QueuedSubmission {
	out := make([]model.QueuedSubmission, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) subscribersLocked() []func([]model.QueuedSubmission) {
	out := make([]func([]model.QueuedSubmission), 0, len(q.subs))
	for _, fn := range q.subs {
		out = append(out, fn)
	}
	return out
}

func (q *Queue) notify(subs []func([]model.QueuedSubmission), items []model.QueuedSubmission) {
	for _, fn := range subs {
		fn(items)
	}
}

// updateDepthGauge refreshes the per-status depth gauge. Caller holds the
// lock or is in single-threaded construction.
func (q *Queue) updateDepthGauge() {
	if q.metrics == nil {
		return
	}
	counts := map[model.SubmissionStatus]int{
		model.SubmissionPending:    0,
		model.SubmissionProcessing: 0,
		model.SubmissionCompleted:  0,
		model.SubmissionFailed:     0,
	}
	for _, it := range q.items {
		counts[it.Status]++
	}
	for status, n := range counts {
		q.metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}
