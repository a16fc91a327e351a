package model

import "time"

// SubmissionStatus is the lifecycle state of a queued submission.
type SubmissionStatus string

const (
	// SubmissionPending is the initial state; the item is eligible for a drain.
	SubmissionPending SubmissionStatus = "pending"
	// SubmissionProcessing means a send attempt is in flight.
	SubmissionProcessing SubmissionStatus = "processing"
	// SubmissionCompleted is terminal: the backend accepted the submission.
	SubmissionCompleted SubmissionStatus = "completed"
	// SubmissionFailed is terminal: all retries were exhausted.
	SubmissionFailed SubmissionStatus = "failed"
)

// QueuedSubmission is one pending network operation in the submission queue.
// ID doubles as the wire-level idempotency key: every retry of the same
// logical submission presents the same ID to the backend.
type QueuedSubmission struct {
	ID         string           `json:"id"`
	Data       map[string]any   `json:"data"`
	Status     SubmissionStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
	Timestamp  time.Time        `json:"timestamp"`
	Error      string           `json:"error,omitempty"`
}

// Terminal reports whether the submission has reached a terminal state.
func (q QueuedSubmission) Terminal() bool {
	return q.Status == SubmissionCompleted || q.Status == SubmissionFailed
}
