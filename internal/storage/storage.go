// Package storage provides the durable key-value persistence port used by
// the form state store, the auto-save scheduler, and the submission queue.
// Each owner writes a disjoint key, so there is no contention between them.
package storage

import (
	"context"
	"errors"
)

// Keys owned by the agent. The exact names are part of the persisted-state
// contract shared with earlier clients; do not rename them.
const (
	// KeyFormState holds the full form state store, including the
	// submission token.
	KeyFormState = "travelForm_state"
	// KeyAutoSave holds the auto-save snapshot envelope.
	KeyAutoSave = "travelForm_autoSave"
	// KeySubmissionQueue holds the serialized submission queue.
	KeySubmissionQueue = "travelForm_submissionQueue"
)

// ErrQuotaExceeded is returned by Set when the write would exceed the
// store's capacity limit. Callers absorb it and surface a non-fatal
// notification; it must never crash an editing flow.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// KV is a capacity-limited durable key-value store. Implementations must be
// safe for concurrent use. Get returns found=false for missing keys rather
// than an error.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
