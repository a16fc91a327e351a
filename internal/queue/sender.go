package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rotafacil/formagent/model"
)

// Sender delivers one submission to the backend. Implementations must be
// safe to call with the same submission more than once; the queue retries
// through the same Sender.
type Sender interface {
	Send(ctx context.Context, sub model.QueuedSubmission) error
}

// HTTPSender posts submissions as JSON. The submission ID travels as the
// idempotency key header so the backend can deduplicate retries.
type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender creates a sender posting to url. A nil client uses
// http.DefaultClient; callers normally pass a client with the backend
// timeout configured.
func NewHTTPSender(url string, client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{url: url, client: client}
}

// Send posts the submission payload. Any 2xx response counts as accepted;
// everything else is an error and the queue will retry.
func (s *HTTPSender) Send(ctx context.Context, sub model.QueuedSubmission) error {
	body, err := json.Marshal(sub.Data)
	if err != nil {
		return fmt.Errorf("marshal submission %s: %w", sub.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", sub.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.NewBackendTimeoutError()
		}
		return fmt.Errorf("post submission %s: %w", sub.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a little of the body for the error message, then discard.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend rejected submission %s: status %d: %s", sub.ID, resp.StatusCode, msg)
	}
	return nil
}
