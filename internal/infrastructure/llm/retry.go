package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	maxAttempts = 4
	baseBackoff = 2 * time.Second
)

// apiError carries the HTTP status of a failed model call so callers can
// branch on the status code instead of matching error text.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// doWithRetry executes the request-producing function, retrying with
// exponential backoff while the API answers 429 or 503. Other failures
// return immediately.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := baseBackoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return body, nil
		}
		lastErr = &apiError{Status: resp.StatusCode, Body: truncateBody(body)}
		if !retryable(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func truncateBody(body []byte) string {
	const limit = 300
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}
