package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 4 << 20

// PostJSON performs one POST and returns the body of a 2xx response. The
// retry flag reports whether the failure is worth another attempt.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte) (respBody []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, false, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("provider temporary status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("provider status %d: %s", resp.StatusCode, snippet(respBody))
	}
	return respBody, false, nil
}

// Retry runs call up to maxRetries+1 times with exponential backoff while it
// reports a retryable failure.
func Retry(ctx context.Context, maxRetries int, backoffBase time.Duration, call func() (retry bool, err error)) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		retry, err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffBase * (1 << attempt)):
		}
	}
	return lastErr
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
