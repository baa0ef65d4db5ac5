package webhookutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Invoke POSTs data to the webhook URL as JSON. Any 2xx response
// counts as delivered.
func Invoke[T any](ctx context.Context, url string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// InvokeWithRetries retries failed deliveries with exponential backoff
// until maxAttempts is exhausted or ctx is cancelled.
func InvokeWithRetries[T any](ctx context.Context, url string, data T, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxAttempts-1))
	return backoff.Retry(func() error {
		return Invoke(ctx, url, data)
	}, backoff.WithContext(b, ctx))
}
