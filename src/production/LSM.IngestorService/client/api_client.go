package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	config "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Config"
)

// StatusError is a non-2xx reply from the API Service
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed when sent again
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// IsRejected reports whether the API refused the payload itself
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !se.Retryable()
}

// APIClient handles communication with the API Service
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	retryDelay time.Duration
	userAgent  string
}

// NewAPIClient creates a new API client
func NewAPIClient(cfg config.ClientConfig, userAgent string) *APIClient {
	failures := cfg.BreakerFailures
	if failures < 1 {
		failures = 5
	}

	return &APIClient{
		baseURL: strings.TrimRight(cfg.APIServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "api-service",
			Timeout: cfg.BreakerOpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(failures)
			},
			// a rejected payload says nothing about API health
			IsSuccessful: func(err error) bool {
				return err == nil || IsRejected(err)
			},
		}),
		maxRetries: cfg.MaxRetries,
		retryDelay: 500 * time.Millisecond,
		userAgent:  userAgent,
	}
}

// PostReading submits one sensor payload to POST /api/data
func (c *APIClient) PostReading(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	return c.retryWithBackoff(ctx, func() error {
		resp, err := c.makeRequest(ctx, http.MethodPost, "/api/data", body)
		if err != nil {
			return fmt.Errorf("failed to post reading: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
}

// retryWithBackoff runs operation through the circuit breaker, retrying transient failures
func (c *APIClient) retryWithBackoff(ctx context.Context, operation func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryDelay
	bo.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, operation()
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("circuit breaker is open: %w", err))
		case IsRejected(err):
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(c.maxRetries, 0))), ctx))

	if err != nil && attempts > 1 {
		return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
	}
	return err
}

// makeRequest makes an HTTP request to the API Service
func (c *APIClient) makeRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	return c.httpClient.Do(req)
}

// Health checks if the API Service is live
func (c *APIClient) Health(ctx context.Context) error {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/health/live", nil)
	if err != nil {
		return fmt.Errorf("failed to check API health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// GetCircuitBreakerStatus returns the circuit breaker state for monitoring
func (c *APIClient) GetCircuitBreakerStatus() map[string]interface{} {
	counts := c.breaker.Counts()
	return map[string]interface{}{
		"state":                c.breaker.State().String(),
		"consecutive_failures": counts.ConsecutiveFailures,
		"total_failures":       counts.TotalFailures,
		"requests":             counts.Requests,
	}
}
