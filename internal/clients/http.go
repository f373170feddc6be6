package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/vaidashi/storefront-orders/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/retry"
)

// errorBody is the error envelope returned by the collaborator services
type errorBody struct {
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// jsonClient performs GET requests against a collaborator with retry and a circuit breaker
type jsonClient struct {
	name        string
	baseURL     string
	httpClient  *http.Client
	logger      logger.Logger
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
}

func newJSONClient(name, baseURL string, timeout time.Duration, log logger.Logger) *jsonClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig(name)
	breakerCfg.IsFailure = apperrors.IsRetryable

	return &jsonClient{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
		retryConfig: &retry.RetryConfig{
			MaxAttempts: 3,
			BackoffStrategy: &retry.ExponentialBackoff{
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     2 * time.Second,
				Multiplier:      2,
				JitterFactor:    0.2,
			},
			Logger:   log,
			Classify: apperrors.IsRetryable,
		},
		breaker: circuitbreaker.New(breakerCfg),
	}
}

// get fetches path into out. notFound builds the error returned on a 404.
func (c *jsonClient) get(ctx context.Context, path string, out interface{}, notFound func() error) error {
	url := c.baseURL + path

	attempt := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return apperrors.NewTimeoutError(fmt.Sprintf("%s request timed out", c.name))
			}
			return apperrors.NewTemporaryError(fmt.Sprintf("failed to reach %s: %v", c.name, err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.NewTemporaryError(fmt.Sprintf("failed to read %s response: %v", c.name, err))
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return notFound()
		case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
			return apperrors.NewTimeoutError(fmt.Sprintf("%s timed out: %d", c.name, resp.StatusCode))
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return apperrors.NewTemporaryError(fmt.Sprintf("%s service error: %d", c.name, resp.StatusCode))
		case resp.StatusCode >= 400:
			var eb errorBody
			_ = json.Unmarshal(body, &eb)
			return apperrors.NewExternalError(
				fmt.Sprintf("%s rejected request: %d %s", c.name, resp.StatusCode, eb.Error), nil)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return apperrors.NewExternalError(fmt.Sprintf("failed to parse %s response", c.name), err)
		}
		return nil
	}

	err := retry.Retry(ctx, func() error {
		return c.breaker.Execute(ctx, attempt)
	}, c.retryConfig)
	if err == nil {
		return nil
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		return err
	case apperrors.KindExternal:
		c.logger.Warn("Collaborator call failed", "service", c.name, "path", path, "error", err)
		return err
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		c.logger.Warn("Circuit open, skipping collaborator call", "service", c.name, "path", path)
		return apperrors.NewExternalError(fmt.Sprintf("%s unavailable", c.name), err)
	}

	c.logger.Error("Collaborator call failed", "service", c.name, "path", path, "error", err)
	return apperrors.NewExternalError(fmt.Sprintf("%s call failed", c.name), err)
}

// BreakerMetrics exposes the state of the client's circuit breaker
func (c *jsonClient) BreakerMetrics() circuitbreaker.Metrics {
	return c.breaker.Metrics()
}

// ResetBreaker closes the client's circuit breaker
func (c *jsonClient) ResetBreaker() {
	c.breaker.Reset()
	c.logger.Info("Circuit breaker reset", "service", c.name)
}
