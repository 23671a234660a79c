// Package alert delivers emergency-action alerts to an HTTP endpoint.
package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oicur0t/loglwatch/pkg/models"
	"github.com/oicur0t/loglwatch/pkg/retry"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the endpoint is considered down
var ErrCircuitOpen = errors.New("circuit breaker is open, alert endpoint may be down")

// Client posts alerts as JSON
type Client struct {
	url            string
	httpClient     *http.Client
	logger         *zap.Logger
	retryConfig    retry.Config
	circuitBreaker *CircuitBreaker
}

// NewClient creates an alert client. tlsConfig may be nil for plain HTTP or
// server-only TLS.
func NewClient(url string, tlsConfig *tls.Config, timeout time.Duration, maxRetries int, backoff time.Duration, logger *zap.Logger) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:     tlsConfig,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: timeout,
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Client{
		url:        url,
		httpClient: httpClient,
		logger:     logger,
		retryConfig: retry.Config{
			MaxRetries:  maxRetries,
			InitialWait: backoff,
			MaxWait:     30 * time.Second,
			Multiplier:  2.0,
		},
		circuitBreaker: NewCircuitBreaker(5, 60*time.Second),
	}
}

// Notify sends alert, retrying server errors. Client errors are not retried.
func (c *Client) Notify(ctx context.Context, alert models.Alert) error {
	if c.circuitBreaker.IsOpen() {
		return ErrCircuitOpen
	}

	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.send(ctx, alert)
	})
	if err != nil {
		c.circuitBreaker.RecordFailure()
		return err
	}

	c.circuitBreaker.RecordSuccess()
	return nil
}

func (c *Client) send(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal alert: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Alert request failed", zap.Error(err))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error: %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		c.logger.Error("Alert rejected, not retrying",
			zap.Int("status_code", resp.StatusCode),
			zap.String("service", alert.Service))
		return retry.Permanent(fmt.Errorf("alert rejected: %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.logger.Debug("Alert sent",
		zap.String("alert_id", alert.ID),
		zap.String("service", alert.Service),
		zap.Int("status_code", resp.StatusCode))
	return nil
}
