// Package transport is the request/response boundary to the remote
// ticketing service. It owns HTTP concerns end to end: JSON codec,
// authentication, retries with backoff, circuit breaking, and the
// mapping of remote fault codes into the model error taxonomy. Packages
// above it see only *model.Error values.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/changeflow/config"
	"github.com/pitabwire/changeflow/internal/observability"
	"github.com/pitabwire/changeflow/model"
)

// Client executes JSON requests against the ticketing service.
// It is safe for concurrent use.
type Client struct {
	baseURL string
	webURL  string
	http    *http.Client
	creds   *Credentials
	breaker *CircuitBreaker
	retry   config.RetryConfig
	maxBody int64
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewClient creates a client from configuration. logger must not be
// nil; metrics may be nil to disable instrumentation.
func NewClient(cfg *config.Config, creds *Credentials, logger *zap.Logger, metrics *observability.Metrics) *Client {
	timeout := cfg.Endpoint.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.Endpoint.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}

	httpTransport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.Endpoint.BaseURL, "/"),
		webURL:  deriveWebURL(cfg.Endpoint),
		http: &http.Client{
			Timeout:   timeout,
			Transport: httpTransport,
		},
		creds: creds,
		breaker: NewCircuitBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		),
		retry:   cfg.Retry,
		maxBody: maxBody,
		logger:  logger,
		metrics: metrics,
	}
}

// deriveWebURL falls back to the scheme and host of the API endpoint
// when no browser UI root is configured.
func deriveWebURL(cfg config.EndpointConfig) string {
	if cfg.WebURL != "" {
		return strings.TrimRight(cfg.WebURL, "/")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// BaseURL returns the API endpoint root.
func (c *Client) BaseURL() string { return c.baseURL }

// WebURL returns the browser UI root used for ticket deep links.
func (c *Client) WebURL() string { return c.webURL }

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, operation, path string, query url.Values, out any) error {
	return c.do(ctx, operation, http.MethodGet, path, query, nil, out)
}

// Post issues a POST request with a JSON body and decodes the response
// into out when out is non-nil.
func (c *Client) Post(ctx context.Context, operation, path string, body, out any) error {
	return c.do(ctx, operation, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT request with a JSON body and decodes the response
// into out when out is non-nil.
func (c *Client) Put(ctx context.Context, operation, path string, body, out any) error {
	return c.do(ctx, operation, http.MethodPut, path, nil, body, out)
}

// do runs the retry loop around executeOnce and records metrics for the
// completed request.
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body, out any) (err error) {
	ctx, span := observability.StartSpan(ctx, operation,
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)
	started := time.Now()
	defer func() {
		code := "ok"
		if err != nil {
			code = model.CodeOf(err)
		}
		c.metrics.ObserveRequest(operation, code, time.Since(started))
		observability.EndSpan(span, err)
	}()

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return model.NewValidationError(fmt.Sprintf("encode request body: %v", err), nil)
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(method) || !c.retry.IdempotentOnly

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.ObserveRetry(operation)
			delay := calculateBackoff(c.retry, attempt)
			select {
			case <-ctx.Done():
				return model.NewTransportError(ctx.Err().Error())
			case <-time.After(delay):
			}
		}

		err := c.executeOnce(ctx, operation, method, reqURL, bodyBytes, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !canRetry || !isRetryableFault(err) {
			return err
		}
		c.logger.Debug("transport: retrying request",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Error(err),
		)
	}
	return lastErr
}

// executeOnce performs a single round trip with circuit breaker
// protection and maps any fault response into the error taxonomy.
func (c *Client) executeOnce(ctx context.Context, operation, method, reqURL string, bodyBytes []byte, out any) error {
	if err := c.breaker.Allow(); err != nil {
		c.observeBreaker()
		return model.NewTransportError("circuit breaker is open")
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return model.NewTransportError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if c.creds != nil {
		if err := c.creds.Apply(req); err != nil {
			return model.NewTransportError(err.Error())
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.observeBreaker()
		if isConnectionError(err) {
			return model.NewTransportError(fmt.Sprintf("service unreachable: %v", err))
		}
		if ctx.Err() != nil {
			return model.NewTransportError("request deadline exceeded")
		}
		return model.NewTransportError(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		c.breaker.RecordFailure()
		c.observeBreaker()
		return model.NewTransportError(fmt.Sprintf("read response: %v", err))
	}

	if isServerError(resp.StatusCode) {
		c.breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		// 4xx faults are valid answers from the service, not
		// infrastructure failures.
		c.breaker.RecordSuccess()
	}
	c.observeBreaker()

	if resp.StatusCode >= 400 {
		fault := decodeFault(resp.StatusCode, respBody)
		c.logger.Warn("transport: remote fault",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("code", fault.Code),
		)
		return fault
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return model.NewTransportError(fmt.Sprintf("decode response: %v", err))
		}
	}
	return nil
}

func (c *Client) observeBreaker() {
	c.metrics.ObserveBreakerState(float64(c.breaker.State()))
}

// faultEnvelope is the structured error body returned by the service.
type faultEnvelope struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Details []model.FieldError `json:"details,omitempty"`
}

// taxonomyCodes is the set of fault codes the service shares with the
// client taxonomy. Codes outside this set fall back to status mapping.
var taxonomyCodes = map[string]bool{
	model.ErrNotFound:          true,
	model.ErrInvalidTransition: true,
	model.ErrValidation:        true,
	model.ErrMalformedQuery:    true,
	model.ErrNotAvailable:      true,
}

// decodeFault translates a fault response into the error taxonomy. The
// service's structured code wins; the HTTP status is a fallback for
// bodies the client cannot parse.
func decodeFault(status int, body []byte) *model.Error {
	var env faultEnvelope
	if err := json.Unmarshal(body, &env); err == nil && taxonomyCodes[env.Code] {
		return &model.Error{Code: env.Code, Message: env.Message, Details: env.Details}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusNotFound:
		return model.NewNotFoundError(msg)
	case status == http.StatusConflict:
		return model.NewInvalidTransitionError(msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return model.NewValidationError(msg, nil)
	default:
		return model.NewTransportError(fmt.Sprintf("status %d: %s", status, msg))
	}
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

// isRetryableFault retries only opaque transport failures. Taxonomy
// faults are authoritative answers from the service and repeat-safe
// only by re-asking the caller, not the wire.
func isRetryableFault(err error) bool {
	return model.IsTransport(err)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}
