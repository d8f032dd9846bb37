package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"encapsia.io/cli/internal/application/ports"
)

const maxLoggedBody = 1000

// ErrCircuitOpen is returned while the circuit breaker refuses requests
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError is a non-2xx response from the server
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusUnauthorized {
		return "authentication failed - check your token"
	}
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// GatewayOptions tunes an EncapsiaGateway. Zero values select defaults.
type GatewayOptions struct {
	UserAgent    string
	Timeout      time.Duration
	RetryPolicy  *RetryPolicy
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// EncapsiaGateway implements ports.ServerAPI over the Encapsia REST API
type EncapsiaGateway struct {
	host         string
	token        string
	userAgent    string
	httpClient   *http.Client
	retryPolicy  *RetryPolicy
	breaker      *CircuitBreaker
	pollInterval time.Duration
	logger       ports.LoggingGateway
	stats        APIStats
	mutex        sync.RWMutex
}

// APIStats tracks API usage statistics
type APIStats struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	AverageLatency     time.Duration `json:"average_latency"`
	LastRequestTime    time.Time     `json:"last_request_time"`
	LastError          string        `json:"last_error,omitempty"`
}

// envelope is the wrapper every API response uses
type envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// NewEncapsiaGateway creates a new API gateway for host authenticated with token
func NewEncapsiaGateway(host, token string, logger ports.LoggingGateway, opts GatewayOptions) *EncapsiaGateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = DefaultRetryPolicy()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "encapsia-cli"
	}

	return &EncapsiaGateway{
		host:         strings.TrimRight(host, "/"),
		token:        token,
		userAgent:    opts.UserAgent,
		httpClient:   opts.HTTPClient,
		retryPolicy:  opts.RetryPolicy,
		breaker:      NewCircuitBreaker(5, 60*time.Second),
		pollInterval: opts.PollInterval,
		logger:       logger,
	}
}

// Host returns the server URL
func (g *EncapsiaGateway) Host() string {
	return g.host
}

// Stats returns a snapshot of the usage statistics
func (g *EncapsiaGateway) Stats() APIStats {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.stats
}

// request describes one API call. Body is called once per attempt so
// retried uploads start from the beginning.
type request struct {
	method      string
	path        string
	query       url.Values
	contentType string
	body        func() (io.ReadCloser, error)
	logBody     []byte

	// raw responses are returned whole instead of being unwrapped from the
	// status/result envelope. Views answer this way.
	raw bool
}

func jsonRequest(method, path string, v interface{}) (request, error) {
	req := request{method: method, path: path}
	if v == nil {
		return req, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return request{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	req.contentType = "application/json"
	req.logBody = data
	req.body = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return req, nil
}

// call sends r with retries and decodes the result field of the response into out
func (g *EncapsiaGateway) call(ctx context.Context, r request, out interface{}) error {
	var env envelope
	err := g.executeWithRetry(ctx, func() error {
		var err error
		env, err = g.send(ctx, r)
		return err
	})
	if err != nil {
		return err
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", r.method, r.path, err)
	}
	return nil
}

func (g *EncapsiaGateway) send(ctx context.Context, r request) (envelope, error) {
	var body io.ReadCloser
	if r.body != nil {
		var err error
		if body, err = r.body(); err != nil {
			return envelope{}, err
		}
	}

	u := g.host + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		if body != nil {
			body.Close()
		}
		return envelope{}, fmt.Errorf("failed to create request: %w", err)
	}
	g.setRequestHeaders(req)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	g.logHTTPRequest(req, r.logBody)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return envelope{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("failed to read response body: %w", err)
	}

	g.logHTTPResponse(resp, data, latency)
	g.updateLatency(latency)

	var env envelope
	var decodeErr error
	if r.raw && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(bytes.TrimSpace(data)) > 0 && !json.Valid(data) {
			return envelope{}, fmt.Errorf("failed to decode response: not JSON")
		}
		return envelope{Status: "ok", Result: data}, nil
	}
	if len(bytes.TrimSpace(data)) > 0 {
		decodeErr = json.Unmarshal(data, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return envelope{}, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if env.Status != "" && env.Status != "ok" {
		return envelope{}, fmt.Errorf("server reported %s: %s", env.Status, env.Error)
	}
	return env, nil
}

// executeWithRetry executes a function with retry logic and circuit breaker
func (g *EncapsiaGateway) executeWithRetry(ctx context.Context, fn func() error) error {
	if !g.breaker.CanExecute() {
		return ErrCircuitOpen
	}

	maxAttempts := max(g.retryPolicy.MaxAttempts, 1)
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.retryPolicy.Delay(attempt)
			g.logger.Log(ports.LogLevelDebug, "Retrying request", map[string]interface{}{
				"attempt": attempt + 1,
				"delay":   delay.String(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		attempts++
		g.updateStats(true, false, "")
		err := fn()
		if err == nil {
			g.breaker.RecordSuccess()
			g.updateStats(false, true, "")
			return nil
		}

		lastErr = err
		g.updateStats(false, false, err.Error())

		// A client error still proves the server is reachable
		if !shouldRetry(ctx, err) {
			g.breaker.RecordSuccess()
			break
		}
		g.breaker.RecordFailure()
		if state := g.breaker.State(); state == StateOpen {
			g.logger.Log(ports.LogLevelWarn, "Server keeps failing; refusing further requests for now", map[string]interface{}{
				"circuit": state.String(),
				"error":   err.Error(),
			})
			break
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

// shouldRetry retries network errors and server-side failures only
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func (g *EncapsiaGateway) setRequestHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
}

func (g *EncapsiaGateway) logHTTPRequest(req *http.Request, body []byte) {
	if g.logger.GetLogLevel() != ports.LogLevelDebug {
		return
	}
	fields := map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	}
	if len(body) > 0 {
		fields["body"] = truncate(body)
	}
	g.logger.Log(ports.LogLevelDebug, "HTTP request", fields)
}

func (g *EncapsiaGateway) logHTTPResponse(resp *http.Response, body []byte, latency time.Duration) {
	if g.logger.GetLogLevel() != ports.LogLevelDebug {
		return
	}
	g.logger.Log(ports.LogLevelDebug, "HTTP response", map[string]interface{}{
		"status":     resp.StatusCode,
		"latency_ms": latency.Milliseconds(),
		"body":       truncate(body),
	})
}

func truncate(body []byte) string {
	if len(body) > maxLoggedBody {
		return string(body[:maxLoggedBody]) + "... (truncated)"
	}
	return string(body)
}

// updateStats updates API statistics
func (g *EncapsiaGateway) updateStats(isAttempt, isSuccess bool, errorMsg string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if isAttempt {
		g.stats.TotalRequests++
		g.stats.LastRequestTime = time.Now()
		return
	}
	if isSuccess {
		g.stats.SuccessfulRequests++
		g.stats.LastError = ""
	} else {
		g.stats.FailedRequests++
		g.stats.LastError = errorMsg
	}
}

// updateLatency updates average latency
func (g *EncapsiaGateway) updateLatency(latency time.Duration) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.stats.AverageLatency == 0 {
		g.stats.AverageLatency = latency
	} else {
		// Simple moving average
		g.stats.AverageLatency = (g.stats.AverageLatency + latency) / 2
	}
}

var _ ports.ServerAPI = (*EncapsiaGateway)(nil)
