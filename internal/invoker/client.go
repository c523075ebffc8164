package invoker

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

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

const maxResponseBytes = 10 << 20

// Request is one call to a backend service.
type Request struct {
	// Operation names the call in metrics and spans, e.g. "listWorkflows".
	Operation string
	Method    string
	// Path is appended to the service base URL and API prefix. It must
	// already be escaped.
	Path  string
	Query url.Values
	// Body is JSON-encoded when non-nil.
	Body any
}

// Response is a successful backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client calls one backend service with a timeout, circuit breaker, rate
// limit, and retries for idempotent requests.
type Client struct {
	serviceID string
	baseURL   string
	cfg       config.ServiceConfig
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewClient creates a client for serviceID.
func NewClient(serviceID string, cfg config.ServiceConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		serviceID: serviceID,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/") + cfg.APIPrefix,
		cfg:       cfg,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), max(rl.Burst, 1))
	}
	c.breaker = newBreaker(serviceID, cfg.CircuitBreaker, c.logger, c.metrics)
	return c
}

// ServiceID returns the id the client was created with.
func (c *Client) ServiceID() string {
	return c.serviceID
}

// BaseURL returns the base URL including the API prefix.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Do executes req. Non-2xx responses and transport failures are returned as
// *model.ErrorEnvelope.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	ctx, span := observability.StartSpan(ctx, "backend."+req.Operation,
		observability.AttrServiceID.String(c.serviceID),
		observability.AttrOperation.String(req.Operation),
	)
	resp, err := c.do(ctx, req)
	observability.EndSpanWithError(span, err)
	return resp, err
}

// JSON executes req and decodes the response body into out when out is
// non-nil and the body is not empty.
func (c *Client) JSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("invoker: %s %s: decode response: %w", c.serviceID, req.Operation, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	reqURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		reqURL += "?" + req.Query.Encode()
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return Response{}, fmt.Errorf("invoker: marshal body: %w", err)
		}
	}
	headers := buildRequestHeaders(ctx, req.Method)

	attempts := max(c.cfg.Retry.MaxAttempts, 1)
	if !isIdempotentMethod(req.Method) {
		attempts = 1
	}

	resp, err := backoff.Retry(ctx, func() (Response, error) {
		resp, err := c.once(ctx, req, reqURL, headers, body)
		if err != nil && !isRetryable(err) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	},
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.metrics.RecordBackendRetry(c.serviceID)
			c.logger.Debug("retrying backend request",
				zap.String("service_id", c.serviceID),
				zap.String("operation", req.Operation),
				zap.Duration("in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return Response{}, c.toEnvelope(ctx, req, err)
	}
	return resp, nil
}

func (c *Client) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	r := c.cfg.Retry
	b.InitialInterval = 100 * time.Millisecond
	if r.BackoffInitial > 0 {
		b.InitialInterval = r.BackoffInitial
	}
	b.Multiplier = 2
	if r.BackoffMultiplier > 0 {
		b.Multiplier = r.BackoffMultiplier
	}
	b.MaxInterval = 2 * time.Second
	if r.BackoffMax > 0 {
		b.MaxInterval = r.BackoffMax
	}
	b.Reset()
	return b
}

// once performs a single attempt through the rate limiter and breaker.
func (c *Client) once(ctx context.Context, req Request, reqURL string, headers http.Header, body []byte) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, err
		}
	}

	start := time.Now()
	status := 0
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, reqURL, rd)
		if err != nil {
			return nil, fmt.Errorf("invoker: build request: %w", err)
		}
		httpReq.Header = headers.Clone()

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("invoker: read response: %w", err)
		}
		status = resp.StatusCode
		r := Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}
		// Only 5xx counts against the breaker; 4xx is the caller's problem.
		if isServerError(resp.StatusCode) {
			return r, &statusError{code: resp.StatusCode, body: respBody}
		}
		return r, nil
	})
	if !isBreakerRejection(err) {
		c.metrics.RecordBackendRequest(c.serviceID, req.Operation, status, time.Since(start))
	}

	resp, _ := out.(Response)
	if err != nil {
		return resp, err
	}
	if isClientError(resp.StatusCode) {
		return resp, &statusError{code: resp.StatusCode, body: resp.Body}
	}
	return resp, nil
}

// toEnvelope converts the final attempt's error into the console error
// vocabulary.
func (c *Client) toEnvelope(ctx context.Context, req Request, err error) error {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.envelope()
	case isBreakerRejection(err):
		return model.NewBackendUnavailableError()
	case isTimeout(err):
		return model.NewBackendTimeoutError()
	case ctx.Err() != nil:
		return fmt.Errorf("invoker: %s %s: %w", c.serviceID, req.Operation, ctx.Err())
	case isConnectionError(err):
		c.logger.Warn("backend unreachable",
			zap.String("service_id", c.serviceID),
			zap.String("operation", req.Operation),
			zap.Error(err),
		)
		return model.NewBackendUnavailableError()
	}
	return fmt.Errorf("invoker: %s %s: %w", c.serviceID, req.Operation, err)
}

// statusError is a non-2xx backend response.
type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend responded %d", e.code)
}

// envelope maps the response to an error code, carrying the backend's
// detail message for client errors.
func (e *statusError) envelope() *model.ErrorEnvelope {
	msg, details := parseDetail(e.body)
	switch {
	case e.code == http.StatusNotFound:
		if msg == "" {
			msg = "resource not found"
		}
		return model.NewNotFoundError(msg)
	case e.code == http.StatusConflict:
		if msg == "" {
			msg = "resource conflict"
		}
		return model.NewConflictError(msg)
	case e.code == http.StatusTooManyRequests:
		return model.NewRateLimitedError()
	case isClientError(e.code):
		if len(details) > 0 {
			return model.NewValidationError(details)
		}
		if msg == "" {
			msg = http.StatusText(e.code)
		}
		return model.NewBadRequestError(msg)
	}
	return model.NewBackendUnavailableError()
}

// parseDetail reads a FastAPI error body: {"detail": "text"} or
// {"detail": [{"loc": [...], "msg": "...", "type": "..."}]}.
func parseDetail(body []byte) (string, []model.FieldError) {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return "", nil
	}
	var msg string
	if err := json.Unmarshal(envelope.Detail, &msg); err == nil {
		return msg, nil
	}
	var items []struct {
		Loc  []any  `json:"loc"`
		Msg  string `json:"msg"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err != nil {
		return "", nil
	}
	details := make([]model.FieldError, 0, len(items))
	for _, it := range items {
		details = append(details, model.FieldError{
			Field:   fieldPath(it.Loc),
			Code:    strings.ToUpper(it.Type),
			Message: it.Msg,
		})
	}
	return "", details
}

// fieldPath joins a FastAPI location, dropping the leading "body"/"query".
func fieldPath(loc []any) string {
	parts := make([]string, 0, len(loc))
	for i, p := range loc {
		s := fmt.Sprint(p)
		if i == 0 && (s == "body" || s == "query" || s == "path") {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

// --- headers ---

func buildRequestHeaders(ctx context.Context, method string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}
	if oc := model.OperatorContextFrom(ctx); oc != nil && oc.CorrelationID != "" {
		h.Set("X-Correlation-Id", sanitizeHeader(oc.CorrelationID))
	}
	observability.InjectTraceHeaders(ctx, h)
	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
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

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryable reports whether another attempt may succeed.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return isRetryableStatus(se.code)
	}
	if isBreakerRejection(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// A peer that hangs up mid-response surfaces as a bare EOF.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
