// Package integration provides a reusable test harness for end-to-end
// integration testing of the Sentinel console server. It starts the full
// HTTP server against mock bank and feed backends, including the bank's
// workflow event websocket.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/sentinel/internal/approval"
	"github.com/pitabwire/sentinel/internal/bankapi"
	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/feedapi"
	"github.com/pitabwire/sentinel/internal/invoker"
	"github.com/pitabwire/sentinel/internal/listview"
	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/internal/query"
	"github.com/pitabwire/sentinel/internal/session"
	"github.com/pitabwire/sentinel/internal/stream"
	"github.com/pitabwire/sentinel/internal/transport"
	"github.com/pitabwire/sentinel/internal/workflow"
	"github.com/pitabwire/sentinel/model"
)

const (
	// TestOperator and TestPassword sign in to every harness.
	TestOperator = "admin"
	TestPassword = "s3cret"

	// ConsoleOrigin is the only origin the harness allows.
	ConsoleOrigin = "http://localhost:5173"

	bankStreamPath = "/api/ws"
	openAPIOp      = "openapi"
)

// bankRoutes are the operations the mock bank backend serves.
var bankRoutes = map[string]operationRoute{
	"listWorkflows":     {method: "GET", pathPattern: "/api/workflows"},
	"getWorkflow":       {method: "GET", pathPattern: "/api/workflows/{id}"},
	"approveWorkflow":   {method: "POST", pathPattern: "/api/workflows/{id}/approve"},
	"discardWorkflow":   {method: "POST", pathPattern: "/api/workflows/{id}/discard"},
	"escalateWorkflow":  {method: "POST", pathPattern: "/api/workflows/{id}/escalate"},
	"deleteWorkflow":    {method: "DELETE", pathPattern: "/api/workflows/{id}"},
	"submitSignal":      {method: "POST", pathPattern: "/api/send_social_sentiment"},
	"listTransactions":  {method: "GET", pathPattern: "/api/database/transactions"},
	"createTransaction": {method: "POST", pathPattern: "/api/database/transactions"},
	"getTransaction":    {method: "GET", pathPattern: "/api/database/transactions/{id}"},
	"listReviews":       {method: "GET", pathPattern: "/api/database/reviews"},
	"listSentiments":    {method: "GET", pathPattern: "/api/database/sentiments"},
	openAPIOp:           {method: "GET", pathPattern: "/openapi.json"},
}

// feedRoutes are the operations the mock feed backend serves.
var feedRoutes = map[string]operationRoute{
	"listPosts":     {method: "GET", pathPattern: "/posts/"},
	"createPost":    {method: "POST", pathPattern: "/posts/"},
	"listComments":  {method: "GET", pathPattern: "/comments/{id}"},
	"createComment": {method: "POST", pathPattern: "/comments/{id}"},
	"react":         {method: "POST", pathPattern: "/reactions/{id}"},
	"resetAll":      {method: "DELETE", pathPattern: "/api/reset/all"},
	"clearDatabase": {method: "DELETE", pathPattern: "/api/database/clear"},
	"clearHistory":  {method: "DELETE", pathPattern: "/api/history/clear"},
	"sync":          {method: "GET", pathPattern: "/api/sync"},
	"status":        {method: "GET", pathPattern: "/api/"},
}

// TestHarness is a fully wired console instance with mock backends.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	Bank *MockBackend
	Feed *MockBackend

	// Internal components exposed for advanced test scenarios.
	Config     *config.Config
	Registry   *invoker.Registry
	Subscriber *stream.Subscriber
	Board      *workflow.Board
	Approvals  *approval.Controller
	Views      *listview.Views
	Session    *session.Session
	Metrics    *prometheus.Registry
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	countdown        int
	handlerTimeout   time.Duration
	backendTimeout   time.Duration
	retryAttempts    int
	breakerThreshold int
	contract         bool
	omitEndpoints    []string
}

// WithCountdown sets the approval countdown in seconds. The default is zero,
// so approvals commit inline.
func WithCountdown(seconds int) HarnessOption {
	return func(c *harnessConfig) { c.countdown = seconds }
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithBackendTimeout sets the per-attempt timeout of both backend clients.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.backendTimeout = d }
}

// WithRetryAttempts sets the attempt budget for idempotent backend calls.
func WithRetryAttempts(n int) HarnessOption {
	return func(c *harnessConfig) { c.retryAttempts = n }
}

// WithBreakerThreshold sets the consecutive failures that open a breaker.
func WithBreakerThreshold(n int) HarnessOption {
	return func(c *harnessConfig) { c.breakerThreshold = n }
}

// WithContract checks the bank's /openapi.json in readiness. Endpoints named
// as "METHOD /path" in omit are left out of the served document.
func WithContract(omit ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.contract = true
		c.omitEndpoints = omit
	}
}

// NewTestHarness creates and starts a full console instance. Everything is
// torn down when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout:   10 * time.Second,
		backendTimeout:   2 * time.Second,
		retryAttempts:    1,
		breakerThreshold: 5,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:    t,
		Bank: newMockBackend(t, invoker.ServiceBank, bankRoutes, bankStreamPath),
		Feed: newMockBackend(t, invoker.ServiceFeed, feedRoutes, ""),
	}
	h.Bank.OnOperation(openAPIOp).RespondWith(http.StatusOK, bankOpenAPIDoc(hc.omitEndpoints))

	// Step 1: Config pointing at the mocks.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{ConsoleOrigin}
	cfg.Services.Bank = testService(cfg.Services.Bank, h.Bank.URL(), hc)
	cfg.Services.Feed = testService(cfg.Services.Feed, h.Feed.URL(), hc)
	cfg.Stream.URL = h.Bank.WebsocketURL(bankStreamPath)
	cfg.Stream.ReconnectInitial = 20 * time.Millisecond
	cfg.Stream.ReconnectMax = 100 * time.Millisecond
	cfg.Contract.Enabled = hc.contract
	cfg.Contract.Source = h.Bank.URL() + "/openapi.json"
	h.Config = cfg

	logger := zap.NewNop()
	h.Metrics = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Step 2: Backend clients.
	h.Registry = invoker.NewRegistry(cfg.Services, invoker.WithLogger(logger), invoker.WithMetrics(metrics))
	bank := bankapi.New(h.Registry.MustGet(invoker.ServiceBank))
	feed := feedapi.New(h.Registry.MustGet(invoker.ServiceFeed))

	// Step 3: Operator session over the memory store.
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg.Session.Username = TestOperator
	cfg.Session.PasswordHash = string(hash)
	cfg.Session.TokenSecret = "integration-secret-0123456789abcdef"
	h.Session = session.NewFromConfig(cfg.Session, session.NewMemoryStore(),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
	)

	// Step 4: Views, board and approvals.
	h.Views = listview.New(bank, feed, query.NewFromConfig(cfg.Cache, query.WithMetrics(metrics)), logger)
	h.Subscriber = stream.NewFromConfig(cfg.Stream, stream.WithLogger(logger), stream.WithMetrics(metrics))
	h.Board = workflow.NewBoard(h.Subscriber, logger, metrics)
	h.Board.OnEvent(h.Views.HandleEvent)
	h.Approvals = approval.NewController(bank, hc.countdown,
		approval.WithLogger(logger),
		approval.WithMetrics(metrics),
		approval.WithActionTimeout(cfg.Approval.ActionTimeout),
		approval.WithOnCommitted(func(string, string) { h.Views.InvalidateWorkflows() }),
	)
	if err := h.Session.Open(ctx); err != nil {
		t.Fatalf("session open: %v", err)
	}

	// Step 5: Router and server.
	readiness := observability.ReadinessChecks{
		StreamConnected: h.Subscriber.IsConnected,
		SessionStore:    h.Session,
	}
	if hc.contract {
		readiness.BankContract = invoker.NewContract(invoker.ServiceBank, cfg.Contract.Source,
			bankapi.Endpoints(cfg.Services.Bank.APIPrefix), logger, metrics)
	}
	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         logger,
		Metrics:        metrics,
		Session:        h.Session,
		Board:          h.Board,
		Approvals:      h.Approvals,
		Views:          h.Views,
		Signals:        bank,
		Readiness:      readiness,
		MetricsHandler: observability.HandlerFor(h.Metrics),
	})
	h.server = httptest.NewServer(router)

	// Step 6: Background tasks.
	h.Subscriber.Start(ctx)
	boardDone := make(chan struct{})
	go func() {
		defer close(boardDone)
		h.Board.Run(ctx)
	}()

	t.Cleanup(func() {
		h.server.Close()
		h.Approvals.Close()
		h.Subscriber.Close()
		cancel()
		<-boardDone
		h.Session.Close()
	})
	return h
}

func testService(svc config.ServiceConfig, baseURL string, hc *harnessConfig) config.ServiceConfig {
	svc.BaseURL = baseURL
	svc.Timeout = hc.backendTimeout
	svc.Retry.MaxAttempts = hc.retryAttempts
	svc.Retry.BackoffInitial = 10 * time.Millisecond
	svc.Retry.BackoffMax = 20 * time.Millisecond
	svc.CircuitBreaker.FailureThreshold = hc.breakerThreshold
	svc.RateLimit.RequestsPerSecond = 0
	return svc
}

// bankOpenAPIDoc builds the document the mock bank publishes: every
// endpoint the bank client calls, less omit.
func bankOpenAPIDoc(omit []string) map[string]any {
	skip := make(map[string]bool, len(omit))
	for _, e := range omit {
		skip[e] = true
	}
	paths := make(map[string]any)
	for _, e := range bankapi.Endpoints("/api") {
		if skip[e.String()] {
			continue
		}
		item, _ := paths[e.Path].(map[string]any)
		if item == nil {
			item = make(map[string]any)
			paths[e.Path] = item
		}
		item[strings.ToLower(e.Method)] = map[string]any{
			"responses": map[string]any{"200": map[string]any{"description": "OK"}},
		}
	}
	return map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]any{"title": "bank sentinel", "version": "1.0.0"},
		"paths":   paths,
	}
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Login signs in as the test operator and returns the session token.
func (h *TestHarness) Login() string {
	h.t.Helper()
	resp := h.POST("/console/session", map[string]string{"username": TestOperator, "password": TestPassword}, "")
	var res session.LoginResult
	h.AssertJSON(h.t, resp, http.StatusOK, &res)
	if res.Token == "" {
		h.t.Fatal("login returned no token")
	}
	return res.Token
}

// WaitConnected blocks until the event stream is connected.
func (h *TestHarness) WaitConnected() {
	h.t.Helper()
	if !waitFor(context.Background(), 5*time.Second, func() bool {
		return h.Subscriber.IsConnected() && h.Bank.StreamClients() > 0
	}) {
		h.t.Fatal("event stream did not connect")
	}
}

// PushEvent sends a workflow event over the bank's websocket.
func (h *TestHarness) PushEvent(ev model.WorkflowEvent) {
	h.t.Helper()
	frame, err := json.Marshal(ev)
	if err != nil {
		h.t.Fatalf("marshal event: %v", err)
	}
	h.Bank.Broadcast(frame)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token, nil)
}

// Do performs a request with arbitrary headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks the status code and closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// ErrorCode asserts the status and returns the error envelope code.
func (h *TestHarness) ErrorCode(t *testing.T, resp *http.Response, expected int) string {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, expected, &body)
	return body.Error.Code
}
