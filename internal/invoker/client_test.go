package invoker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

func testService(baseURL string) config.ServiceConfig {
	return config.ServiceConfig{
		BaseURL:   baseURL,
		APIPrefix: "/api",
		Timeout:   2 * time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:       3,
			BackoffInitial:    time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Millisecond,
		},
	}
}

func TestClient_JSON_buildsRequest(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotCT, gotCorrelation string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotCT = r.Header.Get("Content-Type")
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","workflow_id":"wf-1"}`))
	}))
	defer srv.Close()

	c := NewClient("bank", testService(srv.URL))
	ctx := model.WithOperatorContext(context.Background(), &model.OperatorContext{Username: "alice", CorrelationID: "corr-1\r\nX-Evil: 1"})

	var res model.ActionResult
	err := c.JSON(ctx, Request{
		Operation: "approveWorkflow",
		Method:    http.MethodPost,
		Path:      "/workflows/wf-1/approve",
		Query:     url.Values{"dry": {"false"}},
		Body:      model.ApproveRequest{ApprovedBy: "alice"},
	}, &res)
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/api/workflows/wf-1/approve" || gotQuery != "dry=false" {
		t.Errorf("request = %s %s?%s", gotMethod, gotPath, gotQuery)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotCorrelation != "corr-1X-Evil: 1" {
		t.Errorf("X-Correlation-Id = %q, want sanitized", gotCorrelation)
	}
	if gotBody["approved_by"] != "alice" {
		t.Errorf("body = %v", gotBody)
	}
	if _, ok := gotBody["edited_post"]; ok {
		t.Error("edited_post must be omitted when nil")
	}
	if res.Status != "success" || res.WorkflowID != "wf-1" {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_errorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"not found", 404, `{"detail":"Workflow not found"}`, model.ErrNotFound, "Workflow not found"},
		{"not found no detail", 404, ``, model.ErrNotFound, "resource not found"},
		{"conflict", 409, `{"detail":"already approved"}`, model.ErrConflict, "already approved"},
		{"bad request", 400, `{"detail":"Workflow not in awaiting_approval status"}`, model.ErrBadRequest, "Workflow not in awaiting_approval status"},
		{"validation", 422, `{"detail":[{"loc":["body","approved_by"],"msg":"field required","type":"value_error.missing"}]}`, model.ErrValidationError, ""},
		{"rate limited", 429, ``, model.ErrRateLimited, ""},
		{"server error", 500, `{"detail":"boom"}`, model.ErrBackendUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("bank", testService(srv.URL))
			_, err := c.Do(context.Background(), Request{Operation: "op", Method: http.MethodPost, Path: "/x"})
			ee, ok := model.AsEnvelope(err)
			if !ok {
				t.Fatalf("error = %v, want envelope", err)
			}
			if ee.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", ee.Code, tt.wantCode)
			}
			if tt.wantMsg != "" && ee.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", ee.Message, tt.wantMsg)
			}
		})
	}
}

func TestClient_validationDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"loc":["body","amount"],"msg":"value is not a valid float","type":"type_error.float"}]}`))
	}))
	defer srv.Close()

	c := NewClient("bank", testService(srv.URL))
	_, err := c.Do(context.Background(), Request{Operation: "createTransaction", Method: http.MethodPost, Path: "/database/transactions"})
	ee, _ := model.AsEnvelope(err)
	if ee == nil || len(ee.Details) != 1 {
		t.Fatalf("error = %v, want one detail", err)
	}
	if d := ee.Details[0]; d.Field != "amount" || d.Code != "TYPE_ERROR.FLOAT" {
		t.Errorf("detail = %+v", d)
	}
}

func TestClient_retriesIdempotentOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := observability.InitMetrics(reg)
	c := NewClient("bank", testService(srv.URL), WithMetrics(m))

	var out []model.AgentWorkflow
	if err := c.JSON(context.Background(), Request{Operation: "listWorkflows", Method: http.MethodGet, Path: "/workflows"}, &out); err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("GET calls = %d, want 3", n)
	}
	if v := testutil.ToFloat64(m.BackendRetriesTotal.WithLabelValues("bank")); v != 2 {
		t.Errorf("retries metric = %v, want 2", v)
	}

	calls.Store(0)
	_, err := c.Do(context.Background(), Request{Operation: "approveWorkflow", Method: http.MethodPost, Path: "/workflows/wf-1/approve"})
	if !model.HasCode(err, model.ErrBackendUnavailable) {
		t.Errorf("POST error = %v, want BACKEND_UNAVAILABLE", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("POST calls = %d, want 1 (no retry)", n)
	}
}

func TestClient_clientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("bank", testService(srv.URL))
	_, err := c.Do(context.Background(), Request{Operation: "getWorkflow", Method: http.MethodGet, Path: "/workflows/missing"})
	if !model.HasCode(err, model.ErrNotFound) {
		t.Errorf("error = %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestClient_breakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testService(srv.URL)
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.Retry.MaxAttempts = 1
	c := NewClient("bank", cfg)

	for i := 0; i < 2; i++ {
		_, _ = c.Do(context.Background(), Request{Operation: "listWorkflows", Method: http.MethodGet, Path: "/workflows"})
	}
	if c.BreakerState() != "open" {
		t.Fatalf("breaker = %s, want open", c.BreakerState())
	}

	_, err := c.Do(context.Background(), Request{Operation: "listWorkflows", Method: http.MethodGet, Path: "/workflows"})
	if !model.HasCode(err, model.ErrBackendUnavailable) {
		t.Errorf("error = %v, want BACKEND_UNAVAILABLE", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2 (open breaker short-circuits)", n)
	}
}

func TestClient_clientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testService(srv.URL)
	cfg.CircuitBreaker.FailureThreshold = 1
	c := NewClient("bank", cfg)
	for i := 0; i < 3; i++ {
		_, _ = c.Do(context.Background(), Request{Operation: "op", Method: http.MethodGet, Path: "/x"})
	}
	if c.BreakerState() != "closed" {
		t.Errorf("breaker = %s, want closed", c.BreakerState())
	}
}

func TestClient_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := testService(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	cfg.Retry.MaxAttempts = 1
	c := NewClient("bank", cfg)

	_, err := c.Do(context.Background(), Request{Operation: "listWorkflows", Method: http.MethodGet, Path: "/workflows"})
	if !model.HasCode(err, model.ErrBackendTimeout) {
		t.Errorf("error = %v, want BACKEND_TIMEOUT", err)
	}
}

func TestClient_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	cfg := testService(base)
	cfg.Retry.MaxAttempts = 2
	c := NewClient("feed", cfg)
	_, err := c.Do(context.Background(), Request{Operation: "listPosts", Method: http.MethodGet, Path: "/posts/"})
	if !model.HasCode(err, model.ErrBackendUnavailable) {
		t.Errorf("error = %v, want BACKEND_UNAVAILABLE", err)
	}
}

func TestClient_rateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := testService(srv.URL)
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	c := NewClient("bank", cfg)

	if _, err := c.Do(context.Background(), Request{Operation: "op", Method: http.MethodGet, Path: "/x"}); err != nil {
		t.Fatalf("first call error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Do(ctx, Request{Operation: "op", Method: http.MethodGet, Path: "/x"}); err == nil {
		t.Error("second call should be throttled")
	}
}

func TestParseDetail(t *testing.T) {
	msg, details := parseDetail([]byte(`{"detail":"plain"}`))
	if msg != "plain" || details != nil {
		t.Errorf("plain detail = %q, %v", msg, details)
	}
	msg, details = parseDetail([]byte(`not json`))
	if msg != "" || details != nil {
		t.Errorf("garbage = %q, %v", msg, details)
	}
	_, details = parseDetail([]byte(`{"detail":[{"loc":["query","limit"],"msg":"too big","type":"value_error"},{"loc":["body","items",0,"name"],"msg":"x","type":"t"}]}`))
	if len(details) != 2 || details[0].Field != "limit" || details[1].Field != "items.0.name" {
		t.Errorf("details = %+v", details)
	}
}
