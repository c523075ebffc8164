package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

func TestResilience_backendErrorsMapToEnvelopes(t *testing.T) {
	tests := []struct {
		name       string
		respond    func(*OperationMock)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "server error",
			respond:    func(m *OperationMock) { m.RespondWith(http.StatusServiceUnavailable, nil) },
			wantStatus: http.StatusBadGateway,
			wantCode:   model.ErrBackendUnavailable,
		},
		{
			name:       "not found",
			respond:    func(m *OperationMock) { m.RespondWithDetail(http.StatusNotFound, "Workflow not found") },
			wantStatus: http.StatusNotFound,
			wantCode:   model.ErrNotFound,
		},
		{
			name:       "conflict",
			respond:    func(m *OperationMock) { m.RespondWithDetail(http.StatusConflict, "already decided") },
			wantStatus: http.StatusConflict,
			wantCode:   model.ErrConflict,
		},
		{
			name:       "rate limited",
			respond:    func(m *OperationMock) { m.RespondWith(http.StatusTooManyRequests, nil) },
			wantStatus: http.StatusTooManyRequests,
			wantCode:   model.ErrRateLimited,
		},
		{
			name:       "connection dropped",
			respond:    func(m *OperationMock) { m.RespondWithConnectionError() },
			wantStatus: http.StatusBadGateway,
			wantCode:   model.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTestHarness(t)
			token := h.Login()
			tt.respond(h.Bank.OnOperation("getWorkflow"))

			code := h.ErrorCode(t, h.GET("/console/workflows/WF-1", token), tt.wantStatus)
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestResilience_validationDetailIsForwarded(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Login()
	h.Bank.OnOperation("createTransaction").RespondWith(http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{
			{"loc": []any{"body", "amount"}, "msg": "field required", "type": "value_error.missing"},
		},
	})

	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, h.POST("/console/transactions", map[string]any{"transaction_id": "TX-1", "customer_id": "C-1"}, token), http.StatusUnprocessableEntity, &body)
	if body.Error.Code != model.ErrValidationError {
		t.Fatalf("code = %q", body.Error.Code)
	}
	if len(body.Error.Details) != 1 || body.Error.Details[0].Field != "amount" {
		t.Errorf("details = %+v, want one error on amount", body.Error.Details)
	}
}

func TestResilience_idempotentReadIsRetried(t *testing.T) {
	h := NewTestHarness(t, WithRetryAttempts(3))
	token := h.Login()
	h.Bank.OnOperation("getWorkflow").
		RespondWith(http.StatusServiceUnavailable, nil).
		RespondWith(http.StatusOK, map[string]any{"id": 1, "workflow_id": "WF-1", "status": "awaiting_approval"})

	h.AssertStatus(t, h.GET("/console/workflows/WF-1", token), http.StatusOK)
	h.Bank.AssertCalled(t, "getWorkflow", 2)
}

func TestResilience_decisionsAreNotRetried(t *testing.T) {
	h := NewTestHarness(t, WithRetryAttempts(3))
	token := h.Login()
	h.Bank.OnOperation("approveWorkflow").RespondWith(http.StatusServiceUnavailable, nil)

	code := h.ErrorCode(t, h.POST("/console/workflows/WF-1/approve", map[string]any{"operator": "Fox Mulder"}, token), http.StatusBadGateway)
	if code != model.ErrBackendUnavailable {
		t.Errorf("code = %q", code)
	}
	h.Bank.AssertCalled(t, "approveWorkflow", 1)

	// The failure is kept as the workflow's last outcome.
	h.Bank.OnOperation("getWorkflow").RespondWith(http.StatusOK, map[string]any{"id": 1, "workflow_id": "WF-1"})
	var detail struct {
		LastOutcome *struct {
			Action string               `json:"action"`
			Error  *model.ErrorEnvelope `json:"error"`
		} `json:"last_outcome"`
	}
	h.AssertJSON(t, h.GET("/console/workflows/WF-1", token), http.StatusOK, &detail)
	if detail.LastOutcome == nil || detail.LastOutcome.Error == nil {
		t.Fatalf("last outcome = %+v, want the failed approval", detail.LastOutcome)
	}
	if detail.LastOutcome.Error.Code != model.ErrBackendUnavailable {
		t.Errorf("outcome code = %q", detail.LastOutcome.Error.Code)
	}
}

func TestResilience_breakerOpensAfterFailures(t *testing.T) {
	h := NewTestHarness(t, WithBreakerThreshold(2))
	token := h.Login()
	h.Bank.OnOperation("getWorkflow").RespondWith(http.StatusInternalServerError, nil)

	for range 2 {
		h.AssertStatus(t, h.GET("/console/workflows/WF-1", token), http.StatusBadGateway)
	}
	h.Bank.AssertCalled(t, "getWorkflow", 2)

	code := h.ErrorCode(t, h.GET("/console/workflows/WF-2", token), http.StatusBadGateway)
	if code != model.ErrBackendUnavailable {
		t.Errorf("code = %q", code)
	}
	h.Bank.AssertCalled(t, "getWorkflow", 2)

	// The feed has its own breaker.
	h.Feed.OnOperation("listPosts").RespondWith(http.StatusOK, []any{})
	h.AssertStatus(t, h.GET("/console/feed/posts", token), http.StatusOK)
	h.Feed.AssertCalled(t, "listPosts", 1)
}

func TestResilience_slowBackendTimesOut(t *testing.T) {
	h := NewTestHarness(t, WithBackendTimeout(100*time.Millisecond))
	token := h.Login()
	h.Bank.OnOperation("getWorkflow").RespondWithDelay(2*time.Second, http.StatusOK, map[string]any{"id": 1})

	start := time.Now()
	code := h.ErrorCode(t, h.GET("/console/workflows/WF-1", token), http.StatusGatewayTimeout)
	if code != model.ErrBackendTimeout {
		t.Errorf("code = %q", code)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %v, want the client timeout to cut it short", elapsed)
	}
}

func TestResilience_failedListIsNotCached(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Login()
	h.Bank.OnOperation("listWorkflows").
		RespondWith(http.StatusServiceUnavailable, nil).
		RespondWith(http.StatusOK, workflowFixtures())

	h.AssertStatus(t, h.GET("/console/workflows", token), http.StatusBadGateway)
	h.AssertStatus(t, h.GET("/console/workflows", token), http.StatusOK)
	h.AssertStatus(t, h.GET("/console/workflows", token), http.StatusOK)
	h.Bank.AssertCalled(t, "listWorkflows", 2)
}

func TestResilience_streamReconnects(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Login()
	h.WaitConnected()

	h.Bank.DropStreams()
	if !waitFor(context.Background(), 5*time.Second, func() bool { return h.Bank.StreamConnections() >= 2 }) {
		t.Fatal("subscriber never reconnected after the stream dropped")
	}
	h.WaitConnected()

	h.PushEvent(model.WorkflowEvent{Type: model.EventFDAReceived, WorkflowID: "WF-8", Timestamp: "2025-03-01T09:00:00Z"})
	if !waitFor(context.Background(), 5*time.Second, func() bool { return h.Board.Len() == 1 }) {
		t.Fatal("event after reconnect never reached the board")
	}

	var dash struct {
		Connected bool `json:"connected"`
	}
	h.AssertJSON(t, h.GET("/console/dashboard", token), http.StatusOK, &dash)
	if !dash.Connected {
		t.Error("dashboard reports disconnected after reconnect")
	}
}

func TestResilience_readiness(t *testing.T) {
	t.Run("ready with complete contract", func(t *testing.T) {
		h := NewTestHarness(t, WithContract())
		h.WaitConnected()

		var ready observability.ReadinessResponse
		h.AssertJSON(t, h.GET("/console/ready", ""), http.StatusOK, &ready)
		for _, check := range []string{"event_stream", "session_store", "bank_contract"} {
			if ready.Checks[check].Status != "ok" {
				t.Errorf("check %s = %+v", check, ready.Checks[check])
			}
		}
	})

	t.Run("not ready when bank lacks an endpoint", func(t *testing.T) {
		h := NewTestHarness(t, WithContract("POST /api/workflows/{workflow_id}/escalate"))
		h.WaitConnected()

		var ready observability.ReadinessResponse
		h.AssertJSON(t, h.GET("/console/ready", ""), http.StatusServiceUnavailable, &ready)
		if ready.Checks["bank_contract"].Status != "error" {
			t.Errorf("bank_contract = %+v", ready.Checks["bank_contract"])
		}
		if ready.Checks["event_stream"].Status != "ok" {
			t.Errorf("event_stream = %+v", ready.Checks["event_stream"])
		}
	})

	t.Run("not ready without the stream", func(t *testing.T) {
		h := NewTestHarness(t)
		h.WaitConnected()
		h.Subscriber.Close()

		var ready observability.ReadinessResponse
		h.AssertJSON(t, h.GET("/console/ready", ""), http.StatusServiceUnavailable, &ready)
		if ready.Checks["event_stream"].Status != "error" {
			t.Errorf("event_stream = %+v", ready.Checks["event_stream"])
		}
	})
}
