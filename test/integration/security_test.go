package integration

import (
	"net/http"
	"testing"

	"github.com/pitabwire/sentinel/model"
)

func TestSecurity_protectedRoutesRequireToken(t *testing.T) {
	h := NewTestHarness(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/console/dashboard"},
		{http.MethodGet, "/console/workflows"},
		{http.MethodPost, "/console/workflows/WF-1/approve"},
		{http.MethodGet, "/console/settings"},
		{http.MethodGet, "/console/feed/posts"},
		{http.MethodPost, "/console/feed/reset"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			code := h.ErrorCode(t, h.Do(rt.method, rt.path, nil, "", nil), http.StatusUnauthorized)
			if code != model.ErrUnauthorized {
				t.Errorf("code = %q", code)
			}
		})
	}

	h.Bank.AssertNotCalled(t, "approveWorkflow")
	h.Bank.AssertNotCalled(t, "listWorkflows")
	h.Feed.AssertNotCalled(t, "resetAll")
}

func TestSecurity_badCredentialsAreRejected(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST("/console/session", map[string]string{"username": TestOperator, "password": "wrong"}, "")
	if code := h.ErrorCode(t, resp, http.StatusUnauthorized); code != model.ErrUnauthorized {
		t.Errorf("code = %q", code)
	}
	resp = h.GET("/console/dashboard", "not-a-token")
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_logoutRevokesToken(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Login()

	var auth model.SessionAuth
	h.AssertJSON(t, h.GET("/console/session", token), http.StatusOK, &auth)
	if !auth.IsAuthenticated || auth.User == nil || auth.User.Username != TestOperator {
		t.Fatalf("session = %+v", auth)
	}

	h.AssertStatus(t, h.DELETE("/console/session", token), http.StatusNoContent)
	h.AssertStatus(t, h.GET("/console/dashboard", token), http.StatusUnauthorized)

	// Signing in again issues a working token.
	fresh := h.Login()
	h.AssertStatus(t, h.GET("/console/dashboard", fresh), http.StatusOK)
}

func TestSecurity_headers(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/console/health", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("missing X-Correlation-Id")
	}
}

func TestSecurity_CORS(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("allowed origin preflight", func(t *testing.T) {
		resp := h.Do(http.MethodOptions, "/console/dashboard", nil, "", map[string]string{
			"Origin":                        ConsoleOrigin,
			"Access-Control-Request-Method": "GET",
		})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != ConsoleOrigin {
			t.Errorf("allow origin = %q", got)
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		resp := h.GETWithHeaders("/console/health", "", map[string]string{"Origin": "https://evil.example.com"})
		defer resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("allow origin = %q, want none", got)
		}
	})
}

func TestSecurity_correlationIDReachesBackend(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Login()
	h.Bank.OnOperation("getWorkflow").RespondWith(http.StatusOK, map[string]any{"id": 1, "workflow_id": "WF-1"})

	resp := h.GETWithHeaders("/console/workflows/WF-1", token, map[string]string{"X-Correlation-Id": "corr-42"})
	h.AssertStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-Correlation-Id"); got != "corr-42" {
		t.Errorf("echoed correlation id = %q", got)
	}

	req := h.Bank.LastRequest("getWorkflow")
	if req == nil {
		t.Fatal("backend not called")
	}
	if got := req.Headers.Get("X-Correlation-Id"); got != "corr-42" {
		t.Errorf("backend saw correlation id %q, want corr-42", got)
	}
	if got := req.Headers.Get("Authorization"); got != "" {
		t.Errorf("console token leaked to backend: %q", got)
	}
}

func TestSecurity_operatorRequiredBeforeBackend(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Login()

	code := h.ErrorCode(t, h.POST("/console/workflows/WF-1/approve", map[string]any{"operator": "   "}, token), http.StatusUnprocessableEntity)
	if code != model.ErrOperatorRequired {
		t.Errorf("code = %q", code)
	}
	h.Bank.AssertNotCalled(t, "approveWorkflow")
}
