package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/sentinel/internal/approval"
	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/internal/listview"
	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/internal/query"
	"github.com/pitabwire/sentinel/internal/session"
	"github.com/pitabwire/sentinel/internal/workflow"
	"github.com/pitabwire/sentinel/model"
)

// fakeBackend stands in for both REST backends.
type fakeBackend struct {
	mu        sync.Mutex
	workflows []model.AgentWorkflow
	calls     map[string]int
	approvals []model.ApproveRequest
	discards  []model.DiscardRequest
	escalates []model.EscalateRequest
	deleted   []int
	signals   []model.FDASignal
	txnFilter model.TransactionFilter
	comments  []model.Comment
}

func newFakeBackend() *fakeBackend {
	approved := model.Timestamp{Time: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	created := model.Timestamp{Time: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	return &fakeBackend{
		calls: map[string]int{},
		workflows: []model.AgentWorkflow{
			{ID: 11, WorkflowID: "WF-1", Status: model.StatusAwaitingApproval, SignalType: "fraud_concern", RiskLevel: model.RiskHigh, EBAOriginalPost: "We hear you.", CreatedAt: &created},
			{ID: 12, WorkflowID: "WF-2", Status: model.StatusPosted, SignalType: "fraud_concern", ApprovedBy: "Dana", ApprovedAt: &approved, CreatedAt: &created},
			{ID: 13, WorkflowID: "WF-3", Status: model.StatusEscalatedLegal, SignalType: "service_outage", EscalatedBy: "Fox", CreatedAt: &created},
		},
	}
}

func (f *fakeBackend) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) ListWorkflows(context.Context, model.WorkflowStatus, int) ([]model.AgentWorkflow, error) {
	f.hit("ListWorkflows")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AgentWorkflow(nil), f.workflows...), nil
}

func (f *fakeBackend) GetWorkflow(_ context.Context, id string) (model.AgentWorkflow, error) {
	f.hit("GetWorkflow")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workflows {
		if w.WorkflowID == id {
			return w, nil
		}
	}
	return model.AgentWorkflow{}, model.NewNotFoundError("Workflow not found")
}

func (f *fakeBackend) DeleteWorkflow(_ context.Context, id int) (model.ActionResult, error) {
	f.hit("DeleteWorkflow")
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return model.ActionResult{Status: "success"}, nil
}

func (f *fakeBackend) SubmitSignal(_ context.Context, sig model.FDASignal) (model.SignalReceipt, error) {
	f.mu.Lock()
	f.signals = append(f.signals, sig)
	f.mu.Unlock()
	return model.SignalReceipt{Status: "processing", SentimentID: 7, WorkflowID: "WF-7"}, nil
}

func (f *fakeBackend) Approve(_ context.Context, id string, req model.ApproveRequest) (model.ActionResult, error) {
	f.mu.Lock()
	f.approvals = append(f.approvals, req)
	f.mu.Unlock()
	return model.ActionResult{Status: "success", WorkflowID: id}, nil
}

func (f *fakeBackend) Discard(_ context.Context, id string, req model.DiscardRequest) (model.ActionResult, error) {
	f.mu.Lock()
	f.discards = append(f.discards, req)
	f.mu.Unlock()
	return model.ActionResult{Status: "success", WorkflowID: id}, nil
}

func (f *fakeBackend) Escalate(_ context.Context, id string, req model.EscalateRequest) (model.ActionResult, error) {
	f.mu.Lock()
	f.escalates = append(f.escalates, req)
	f.mu.Unlock()
	return model.ActionResult{Status: "success", WorkflowID: id}, nil
}

func (f *fakeBackend) ListTransactions(_ context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	f.hit("ListTransactions")
	f.mu.Lock()
	f.txnFilter = filter
	f.mu.Unlock()
	return []model.Transaction{{ID: 1, TransactionID: "TXN-1", Status: filter.Status}}, nil
}

func (f *fakeBackend) GetTransaction(_ context.Context, id int) (model.Transaction, error) {
	return model.Transaction{ID: id, TransactionID: "TXN-1"}, nil
}

func (f *fakeBackend) CreateTransaction(_ context.Context, t model.Transaction) (model.Transaction, error) {
	t.ID = 99
	return t, nil
}

func (f *fakeBackend) UpdateTransaction(_ context.Context, id int, patch model.TransactionPatch) (model.Transaction, error) {
	t := model.Transaction{ID: id}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	return t, nil
}

func (f *fakeBackend) DeleteTransaction(context.Context, int) error {
	f.hit("DeleteTransaction")
	return nil
}

func (f *fakeBackend) ListReviews(context.Context, model.ReviewFilter) ([]model.CustomerReview, error) {
	return []model.CustomerReview{{ID: 1}}, nil
}

func (f *fakeBackend) GetReview(_ context.Context, id int) (model.CustomerReview, error) {
	return model.CustomerReview{ID: id}, nil
}

func (f *fakeBackend) CreateReview(_ context.Context, r model.CustomerReview) (model.CustomerReview, error) {
	r.ID = 5
	return r, nil
}

func (f *fakeBackend) UpdateReview(_ context.Context, id int, _ model.ReviewPatch) (model.CustomerReview, error) {
	return model.CustomerReview{ID: id}, nil
}

func (f *fakeBackend) DeleteReview(context.Context, int) error {
	f.hit("DeleteReview")
	return nil
}

func (f *fakeBackend) ListSentiments(context.Context, model.Page) ([]model.Sentiment, error) {
	return []model.Sentiment{{ID: 3, SignalType: "fraud_concern"}}, nil
}

func (f *fakeBackend) DeleteSentiment(context.Context, int) error {
	f.hit("DeleteSentiment")
	return nil
}

func (f *fakeBackend) CreatePost(_ context.Context, req model.CreatePostRequest) (model.Post, error) {
	return model.Post{ID: 1, Content: req.Content, ChannelID: req.ChannelID}, nil
}

func (f *fakeBackend) ListPosts(context.Context, string) ([]model.Post, error) {
	return []model.Post{{ID: 1, Content: "hello"}}, nil
}

func (f *fakeBackend) ListComments(context.Context, int) ([]model.Comment, error) {
	f.hit("ListComments")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Comment(nil), f.comments...), nil
}

func (f *fakeBackend) CreateComment(_ context.Context, _ int, req model.CreateCommentRequest) (model.CommentReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.comments) + 1
	c := model.Comment{ID: id, Text: req.Text, ParentID: req.ParentID}
	if req.ParentID == nil {
		f.comments = append(f.comments, c)
	} else {
		for i := range f.comments {
			if f.comments[i].ID == *req.ParentID {
				f.comments[i].Replies = append(f.comments[i].Replies, c)
			}
		}
	}
	return model.CommentReceipt{Status: "success", ID: id}, nil
}

func (f *fakeBackend) React(context.Context, int, model.ReactionRequest) (model.ReactionReceipt, error) {
	return model.ReactionReceipt{Status: "success"}, nil
}

func (f *fakeBackend) Reset(context.Context) (model.ResetResult, error) {
	f.hit("Reset")
	return model.ResetResult{Status: "success"}, nil
}

func (f *fakeBackend) ClearDatabase(context.Context) (model.ResetResult, error) {
	f.hit("ClearDatabase")
	return model.ResetResult{Status: "success"}, nil
}

func (f *fakeBackend) ClearHistory(context.Context) (model.ResetResult, error) {
	f.hit("ClearHistory")
	return model.ResetResult{Status: "success"}, nil
}

func (f *fakeBackend) Sync(context.Context) ([]model.SyncedPost, error) {
	f.hit("Sync")
	return []model.SyncedPost{{PostID: 1, Content: "hello"}}, nil
}

func (f *fakeBackend) Status(context.Context) (model.FeedStatus, error) {
	return model.FeedStatus{Service: "feed", Status: "running"}, nil
}

// fakeSource is an in-memory event source for the board.
type fakeSource struct {
	mu        sync.Mutex
	events    []model.WorkflowEvent
	connected bool
}

func (f *fakeSource) push(evs ...model.WorkflowEvent) {
	f.mu.Lock()
	f.events = append(f.events, evs...)
	f.mu.Unlock()
}

func (f *fakeSource) Since(cursor int) ([]model.WorkflowEvent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cursor >= len(f.events) {
		return nil, len(f.events)
	}
	return append([]model.WorkflowEvent(nil), f.events[cursor:]...), len(f.events)
}

func (f *fakeSource) Subscribe() (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}

func (f *fakeSource) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

const testPassword = "s3cret"

type harness struct {
	t         *testing.T
	router    http.Handler
	backend   *fakeBackend
	source    *fakeSource
	board     *workflow.Board
	approvals *approval.Controller
	session   *session.Session
	clock     *clockwork.FakeClock
	token     string
}

// newHarness builds the router over fakes and signs in. countdown is the
// approval delay in seconds.
func newHarness(t *testing.T, countdown int) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://console.example.com"}
	cfg.Server.CORS.AllowedMethods = []string{"GET", "POST"}

	backend := newFakeBackend()
	source := &fakeSource{connected: true}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC))

	views := listview.New(backend, backend, query.New(100, time.Minute), nil)
	board := workflow.NewBoard(source, nil, nil)
	board.OnEvent(views.HandleEvent)
	approvals := approval.NewController(backend, countdown,
		approval.WithClock(clock),
		approval.WithOnCommitted(func(string, string) { views.InvalidateWorkflows() }),
	)
	t.Cleanup(approvals.Close)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	sess := session.New(session.NewMemoryStore(),
		session.NewCredentials("admin", string(hash)),
		session.NewTokens([]byte("0123456789abcdef0123456789abcdef"), "sentinel-console", time.Hour, nil),
	)
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("session open: %v", err)
	}
	t.Cleanup(sess.Close)

	router := NewRouter(Dependencies{
		Config:    cfg,
		Clock:     clock,
		Session:   sess,
		Board:     board,
		Approvals: approvals,
		Views:     views,
		Signals:   backend,
		Readiness: observability.ReadinessChecks{
			StreamConnected: source.IsConnected,
			SessionStore:    sess,
		},
	})

	h := &harness{
		t:         t,
		router:    router,
		backend:   backend,
		source:    source,
		board:     board,
		approvals: approvals,
		session:   sess,
		clock:     clock,
	}
	w := h.do(http.MethodPost, "/console/session", map[string]string{"username": "admin", "password": testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var res session.LoginResult
	decode(t, w, &res)
	h.token = res.Token
	return h
}

// do sends an authenticated request when the harness holds a token.
func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.doToken(method, path, body, h.token)
}

func (h *harness) doToken(method, path string, body any, token string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

// errorCode returns the envelope code of an error response.
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	decode(t, w, &resp)
	return resp.Error.Code
}
