// Package bankapi is the typed client for the bank console REST API.
package bankapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pitabwire/sentinel/internal/invoker"
	"github.com/pitabwire/sentinel/model"
)

// DefaultWorkflowLimit is the page size the backend applies when none is given.
const DefaultWorkflowLimit = 50

// Invoker executes backend requests. It is satisfied by *invoker.Client.
type Invoker interface {
	JSON(ctx context.Context, req invoker.Request, out any) error
}

// Client calls the bank backend. All paths are relative to the /api prefix
// carried by the invoker's base URL.
type Client struct {
	inv Invoker
}

// New creates a bank client on inv.
func New(inv Invoker) *Client {
	return &Client{inv: inv}
}

// Endpoints lists every operation the client uses, with prefix prepended,
// for the contract check.
func Endpoints(prefix string) []invoker.Endpoint {
	paths := []invoker.Endpoint{
		{Method: http.MethodGet, Path: "/workflows"},
		{Method: http.MethodGet, Path: "/workflows/{workflow_id}"},
		{Method: http.MethodPost, Path: "/send_social_sentiment"},
		{Method: http.MethodPost, Path: "/workflows/{workflow_id}/approve"},
		{Method: http.MethodPost, Path: "/workflows/{workflow_id}/discard"},
		{Method: http.MethodPost, Path: "/workflows/{workflow_id}/escalate"},
		{Method: http.MethodDelete, Path: "/workflows/{workflow_id}"},
		{Method: http.MethodGet, Path: "/database/transactions"},
		{Method: http.MethodPost, Path: "/database/transactions"},
		{Method: http.MethodGet, Path: "/database/transactions/{transaction_id}"},
		{Method: http.MethodPut, Path: "/database/transactions/{transaction_id}"},
		{Method: http.MethodDelete, Path: "/database/transactions/{transaction_id}"},
		{Method: http.MethodGet, Path: "/database/reviews"},
		{Method: http.MethodPost, Path: "/database/reviews"},
		{Method: http.MethodGet, Path: "/database/reviews/{review_id}"},
		{Method: http.MethodPut, Path: "/database/reviews/{review_id}"},
		{Method: http.MethodDelete, Path: "/database/reviews/{review_id}"},
		{Method: http.MethodGet, Path: "/database/sentiments"},
		{Method: http.MethodDelete, Path: "/database/sentiments/{sentiment_id}"},
	}
	for i := range paths {
		paths[i].Path = prefix + paths[i].Path
	}
	return paths
}

// --- workflows ---

// ListWorkflows returns the most recent workflows, newest first. An empty
// status lists every status; a non-positive limit uses the backend default.
func (c *Client) ListWorkflows(ctx context.Context, status model.WorkflowStatus, limit int) ([]model.AgentWorkflow, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []model.AgentWorkflow
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "listWorkflows",
		Method:    http.MethodGet,
		Path:      "/workflows",
		Query:     q,
	}, &out)
	return out, err
}

// GetWorkflow returns one workflow by its workflow id.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (model.AgentWorkflow, error) {
	var out model.AgentWorkflow
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "getWorkflow",
		Method:    http.MethodGet,
		Path:      workflowPath(workflowID),
	}, &out)
	return out, err
}

// SubmitSignal sends a sentiment signal, which starts a new workflow.
func (c *Client) SubmitSignal(ctx context.Context, signal model.FDASignal) (model.SignalReceipt, error) {
	var out model.SignalReceipt
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "submitSignal",
		Method:    http.MethodPost,
		Path:      "/send_social_sentiment",
		Body:      signal,
	}, &out)
	return out, err
}

// Approve approves the workflow's post, edited when req.EditedPost is set.
func (c *Client) Approve(ctx context.Context, workflowID string, req model.ApproveRequest) (model.ActionResult, error) {
	return c.action(ctx, "approveWorkflow", workflowPath(workflowID)+"/approve", req)
}

// Discard discards the workflow's post.
func (c *Client) Discard(ctx context.Context, workflowID string, req model.DiscardRequest) (model.ActionResult, error) {
	return c.action(ctx, "discardWorkflow", workflowPath(workflowID)+"/discard", req)
}

// Escalate escalates the workflow.
func (c *Client) Escalate(ctx context.Context, workflowID string, req model.EscalateRequest) (model.ActionResult, error) {
	return c.action(ctx, "escalateWorkflow", workflowPath(workflowID)+"/escalate", req)
}

func (c *Client) action(ctx context.Context, op, path string, body any) (model.ActionResult, error) {
	var out model.ActionResult
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: op,
		Method:    http.MethodPost,
		Path:      path,
		Body:      body,
	}, &out)
	return out, err
}

// DeleteWorkflow deletes a workflow by its numeric record id.
func (c *Client) DeleteWorkflow(ctx context.Context, id int) (model.ActionResult, error) {
	var out model.ActionResult
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "deleteWorkflow",
		Method:    http.MethodDelete,
		Path:      "/workflows/" + strconv.Itoa(id),
	}, &out)
	return out, err
}

func workflowPath(workflowID string) string {
	return "/workflows/" + url.PathEscape(workflowID)
}

// --- transactions ---

// ListTransactions returns a page of transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	q := pageQuery(f.Page)
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	var out []model.Transaction
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "listTransactions",
		Method:    http.MethodGet,
		Path:      "/database/transactions",
		Query:     q,
	}, &out)
	return out, err
}

// GetTransaction returns one transaction.
func (c *Client) GetTransaction(ctx context.Context, id int) (model.Transaction, error) {
	var out model.Transaction
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "getTransaction",
		Method:    http.MethodGet,
		Path:      transactionPath(id),
	}, &out)
	return out, err
}

// CreateTransaction creates a transaction and returns the stored record.
func (c *Client) CreateTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	var out model.Transaction
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "createTransaction",
		Method:    http.MethodPost,
		Path:      "/database/transactions",
		Body:      t,
	}, &out)
	return out, err
}

// UpdateTransaction applies patch and returns the updated record.
func (c *Client) UpdateTransaction(ctx context.Context, id int, patch model.TransactionPatch) (model.Transaction, error) {
	var out model.Transaction
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "updateTransaction",
		Method:    http.MethodPut,
		Path:      transactionPath(id),
		Body:      patch,
	}, &out)
	return out, err
}

// DeleteTransaction deletes a transaction.
func (c *Client) DeleteTransaction(ctx context.Context, id int) error {
	return c.inv.JSON(ctx, invoker.Request{
		Operation: "deleteTransaction",
		Method:    http.MethodDelete,
		Path:      transactionPath(id),
	}, nil)
}

func transactionPath(id int) string {
	return "/database/transactions/" + strconv.Itoa(id)
}

// --- reviews ---

// ListReviews returns a page of customer reviews, newest first.
func (c *Client) ListReviews(ctx context.Context, f model.ReviewFilter) ([]model.CustomerReview, error) {
	q := pageQuery(f.Page)
	if f.Sentiment != "" {
		q.Set("sentiment", f.Sentiment)
	}
	var out []model.CustomerReview
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "listReviews",
		Method:    http.MethodGet,
		Path:      "/database/reviews",
		Query:     q,
	}, &out)
	return out, err
}

// GetReview returns one review.
func (c *Client) GetReview(ctx context.Context, id int) (model.CustomerReview, error) {
	var out model.CustomerReview
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "getReview",
		Method:    http.MethodGet,
		Path:      reviewPath(id),
	}, &out)
	return out, err
}

// CreateReview creates a review and returns the stored record.
func (c *Client) CreateReview(ctx context.Context, r model.CustomerReview) (model.CustomerReview, error) {
	var out model.CustomerReview
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "createReview",
		Method:    http.MethodPost,
		Path:      "/database/reviews",
		Body:      r,
	}, &out)
	return out, err
}

// UpdateReview applies patch and returns the updated record.
func (c *Client) UpdateReview(ctx context.Context, id int, patch model.ReviewPatch) (model.CustomerReview, error) {
	var out model.CustomerReview
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "updateReview",
		Method:    http.MethodPut,
		Path:      reviewPath(id),
		Body:      patch,
	}, &out)
	return out, err
}

// DeleteReview deletes a review.
func (c *Client) DeleteReview(ctx context.Context, id int) error {
	return c.inv.JSON(ctx, invoker.Request{
		Operation: "deleteReview",
		Method:    http.MethodDelete,
		Path:      reviewPath(id),
	}, nil)
}

func reviewPath(id int) string {
	return "/database/reviews/" + strconv.Itoa(id)
}

// --- sentiments ---

// ListSentiments returns a page of stored sentiment signals.
func (c *Client) ListSentiments(ctx context.Context, p model.Page) ([]model.Sentiment, error) {
	var out []model.Sentiment
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "listSentiments",
		Method:    http.MethodGet,
		Path:      "/database/sentiments",
		Query:     pageQuery(p),
	}, &out)
	return out, err
}

// DeleteSentiment deletes a sentiment signal.
func (c *Client) DeleteSentiment(ctx context.Context, id int) error {
	return c.inv.JSON(ctx, invoker.Request{
		Operation: "deleteSentiment",
		Method:    http.MethodDelete,
		Path:      "/database/sentiments/" + strconv.Itoa(id),
	}, nil)
}

func pageQuery(p model.Page) url.Values {
	q := url.Values{}
	if p.Skip > 0 {
		q.Set("skip", strconv.Itoa(p.Skip))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}
