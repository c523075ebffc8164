// Package listview serves the console's list pages from the query cache and
// keeps the cache honest: every mutation invalidates the collections it
// touches, and workflow stream events invalidate the workflow list.
package listview

import (
	"context"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/insights"
	"github.com/pitabwire/sentinel/internal/query"
	"github.com/pitabwire/sentinel/model"
)

// Cached collections.
const (
	CollectionWorkflows    = "workflows"
	CollectionTransactions = "transactions"
	CollectionReviews      = "reviews"
	CollectionSentiments   = "sentiments"
	CollectionPosts        = "posts"
	CollectionComments     = "comments"
)

// DefaultPageLimit is the page size used by the record lists when the
// caller gives none.
const DefaultPageLimit = 100

// BankAPI is the subset of the bank client the views read and mutate.
type BankAPI interface {
	ListWorkflows(ctx context.Context, status model.WorkflowStatus, limit int) ([]model.AgentWorkflow, error)
	GetWorkflow(ctx context.Context, workflowID string) (model.AgentWorkflow, error)
	DeleteWorkflow(ctx context.Context, id int) (model.ActionResult, error)

	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error)
	GetTransaction(ctx context.Context, id int) (model.Transaction, error)
	CreateTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error)
	UpdateTransaction(ctx context.Context, id int, patch model.TransactionPatch) (model.Transaction, error)
	DeleteTransaction(ctx context.Context, id int) error

	ListReviews(ctx context.Context, f model.ReviewFilter) ([]model.CustomerReview, error)
	GetReview(ctx context.Context, id int) (model.CustomerReview, error)
	CreateReview(ctx context.Context, r model.CustomerReview) (model.CustomerReview, error)
	UpdateReview(ctx context.Context, id int, patch model.ReviewPatch) (model.CustomerReview, error)
	DeleteReview(ctx context.Context, id int) error

	ListSentiments(ctx context.Context, p model.Page) ([]model.Sentiment, error)
	DeleteSentiment(ctx context.Context, id int) error
}

// FeedAPI is the subset of the feed client the views read and mutate.
type FeedAPI interface {
	CreatePost(ctx context.Context, req model.CreatePostRequest) (model.Post, error)
	ListPosts(ctx context.Context, channelID string) ([]model.Post, error)
	ListComments(ctx context.Context, postID int) ([]model.Comment, error)
	CreateComment(ctx context.Context, postID int, req model.CreateCommentRequest) (model.CommentReceipt, error)
	React(ctx context.Context, postID int, req model.ReactionRequest) (model.ReactionReceipt, error)
	Reset(ctx context.Context) (model.ResetResult, error)
	ClearDatabase(ctx context.Context) (model.ResetResult, error)
	ClearHistory(ctx context.Context) (model.ResetResult, error)
	Sync(ctx context.Context) ([]model.SyncedPost, error)
	Status(ctx context.Context) (model.FeedStatus, error)
}

// Views are the console's cached list pages.
type Views struct {
	bank   BankAPI
	feed   FeedAPI
	cache  *query.Cache
	logger *zap.Logger
}

// New creates the views. logger may be nil.
func New(bank BankAPI, feed FeedAPI, cache *query.Cache, logger *zap.Logger) *Views {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Views{bank: bank, feed: feed, cache: cache, logger: logger}
}

// Cache returns the underlying query cache.
func (v *Views) Cache() *query.Cache {
	return v.cache
}

// workflowEvents are the stream events after which the server-side workflow
// records have changed.
var workflowEvents = map[model.EventType]bool{
	model.EventEBACompleted:      true,
	model.EventPostApproved:      true,
	model.EventPostPosted:        true,
	model.EventPostDiscarded:     true,
	model.EventWorkflowEscalated: true,
	model.EventWorkflowDeleted:   true,
}

// HandleEvent invalidates the workflow list when ev reports a change to the
// server-side records.
func (v *Views) HandleEvent(ev model.WorkflowEvent) {
	if !workflowEvents[ev.Type] {
		return
	}
	n := v.cache.Invalidate(CollectionWorkflows)
	v.logger.Debug("workflow list invalidated by stream",
		zap.String("type", string(ev.Type)),
		zap.String("workflow_id", ev.WorkflowID),
		zap.Int("entries", n),
	)
}

// InvalidateWorkflows drops every cached workflow query.
func (v *Views) InvalidateWorkflows() {
	v.cache.Invalidate(CollectionWorkflows)
}

func withDefaultLimit(p model.Page) model.Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	return p
}

func pageParams(p model.Page) url.Values {
	return url.Values{
		"skip":  {strconv.Itoa(p.Skip)},
		"limit": {strconv.Itoa(p.Limit)},
	}
}

func itemKey(collection string, id int) string {
	return collection + "/" + strconv.Itoa(id)
}

func requireConfirmation(confirmed bool, prompt string) error {
	if confirmed {
		return nil
	}
	return model.NewConfirmationRequiredError(prompt)
}

// WorkflowTab is one moderation tab of the PR posts page.
type WorkflowTab struct {
	Tab       insights.Tab          `json:"tab"`
	Workflows []model.AgentWorkflow `json:"workflows"`
	Counts    insights.TabCounts    `json:"counts"`
}
