// Package feedapi is the typed client for the social feed REST API.
//
// Posts, comments and reactions are served at the root of the feed service.
// Sync and the reset endpoints live under /api.
package feedapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/sentinel/internal/invoker"
	"github.com/pitabwire/sentinel/model"
)

// Invoker executes backend requests. It is satisfied by *invoker.Client.
type Invoker interface {
	JSON(ctx context.Context, req invoker.Request, out any) error
}

// Client calls the feed backend.
type Client struct {
	inv Invoker
}

// New creates a feed client on inv.
func New(inv Invoker) *Client {
	return &Client{inv: inv}
}

// CreatePost publishes a post. An empty channel is replaced with
// model.DefaultChannel.
func (c *Client) CreatePost(ctx context.Context, req model.CreatePostRequest) (model.Post, error) {
	if strings.TrimSpace(req.Content) == "" {
		return model.Post{}, model.NewBadRequestError("post content is required")
	}
	if req.ChannelID == "" {
		req.ChannelID = model.DefaultChannel
	}
	var out model.Post
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "createPost",
		Method:    http.MethodPost,
		Path:      "/posts/",
		Body:      req,
	}, &out)
	return out, err
}

// ListPosts returns posts newest first with their reaction and comment
// counts. An empty channel lists every channel.
func (c *Client) ListPosts(ctx context.Context, channelID string) ([]model.Post, error) {
	q := url.Values{}
	if channelID != "" {
		q.Set("channel_id", channelID)
	}
	var out []model.Post
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "listPosts",
		Method:    http.MethodGet,
		Path:      "/posts/",
		Query:     q,
	}, &out)
	return out, err
}

// ListComments returns the comment tree of a post: top-level comments in
// creation order, each with its replies nested.
func (c *Client) ListComments(ctx context.Context, postID int) ([]model.Comment, error) {
	var out []model.Comment
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "listComments",
		Method:    http.MethodGet,
		Path:      "/comments/" + strconv.Itoa(postID),
	}, &out)
	return out, err
}

// CreateComment adds a comment to a post, or a reply when req.ParentID is
// set.
func (c *Client) CreateComment(ctx context.Context, postID int, req model.CreateCommentRequest) (model.CommentReceipt, error) {
	if strings.TrimSpace(req.Text) == "" {
		return model.CommentReceipt{}, model.NewBadRequestError("comment text is required")
	}
	var out model.CommentReceipt
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "createComment",
		Method:    http.MethodPost,
		Path:      "/comments/" + strconv.Itoa(postID),
		Body:      req,
	}, &out)
	return out, err
}

// React adds an emoji reaction to a post.
func (c *Client) React(ctx context.Context, postID int, req model.ReactionRequest) (model.ReactionReceipt, error) {
	if req.Emoji == "" {
		return model.ReactionReceipt{}, model.NewBadRequestError("emoji is required")
	}
	var out model.ReactionReceipt
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "react",
		Method:    http.MethodPost,
		Path:      "/reactions/" + strconv.Itoa(postID),
		Body:      req,
	}, &out)
	return out, err
}

// Reset clears every post, comment and reaction together with the sync
// history.
func (c *Client) Reset(ctx context.Context) (model.ResetResult, error) {
	return c.clear(ctx, "resetAll", "/api/reset/all")
}

// ClearDatabase clears posts, comments and reactions but keeps the sync
// history.
func (c *Client) ClearDatabase(ctx context.Context) (model.ResetResult, error) {
	return c.clear(ctx, "clearDatabase", "/api/database/clear")
}

// ClearHistory clears the sync history only, so the next Sync returns every
// post.
func (c *Client) ClearHistory(ctx context.Context) (model.ResetResult, error) {
	return c.clear(ctx, "clearHistory", "/api/history/clear")
}

func (c *Client) clear(ctx context.Context, op, path string) (model.ResetResult, error) {
	var out model.ResetResult
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: op,
		Method:    http.MethodDelete,
		Path:      path,
	}, &out)
	return out, err
}

// Sync returns the posts that are new or gained comments since the previous
// sync. The feed records the sync server-side, so the call is not
// idempotent.
func (c *Client) Sync(ctx context.Context) ([]model.SyncedPost, error) {
	var out []model.SyncedPost
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "sync",
		Method:    http.MethodGet,
		Path:      "/api/sync",
	}, &out)
	return out, err
}

// Status returns the feed's index status.
func (c *Client) Status(ctx context.Context) (model.FeedStatus, error) {
	var out model.FeedStatus
	err := c.inv.JSON(ctx, invoker.Request{
		Operation: "status",
		Method:    http.MethodGet,
		Path:      "/api/",
	}, &out)
	return out, err
}

// FlatComment is one comment of a flattened thread.
type FlatComment struct {
	model.Comment
	// Depth is 0 for top-level comments.
	Depth int `json:"depth"`
}

// Flatten walks a comment tree depth first, each comment followed by its
// replies.
func Flatten(tree []model.Comment) []FlatComment {
	var out []FlatComment
	var walk func([]model.Comment, int)
	walk = func(nodes []model.Comment, depth int) {
		for _, n := range nodes {
			replies := n.Replies
			n.Replies = nil
			out = append(out, FlatComment{Comment: n, Depth: depth})
			walk(replies, depth+1)
		}
	}
	walk(tree, 0)
	return out
}

// CountComments returns the number of comments in a tree, replies included.
func CountComments(tree []model.Comment) int {
	n := 0
	for _, c := range tree {
		n += 1 + CountComments(c.Replies)
	}
	return n
}
