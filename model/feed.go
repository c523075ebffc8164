package model

import "encoding/json"

// Post is a social feed post.
type Post struct {
	ID            int        `json:"id"`
	Content       string     `json:"content"`
	ImageURL      string     `json:"image_url,omitempty"`
	CreatedAt     *Timestamp `json:"created_at,omitempty"`
	ScheduledAt   *Timestamp `json:"scheduled_at,omitempty"`
	ChannelID     string     `json:"channel_id"`
	ReactionCount int        `json:"reaction_count"`
	CommentCount  int        `json:"comment_count"`
}

// Comment is a node of a post's comment tree. Replies are populated by the
// server.
type Comment struct {
	ID        int        `json:"id"`
	Text      string     `json:"text"`
	ParentID  *int       `json:"parent_id"`
	CreatedAt *Timestamp `json:"created_at,omitempty"`
	Replies   []Comment  `json:"replies,omitempty"`
}

// CreatePostRequest is the body of POST /posts/.
type CreatePostRequest struct {
	Content     string     `json:"content"`
	ChannelID   string     `json:"channel_id"`
	ScheduledAt *Timestamp `json:"scheduled_at,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
}

// CreateCommentRequest is the body of POST /comments/{postId}. A nil
// ParentID creates a top-level comment.
type CreateCommentRequest struct {
	Text     string `json:"text"`
	ParentID *int   `json:"parent_id,omitempty"`
}

// ReactionRequest is the body of POST /reactions/{postId}.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// DefaultChannel is the channel posts go to when none is given.
const DefaultChannel = "general"

// CommentReceipt acknowledges a created comment.
type CommentReceipt struct {
	Status string `json:"status"`
	ID     int    `json:"id"`
}

// ReactionReceipt acknowledges a reaction.
type ReactionReceipt struct {
	Status string `json:"status"`
}

// ResetResult is the response of the feed's reset and clear endpoints.
// Detail is a string for the clears and an object for the master reset.
type ResetResult struct {
	Status string          `json:"status"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// SyncedPost is one entry of the feed's incremental sync: a post that is new
// or gained comments since the previous sync.
type SyncedPost struct {
	PostID    int             `json:"post_id"`
	Channel   string          `json:"channel"`
	Author    string          `json:"author"`
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Comments  json.RawMessage `json:"comments"`
}

// FeedStatus is the feed service's index response.
type FeedStatus struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}
