package listview

import (
	"context"
	"net/url"

	"github.com/pitabwire/sentinel/internal/feedapi"
	"github.com/pitabwire/sentinel/internal/query"
	"github.com/pitabwire/sentinel/model"
)

// ResetFeedPrompt is the confirmation question for the feed's master reset.
const ResetFeedPrompt = "ARE YOU SURE? This will delete ALL posts, comments, and reactions permanently."

// Confirmation questions for the partial feed clears.
const (
	ClearFeedDatabasePrompt = "Delete all posts, comments, and reactions? Sync history is kept."
	ClearFeedHistoryPrompt  = "Clear the sync history? The next sync returns every post."
)

// Posts returns the feed's posts, newest first. An empty channel lists every
// channel.
func (v *Views) Posts(ctx context.Context, channelID string) ([]model.Post, error) {
	params := url.Values{"channel_id": {channelID}}
	return getCached(ctx, v, params, CollectionPosts, func(ctx context.Context) ([]model.Post, error) {
		return v.feed.ListPosts(ctx, channelID)
	})
}

// CreatePost publishes a post.
func (v *Views) CreatePost(ctx context.Context, req model.CreatePostRequest) (model.Post, error) {
	post, err := v.feed.CreatePost(ctx, req)
	if err != nil {
		return model.Post{}, err
	}
	v.cache.Invalidate(CollectionPosts)
	return post, nil
}

// React adds an emoji reaction to a post.
func (v *Views) React(ctx context.Context, postID int, emoji string) (model.ReactionReceipt, error) {
	res, err := v.feed.React(ctx, postID, model.ReactionRequest{Emoji: emoji})
	if err != nil {
		return model.ReactionReceipt{}, err
	}
	v.cache.Invalidate(CollectionPosts)
	return res, nil
}

// Comments returns a post's comment tree.
func (v *Views) Comments(ctx context.Context, postID int) ([]model.Comment, error) {
	return query.Get(ctx, v.cache, itemKey(CollectionComments, postID), func(ctx context.Context) ([]model.Comment, error) {
		return v.feed.ListComments(ctx, postID)
	})
}

// Thread returns a post's comments flattened depth first.
func (v *Views) Thread(ctx context.Context, postID int) ([]feedapi.FlatComment, error) {
	tree, err := v.Comments(ctx, postID)
	if err != nil {
		return nil, err
	}
	return feedapi.Flatten(tree), nil
}

// Comment adds a comment to a post, or a reply to parentID when it is set,
// and returns the reloaded tree.
func (v *Views) Comment(ctx context.Context, postID int, text string, parentID *int) ([]model.Comment, error) {
	if _, err := v.feed.CreateComment(ctx, postID, model.CreateCommentRequest{Text: text, ParentID: parentID}); err != nil {
		return nil, err
	}
	v.cache.Invalidate(itemKey(CollectionComments, postID), CollectionPosts)
	return v.Comments(ctx, postID)
}

// ResetFeed deletes every post, comment and reaction after explicit
// confirmation.
func (v *Views) ResetFeed(ctx context.Context, confirmed bool) (model.ResetResult, error) {
	if err := requireConfirmation(confirmed, ResetFeedPrompt); err != nil {
		return model.ResetResult{}, err
	}
	res, err := v.feed.Reset(ctx)
	if err != nil {
		return model.ResetResult{}, err
	}
	v.cache.Invalidate(CollectionPosts, CollectionComments)
	return res, nil
}

// ClearFeedDatabase deletes posts, comments and reactions but keeps the sync
// history.
func (v *Views) ClearFeedDatabase(ctx context.Context, confirmed bool) (model.ResetResult, error) {
	if err := requireConfirmation(confirmed, ClearFeedDatabasePrompt); err != nil {
		return model.ResetResult{}, err
	}
	res, err := v.feed.ClearDatabase(ctx)
	if err != nil {
		return model.ResetResult{}, err
	}
	v.cache.Invalidate(CollectionPosts, CollectionComments)
	return res, nil
}

// ClearFeedHistory forgets which posts were already synced. Cached posts
// stay valid.
func (v *Views) ClearFeedHistory(ctx context.Context, confirmed bool) (model.ResetResult, error) {
	if err := requireConfirmation(confirmed, ClearFeedHistoryPrompt); err != nil {
		return model.ResetResult{}, err
	}
	return v.feed.ClearHistory(ctx)
}

// SyncFeed returns the posts that changed since the previous sync. It is
// never cached because every call advances the feed's sync marker.
func (v *Views) SyncFeed(ctx context.Context) ([]model.SyncedPost, error) {
	posts, err := v.feed.Sync(ctx)
	if err != nil {
		return nil, err
	}
	if len(posts) > 0 {
		v.cache.Invalidate(CollectionPosts, CollectionComments)
	}
	return posts, nil
}

// FeedStatus reports whether the feed service is up.
func (v *Views) FeedStatus(ctx context.Context) (model.FeedStatus, error) {
	return v.feed.Status(ctx)
}
