package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/sentinel/model"
)

func postID(r *http.Request) (int, error) {
	return pathInt(chi.URLParam(r, "postID"), "postID")
}

func (h *handlers) listPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Views.Posts(r.Context(), r.URL.Query().Get("channel_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, posts)
}

func (h *handlers) createPost(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePostRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	post, err := h.Views.CreatePost(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, post)
}

func (h *handlers) react(w http.ResponseWriter, r *http.Request) {
	id, err := postID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req model.ReactionRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.Views.React(r.Context(), id, req.Emoji)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, receipt)
}

// listComments serves the comment tree, or the flattened thread with
// ?flat=true.
func (h *handlers) listComments(w http.ResponseWriter, r *http.Request) {
	id, err := postID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if queryBool(r, "flat") {
		thread, err := h.Views.Thread(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, thread)
		return
	}
	tree, err := h.Views.Comments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tree)
}

func (h *handlers) createComment(w http.ResponseWriter, r *http.Request) {
	id, err := postID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req model.CreateCommentRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tree, err := h.Views.Comment(r.Context(), id, req.Text, req.ParentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tree)
}

func (h *handlers) resetFeed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Views.ResetFeed(r.Context(), body.Confirmed)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *handlers) feedStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Views.FeedStatus(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

func (h *handlers) syncFeed(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Views.SyncFeed(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, posts)
}

// clearFeed clears the feed's database or its sync history, named by the
// target path parameter.
func (h *handlers) clearFeed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	var (
		res model.ResetResult
		err error
	)
	switch target := chi.URLParam(r, "target"); target {
	case "database":
		res, err = h.Views.ClearFeedDatabase(r.Context(), body.Confirmed)
	case "history":
		res, err = h.Views.ClearFeedHistory(r.Context(), body.Confirmed)
	default:
		err = model.NewNotFoundError("unknown clear target " + target)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
