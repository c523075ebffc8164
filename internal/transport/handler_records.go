package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/sentinel/model"
)

func pageOf(r *http.Request) model.Page {
	return model.Page{Skip: queryInt(r, "skip", 0), Limit: queryInt(r, "limit", 0)}
}

func recordID(r *http.Request) (int, error) {
	return pathInt(chi.URLParam(r, "id"), "id")
}

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Views.Transactions(r.Context(), model.TransactionFilter{
		Page:   pageOf(r),
		Status: r.URL.Query().Get("status"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Views.Transaction(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

func (h *handlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	var t model.Transaction
	if err := decodeBody(r, &t); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.Views.CreateTransaction(r.Context(), t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (h *handlers) updateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var patch model.TransactionPatch
	if err := decodeBody(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.Views.UpdateTransaction(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

func (h *handlers) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Views.DeleteTransaction(r.Context(), id, queryBool(r, "confirm")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	list, err := h.Views.Reviews(r.Context(), model.ReviewFilter{
		Page:      pageOf(r),
		Sentiment: r.URL.Query().Get("sentiment"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *handlers) getReview(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rv, err := h.Views.Review(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rv)
}

func (h *handlers) createReview(w http.ResponseWriter, r *http.Request) {
	var rv model.CustomerReview
	if err := decodeBody(r, &rv); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.Views.CreateReview(r.Context(), rv)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

func (h *handlers) updateReview(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var patch model.ReviewPatch
	if err := decodeBody(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	rv, err := h.Views.UpdateReview(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rv)
}

func (h *handlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Views.DeleteReview(r.Context(), id, queryBool(r, "confirm")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listSentiments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Views.Sentiments(r.Context(), pageOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

func (h *handlers) deleteSentiment(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Views.DeleteSentiment(r.Context(), id, queryBool(r, "confirm")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
