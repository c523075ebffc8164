package transport

import (
	"net/http"

	"github.com/pitabwire/sentinel/model"
)

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Session.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *handlers) getSession(w http.ResponseWriter, _ *http.Request) {
	auth := h.Session.Auth()
	WriteJSON(w, http.StatusOK, model.SessionAuth{IsAuthenticated: auth.IsAuthenticated, User: auth.User})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Logout(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getSettings(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.Session.Settings())
}

func (h *handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	settings := h.Session.Settings()
	if err := decodeBody(r, &settings); err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.Session.SaveSettings(r.Context(), settings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, saved)
}

func (h *handlers) resetSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	settings, err := h.Session.ResetSettings(r.Context(), body.Confirmed)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

type approverBody struct {
	Name string `json:"name"`
}

func (h *handlers) getApprover(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, approverBody{Name: h.Session.Approver()})
}

func (h *handlers) putApprover(w http.ResponseWriter, r *http.Request) {
	var body approverBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	name, err := h.Session.SetApprover(r.Context(), body.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, approverBody{Name: name})
}
