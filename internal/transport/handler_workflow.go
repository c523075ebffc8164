package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/sentinel/internal/approval"
	"github.com/pitabwire/sentinel/internal/insights"
	"github.com/pitabwire/sentinel/model"
)

// dashboardCard is one live workflow on the dashboard.
type dashboardCard struct {
	model.WorkflowViewState
	Signal     *model.FDASignal `json:"signal,omitempty"`
	Confidence string           `json:"confidence,omitempty"`
}

type dashboardResponse struct {
	Connected bool               `json:"connected"`
	Workflows []dashboardCard    `json:"workflows"`
	Pending   []approval.Pending `json:"pending"`
}

func (h *handlers) dashboard(w http.ResponseWriter, _ *http.Request) {
	snap := h.Board.Snapshot()
	cards := make([]dashboardCard, 0, len(snap.Workflows))
	for _, st := range snap.Workflows {
		card := dashboardCard{WorkflowViewState: st}
		if sig, ok := st.Signal(); ok {
			card.Signal = &sig
			card.Confidence = insights.ConfidencePercent(sig.Confidence)
		}
		cards = append(cards, card)
	}
	WriteJSON(w, http.StatusOK, dashboardResponse{
		Connected: snap.Connected,
		Workflows: cards,
		Pending:   h.Approvals.Pending(),
	})
}

func (h *handlers) submitSignal(w http.ResponseWriter, r *http.Request) {
	var sig model.FDASignal
	if err := decodeBody(r, &sig); err != nil {
		h.fail(w, r, err)
		return
	}
	if sig.SignalType == "" {
		WriteValidationError(w, []model.FieldError{{Field: "signal_type", Code: "REQUIRED", Message: "signal_type is required"}})
		return
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		WriteValidationError(w, []model.FieldError{{Field: "confidence", Code: "RANGE", Message: "must be between 0 and 1"}})
		return
	}
	receipt, err := h.Signals.SubmitSignal(r.Context(), sig)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, receipt)
}

func (h *handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	tab := insights.TabAwaiting
	if raw := r.URL.Query().Get("tab"); raw != "" {
		t, ok := insights.ParseTab(raw)
		if !ok {
			h.fail(w, r, model.NewBadRequestError("unknown tab "+raw))
			return
		}
		tab = t
	}
	view, err := h.Views.WorkflowTab(r.Context(), tab)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// workflowDetail is a workflow record with the operator's state for it.
type workflowDetail struct {
	Workflow       model.AgentWorkflow     `json:"workflow"`
	ConfidenceBand insights.ConfidenceBand `json:"confidence_band"`
	Draft          *string                 `json:"draft,omitempty"`
	Countdown      *int                    `json:"countdown,omitempty"`
	LastOutcome    *approval.Outcome       `json:"last_outcome,omitempty"`
}

func (h *handlers) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	wf, err := h.Views.Workflow(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d := workflowDetail{Workflow: wf, ConfidenceBand: insights.BandOf(wf.ConfidenceScore)}
	if draft, ok := h.Approvals.Draft(id); ok {
		d.Draft = &draft
	}
	if remaining, ok := h.Approvals.Remaining(id); ok {
		d.Countdown = &remaining
	}
	if out, ok := h.Approvals.LastOutcome(id); ok {
		d.LastOutcome = &out
	}
	WriteJSON(w, http.StatusOK, d)
}

func (h *handlers) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	wf, err := h.Views.Workflow(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Views.DeleteWorkflow(r.Context(), wf, queryBool(r, "confirm"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Approvals.CancelEdit(id)
	WriteJSON(w, http.StatusOK, res)
}

type draftBody struct {
	Text string `json:"text"`
}

func (h *handlers) beginEdit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	wf, err := h.Views.Workflow(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	seed := wf.EBAEditedPost
	if seed == "" {
		seed = wf.EBAOriginalPost
	}
	WriteJSON(w, http.StatusOK, draftBody{Text: h.Approvals.BeginEdit(id, seed)})
}

func (h *handlers) updateEdit(w http.ResponseWriter, r *http.Request) {
	var body draftBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Approvals.UpdateDraft(chi.URLParam(r, "workflowID"), body.Text); err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, body)
}

func (h *handlers) cancelEdit(w http.ResponseWriter, r *http.Request) {
	h.Approvals.CancelEdit(chi.URLParam(r, "workflowID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) approve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operator string        `json:"operator"`
		Mode     approval.Mode `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if body.Mode == "" {
		body.Mode = approval.ModeOriginal
	}
	operator := h.operatorName(body.Operator)
	ticket, err := h.Approvals.Approve(r.Context(), chi.URLParam(r, "workflowID"), operator, body.Mode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.remember(r, operator)
	status := http.StatusOK
	if ticket.Pending != nil {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, ticket)
}

func (h *handlers) cancelApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	if !h.Approvals.Cancel(id) {
		WriteNotFound(w, "no approval countdown for workflow "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) pendingApprovals(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"countdown_seconds": h.Approvals.Countdown(),
		"pending":           h.Approvals.Pending(),
	})
}

func (h *handlers) discard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operator  string `json:"operator"`
		Reason    string `json:"reason"`
		Confirmed bool   `json:"confirmed"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	operator := h.operatorName(body.Operator)
	res, err := h.Approvals.Discard(r.Context(), chi.URLParam(r, "workflowID"), operator, body.Reason, body.Confirmed)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.remember(r, operator)
	WriteJSON(w, http.StatusOK, res)
}

func (h *handlers) escalate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operator       string               `json:"operator"`
		EscalationType model.EscalationType `json:"escalation_type"`
		Confirmed      bool                 `json:"confirmed"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	operator := h.operatorName(body.Operator)
	res, err := h.Approvals.Escalate(r.Context(), chi.URLParam(r, "workflowID"), operator, body.EscalationType, body.Confirmed)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.remember(r, operator)
	WriteJSON(w, http.StatusOK, res)
}
