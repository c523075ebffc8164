package transport

import (
	"net/http"

	"github.com/pitabwire/sentinel/internal/insights"
)

type auditResponse struct {
	Entries []insights.AuditEntry `json:"entries"`
	Totals  insights.AuditTotals  `json:"totals"`
}

// audit serves the decision trail. Totals cover the whole trail; entries are
// filtered by the action and operator query parameters.
func (h *handlers) audit(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.Views.Workflows(r.Context(), "", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	trail := insights.AuditTrail(workflows)
	q := r.URL.Query()
	entries := insights.FilterAudit(trail, insights.AuditFilter{
		Action:   insights.AuditAction(q.Get("action")),
		Operator: q.Get("operator"),
	})
	WriteJSON(w, http.StatusOK, auditResponse{Entries: entries, Totals: insights.TotalAudit(trail)})
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.Views.Workflows(r.Context(), "", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, insights.Summarize(workflows, h.Clock.Now()))
}
