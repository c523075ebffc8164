package insights

import (
	"sort"
	"strings"
	"time"

	"github.com/pitabwire/sentinel/model"
)

// AuditAction is the operator decision recorded on a workflow.
type AuditAction string

// Audit actions.
const (
	ActionApproved             AuditAction = "approved"
	ActionApprovedEdited       AuditAction = "approved_edited"
	ActionDiscarded            AuditAction = "discarded"
	ActionEscalatedManagement  AuditAction = "escalated_management"
	ActionEscalatedLegal       AuditAction = "escalated_legal"
	ActionFlaggedInvestigation AuditAction = "flagged_investigation"
)

var actionLabels = map[AuditAction]string{
	ActionApproved:             "Approved & Posted",
	ActionApprovedEdited:       "Approved (Edited)",
	ActionDiscarded:            "Discarded",
	ActionEscalatedManagement:  "Escalated to Management",
	ActionEscalatedLegal:       "Escalated to Legal",
	ActionFlaggedInvestigation: "Flagged for Investigation",
}

// Label returns the display label of the action.
func (a AuditAction) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// IsApproval reports whether the action approved the post.
func (a AuditAction) IsApproval() bool {
	return a == ActionApproved || a == ActionApprovedEdited
}

// IsEscalation reports whether the action handed the post to another team.
func (a AuditAction) IsEscalation() bool {
	return a == ActionEscalatedManagement || a == ActionEscalatedLegal || a == ActionFlaggedInvestigation
}

const unknownPerformer = "Unknown"

// AuditEntry is one operator decision.
type AuditEntry struct {
	ID          int         `json:"id"`
	WorkflowID  string      `json:"workflow_id"`
	Action      AuditAction `json:"action"`
	PerformedBy string      `json:"performed_by"`
	Timestamp   time.Time   `json:"timestamp"`
	Details     string      `json:"details"`
	RiskLevel   string      `json:"risk_level"`
}

// AuditTrail returns one entry per workflow an operator acted on, newest
// first. Workflows not yet decided are left out.
func AuditTrail(workflows []model.AgentWorkflow) []AuditEntry {
	out := make([]AuditEntry, 0, len(workflows))
	for _, w := range workflows {
		e, ok := auditEntry(w)
		if ok {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func auditEntry(w model.AgentWorkflow) (AuditEntry, bool) {
	e := AuditEntry{
		ID:         w.ID,
		WorkflowID: w.WorkflowID,
		Timestamp:  model.TimeOf(w.CreatedAt),
		RiskLevel:  w.RiskLevel,
	}
	if e.RiskLevel == "" {
		e.RiskLevel = model.RiskMedium
	}

	escalated := func(action AuditAction, details string) {
		e.Action = action
		e.PerformedBy = orUnknown(w.EscalatedBy)
		e.Details = details
		if w.EscalatedAt != nil {
			e.Timestamp = w.EscalatedAt.Time
		}
	}

	switch w.Status {
	case model.StatusApproved, model.StatusPosted:
		e.PerformedBy = orUnknown(w.ApprovedBy)
		if w.EBAEditedPost != "" {
			e.Action = ActionApprovedEdited
			e.Details = "Edited post for clarity, then approved"
		} else {
			e.Action = ActionApproved
			e.Details = "Approved original post after review"
		}
		if w.ApprovedAt != nil {
			e.Timestamp = w.ApprovedAt.Time
		}
	case model.StatusEscalatedManagement:
		escalated(ActionEscalatedManagement, "Escalated to management due to high confidence uncertainty")
	case model.StatusEscalatedLegal:
		escalated(ActionEscalatedLegal, "Escalated to legal/compliance for review")
	case model.StatusEscalatedInvestigation:
		escalated(ActionFlaggedInvestigation, "Flagged for investigation")
	case model.StatusDiscarded:
		e.Action = ActionDiscarded
		e.PerformedBy = orUnknown(w.DiscardedBy)
		e.Details = "Discarded - false positive or not actionable"
	default:
		return AuditEntry{}, false
	}
	return e, true
}

func orUnknown(s string) string {
	if s == "" {
		return unknownPerformer
	}
	return s
}

// AuditFilter narrows the audit trail. Zero fields match everything.
type AuditFilter struct {
	Action AuditAction
	// Operator matches performers containing it, case-insensitively.
	Operator string
}

// FilterAudit returns the entries matching f, in input order.
func FilterAudit(entries []AuditEntry, f AuditFilter) []AuditEntry {
	operator := strings.ToLower(strings.TrimSpace(f.Operator))
	out := make([]AuditEntry, 0, len(entries))
	for _, e := range entries {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if operator != "" && !strings.Contains(strings.ToLower(e.PerformedBy), operator) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// AuditTotals counts entries by decision kind.
type AuditTotals struct {
	Approved  int `json:"approved"`
	Escalated int `json:"escalated"`
	Discarded int `json:"discarded"`
}

// TotalAudit counts entries by decision kind.
func TotalAudit(entries []AuditEntry) AuditTotals {
	var t AuditTotals
	for _, e := range entries {
		switch {
		case e.Action.IsApproval():
			t.Approved++
		case e.Action.IsEscalation():
			t.Escalated++
		case e.Action == ActionDiscarded:
			t.Discarded++
		}
	}
	return t
}
