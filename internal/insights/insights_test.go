package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/sentinel/model"
)

func ts(t *testing.T, s string) *model.Timestamp {
	t.Helper()
	parsed, ok := model.ParseTimestamp(s)
	require.True(t, ok, "bad timestamp %q", s)
	return &model.Timestamp{Time: parsed}
}

func fixture(t *testing.T) []model.AgentWorkflow {
	return []model.AgentWorkflow{
		{ID: 1, WorkflowID: "WF-1", Status: model.StatusAwaitingApproval, SignalType: "fraud_alert", RiskLevel: model.RiskHigh,
			CreatedAt: ts(t, "2025-03-10T08:00:00")},
		{ID: 2, WorkflowID: "WF-2", Status: model.StatusPosted, SignalType: "fraud_alert", RiskLevel: model.RiskCritical,
			ApprovedBy: "alice", CreatedAt: ts(t, "2025-03-09T08:00:00"), ApprovedAt: ts(t, "2025-03-09T10:00:00")},
		{ID: 3, WorkflowID: "WF-3", Status: model.StatusApproved, SignalType: "outage", EBAEditedPost: "edited",
			CreatedAt: ts(t, "2025-03-08T08:00:00"), ApprovedAt: ts(t, "2025-03-08T09:00:00")},
		{ID: 4, WorkflowID: "WF-4", Status: model.StatusDiscarded, SignalType: "outage", RiskLevel: model.RiskLow,
			DiscardedBy: "bob", CreatedAt: ts(t, "2025-03-07T08:00:00")},
		{ID: 5, WorkflowID: "WF-5", Status: model.StatusEscalatedLegal, SignalType: "complaint_surge",
			EscalatedBy: "carol", CreatedAt: ts(t, "2025-03-06T08:00:00"), EscalatedAt: ts(t, "2025-03-10T12:00:00")},
		{ID: 6, WorkflowID: "WF-6", Status: model.StatusEscalatedInvestigation, RiskLevel: model.RiskMedium,
			CreatedAt: ts(t, "2025-03-10T09:00:00")},
		{ID: 7, WorkflowID: "WF-7", Status: model.StatusIAAProcessing, CreatedAt: ts(t, "2025-03-10T09:30:00")},
	}
}

func TestCountTabs(t *testing.T) {
	got := CountTabs(fixture(t))
	assert.Equal(t, TabCounts{Awaiting: 1, Approved: 2, Discarded: 1, Escalated: 2}, got)
}

func TestFilterTab(t *testing.T) {
	ws := fixture(t)
	ids := func(list []model.AgentWorkflow) []string {
		out := []string{}
		for _, w := range list {
			out = append(out, w.WorkflowID)
		}
		return out
	}
	assert.Equal(t, []string{"WF-2", "WF-3"}, ids(FilterTab(ws, TabApproved)))
	assert.Equal(t, []string{"WF-5", "WF-6"}, ids(FilterTab(ws, TabEscalated)))
	assert.Empty(t, FilterTab(ws, Tab("bogus")))
}

func TestParseTab(t *testing.T) {
	tab, ok := ParseTab("discarded")
	assert.True(t, ok)
	assert.Equal(t, TabDiscarded, tab)
	_, ok = ParseTab("pending")
	assert.False(t, ok)
}

func TestAuditTrail(t *testing.T) {
	trail := AuditTrail(fixture(t))
	require.Len(t, trail, 5, "undecided workflows are excluded")

	order := make([]string, len(trail))
	for i, e := range trail {
		order[i] = e.WorkflowID
	}
	// WF-5 escalated on 10 Mar 12:00, WF-6 has no escalated_at and falls
	// back to created_at 10 Mar 09:00.
	assert.Equal(t, []string{"WF-5", "WF-6", "WF-2", "WF-3", "WF-4"}, order)

	byID := map[string]AuditEntry{}
	for _, e := range trail {
		byID[e.WorkflowID] = e
	}
	assert.Equal(t, ActionApproved, byID["WF-2"].Action)
	assert.Equal(t, "alice", byID["WF-2"].PerformedBy)
	assert.Equal(t, ActionApprovedEdited, byID["WF-3"].Action)
	assert.Equal(t, "Unknown", byID["WF-3"].PerformedBy)
	assert.Equal(t, model.RiskMedium, byID["WF-3"].RiskLevel, "missing risk defaults to MEDIUM")
	assert.Equal(t, ActionDiscarded, byID["WF-4"].Action)
	assert.Equal(t, "bob", byID["WF-4"].PerformedBy)
	assert.Equal(t, ActionEscalatedLegal, byID["WF-5"].Action)
	assert.Equal(t, ActionFlaggedInvestigation, byID["WF-6"].Action)
	assert.Equal(t, "Flagged for Investigation", byID["WF-6"].Action.Label())
}

func TestFilterAudit(t *testing.T) {
	trail := AuditTrail(fixture(t))

	got := FilterAudit(trail, AuditFilter{Operator: "  ALI "})
	require.Len(t, got, 1)
	assert.Equal(t, "WF-2", got[0].WorkflowID)

	got = FilterAudit(trail, AuditFilter{Action: ActionDiscarded})
	require.Len(t, got, 1)
	assert.Equal(t, "WF-4", got[0].WorkflowID)

	assert.Len(t, FilterAudit(trail, AuditFilter{}), len(trail))
	assert.Equal(t, AuditTotals{Approved: 2, Escalated: 2, Discarded: 1}, TotalAudit(trail))
}

func TestSummarize(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	s := Summarize(fixture(t), now)

	assert.Equal(t, 7, s.SignalsDetected)
	assert.Equal(t, 2, s.SignalsApproved)
	assert.Equal(t, 2, s.SignalsEscalated)
	assert.Equal(t, 1, s.SignalsPending)
	assert.Equal(t, RiskDistribution{Critical: 1, High: 1, Medium: 1, Low: 1}, s.RiskDistribution)
	// (2h + 1h) / 2
	assert.InDelta(t, 1.5, s.AvgResponseTimeHours, 1e-9)
	assert.Equal(t, 29, s.ApprovalRatePercent)
	assert.Equal(t, 29, s.EscalationRatePercent)

	require.Len(t, s.TrendData, 7)
	assert.Equal(t, "2025-03-04", s.TrendData[0].Date)
	assert.Equal(t, TrendPoint{Date: "2025-03-10", Signals: 3}, s.TrendData[6])
	assert.Equal(t, 0, s.TrendData[1].Signals)
}

func TestTopConcerns(t *testing.T) {
	got := TopConcerns(fixture(t), 5)
	assert.Equal(t, []Concern{
		{Concern: "fraud_alert", Count: 2, Risk: model.RiskCritical},
		{Concern: "outage", Count: 2, Risk: model.RiskMedium},
		{Concern: "complaint_surge", Count: 1, Risk: model.RiskMedium},
	}, got)

	assert.Len(t, TopConcerns(fixture(t), 1), 1)
}

func TestSummarize_empty(t *testing.T) {
	s := Summarize(nil, time.Now())
	assert.Zero(t, s.SignalsDetected)
	assert.Zero(t, s.AvgResponseTimeHours)
	assert.Zero(t, s.ApprovalRatePercent)
	assert.Empty(t, s.TopConcerns)
}

func TestDisplayHelpers(t *testing.T) {
	assert.Equal(t, "87.3%", ConfidencePercent(0.873))
	assert.Equal(t, model.RiskCritical, HigherRisk(model.RiskHigh, model.RiskCritical))
	assert.Equal(t, model.RiskHigh, HigherRisk(model.RiskHigh, "UNKNOWN"))
	assert.Less(t, RiskRank(model.RiskLow), RiskRank(model.RiskMedium))

	high, mid, low := 92.0, 60.0, 10.0
	assert.Equal(t, ConfidenceHigh, BandOf(&high))
	assert.Equal(t, ConfidenceMedium, BandOf(&mid))
	assert.Equal(t, ConfidenceLow, BandOf(&low))
	assert.Equal(t, ConfidenceMedium, BandOf(nil))
}
