package model

import (
	"encoding/json"
	"time"
)

// WorkflowStatus is the server-owned status of an AgentWorkflow record.
type WorkflowStatus string

// Workflow statuses reported by the bank backend.
const (
	StatusPending                WorkflowStatus = "pending"
	StatusIAAProcessing          WorkflowStatus = "iaa_processing"
	StatusIAACompleted           WorkflowStatus = "iaa_completed"
	StatusEBAProcessing          WorkflowStatus = "eba_processing"
	StatusEBACompleted           WorkflowStatus = "eba_completed"
	StatusAwaitingApproval       WorkflowStatus = "awaiting_approval"
	StatusApproved               WorkflowStatus = "approved"
	StatusPosted                 WorkflowStatus = "posted"
	StatusDiscarded              WorkflowStatus = "discarded"
	StatusEscalatedManagement    WorkflowStatus = "escalated_management"
	StatusEscalatedLegal         WorkflowStatus = "escalated_legal"
	StatusEscalatedInvestigation WorkflowStatus = "escalated_investigation"
	StatusRejected               WorkflowStatus = "rejected"
	StatusFailed                 WorkflowStatus = "failed"
)

// IsEscalated reports whether s is one of the escalation statuses.
func (s WorkflowStatus) IsEscalated() bool {
	switch s {
	case StatusEscalatedManagement, StatusEscalatedLegal, StatusEscalatedInvestigation:
		return true
	}
	return false
}

// IsApproved reports whether the post was approved, whether or not it has
// been published yet.
func (s WorkflowStatus) IsApproved() bool {
	return s == StatusApproved || s == StatusPosted
}

// EscalationType is the target of an escalation.
type EscalationType string

// Escalation targets accepted by the backend.
const (
	EscalateManagement    EscalationType = "management"
	EscalateLegal         EscalationType = "legal"
	EscalateInvestigation EscalationType = "investigation"
)

// Valid reports whether t is a known escalation target.
func (t EscalationType) Valid() bool {
	switch t {
	case EscalateManagement, EscalateLegal, EscalateInvestigation:
		return true
	}
	return false
}

// Risk levels assigned by the backend.
const (
	RiskCritical = "CRITICAL"
	RiskHigh     = "HIGH"
	RiskMedium   = "MEDIUM"
	RiskLow      = "LOW"
)

// AgentWorkflow is the server record of one FDA → IAA → EBA pipeline run.
// The console never changes it locally; it only changes through API calls.
type AgentWorkflow struct {
	ID                       int               `json:"id"`
	WorkflowID               string            `json:"workflow_id"`
	SentimentID              int               `json:"sentiment_id"`
	Status                   WorkflowStatus    `json:"status"`
	SignalType               string            `json:"signal_type,omitempty"`
	IAAMatchedTransactions   []json.RawMessage `json:"iaa_matched_transactions,omitempty"`
	IAAMatchedReviews        []json.RawMessage `json:"iaa_matched_reviews,omitempty"`
	IAAAnalysis              string            `json:"iaa_analysis,omitempty"`
	IAACompletedAt           *Timestamp        `json:"iaa_completed_at,omitempty"`
	EBAOriginalPost          string            `json:"eba_original_post,omitempty"`
	EBAEditedPost            string            `json:"eba_edited_post,omitempty"`
	EBACompletedAt           *Timestamp        `json:"eba_completed_at,omitempty"`
	ConfidenceScore          *float64          `json:"confidence_score,omitempty"`
	DataQuality              string            `json:"data_quality,omitempty"`
	RiskLevel                string            `json:"risk_level,omitempty"`
	EscalationRecommendation string            `json:"escalation_recommendation,omitempty"`
	ApprovedBy               string            `json:"approved_by,omitempty"`
	ApprovedAt               *Timestamp        `json:"approved_at,omitempty"`
	PostedAt                 *Timestamp        `json:"posted_at,omitempty"`
	DiscardedBy              string            `json:"discarded_by,omitempty"`
	EscalatedBy              string            `json:"escalated_by,omitempty"`
	EscalatedAt              *Timestamp        `json:"escalated_at,omitempty"`
	EscalationType           string            `json:"escalation_type,omitempty"`
	ErrorMessage             string            `json:"error_message,omitempty"`
	RetryCount               int               `json:"retry_count"`
	Timestamp                *Timestamp        `json:"timestamp,omitempty"`
	CreatedAt                *Timestamp        `json:"created_at,omitempty"`
	UpdatedAt                *Timestamp        `json:"updated_at,omitempty"`
}

// ApproveRequest is the body of POST /workflows/{id}/approve. EditedPost is
// only sent when the operator chose to approve an edited post.
type ApproveRequest struct {
	EditedPost *string `json:"edited_post,omitempty"`
	ApprovedBy string  `json:"approved_by"`
}

// DiscardRequest is the body of POST /workflows/{id}/discard.
type DiscardRequest struct {
	DiscardedBy string `json:"discarded_by"`
	Reason      string `json:"reason,omitempty"`
}

// EscalateRequest is the body of POST /workflows/{id}/escalate.
type EscalateRequest struct {
	EscalationType EscalationType `json:"escalation_type"`
	EscalatedBy    string         `json:"escalated_by"`
}

// SignalReceipt acknowledges a sentiment signal submitted to
// POST /send_social_sentiment, which starts a new workflow.
type SignalReceipt struct {
	Status      string `json:"status"`
	SentimentID int    `json:"sentiment_id"`
	WorkflowID  string `json:"workflow_id"`
	Message     string `json:"message,omitempty"`
}

// ActionResult is the acknowledgement returned by workflow mutations.
type ActionResult struct {
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	// Posted is set by approve when the backend also published the post.
	Posted *bool `json:"posted,omitempty"`
}

// Timestamp decodes the backend's ISO-8601 timestamps, which may omit the
// zone designator.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp with or without zone. A value
// without zone is taken to be UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, ok := ParseTimestamp(s)
	if !ok {
		return &time.ParseError{Layout: time.RFC3339, Value: s, Message: ": unsupported timestamp"}
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// TimeOf returns the time of ts, or the zero time when ts is nil.
func TimeOf(ts *Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.Time
}
