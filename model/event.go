package model

import "encoding/json"

// EventType identifies a WorkflowEvent on the live stream.
type EventType string

// Event types folded by the workflow reducer.
const (
	EventFDAReceived   EventType = "fda_received"
	EventIAAStarted    EventType = "iaa_started"
	EventIAAProgress   EventType = "iaa_progress"
	EventIAACompleted  EventType = "iaa_completed"
	EventEBAStarted    EventType = "eba_started"
	EventEBAProgress   EventType = "eba_progress"
	EventEBACompleted  EventType = "eba_completed"
	EventWorkflowError EventType = "workflow_error"
)

// Event types emitted by the backend after an operator decision. The reducer
// does not fold them; they only signal that server-side records changed.
const (
	EventPostApproved      EventType = "post_approved"
	EventPostPosted        EventType = "post_posted"
	EventPostDiscarded     EventType = "post_discarded"
	EventWorkflowEscalated EventType = "workflow_escalated"
	EventWorkflowDeleted   EventType = "workflow_deleted"
)

// WorkflowEvent is a single frame received from the event stream.
type WorkflowEvent struct {
	Type       EventType       `json:"type"`
	WorkflowID string          `json:"workflow_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  string          `json:"timestamp"`
}

// ViewStatus is the display stage of a live workflow.
type ViewStatus string

// View statuses, in pipeline order. ViewError is reachable from any stage.
const (
	ViewFDA       ViewStatus = "fda"
	ViewIAA       ViewStatus = "iaa"
	ViewEBA       ViewStatus = "eba"
	ViewCompleted ViewStatus = "completed"
	ViewError     ViewStatus = "error"
)

// FDASignal is the structured sentiment signal attached by fda_received.
type FDASignal struct {
	SignalType          string   `json:"signal_type"`
	Confidence          float64  `json:"confidence"`
	Drivers             []string `json:"drivers,omitempty"`
	UncertaintyNotes    string   `json:"uncertainty_notes,omitempty"`
	RecommendEscalation bool     `json:"recommend_escalation"`
}

// Verification is the read-only IAA summary attached by iaa_completed.
type Verification struct {
	MatchedTransactions []json.RawMessage `json:"matched_transactions,omitempty"`
	MatchedReviews      []json.RawMessage `json:"matched_reviews,omitempty"`
	ConfidenceScore     *float64          `json:"confidence_score,omitempty"`
	SanitizedSummary    json.RawMessage   `json:"sanitized_summary,omitempty"`
}

// Empty reports whether no verification field is set.
func (v Verification) Empty() bool {
	return len(v.MatchedTransactions) == 0 &&
		len(v.MatchedReviews) == 0 &&
		v.ConfidenceScore == nil &&
		len(v.SanitizedSummary) == 0
}

// WorkflowViewState is the client-local view of one in-progress workflow,
// derived entirely from the events applied to it.
type WorkflowViewState struct {
	WorkflowID   string          `json:"workflow_id"`
	Status       ViewStatus      `json:"status"`
	FDAData      json.RawMessage `json:"fda_data,omitempty"`
	IAAProgress  string          `json:"iaa_progress,omitempty"`
	IAAAnalysis  string          `json:"iaa_analysis,omitempty"`
	Verification *Verification   `json:"verification,omitempty"`
	EBAProgress  string          `json:"eba_progress,omitempty"`
	EBAPost      string          `json:"eba_post,omitempty"`
	Timestamp    string          `json:"timestamp"`
	Error        string          `json:"error,omitempty"`
}

// Signal decodes FDAData as an FDASignal. It returns false when no payload is
// attached or the payload has a different shape.
func (s WorkflowViewState) Signal() (FDASignal, bool) {
	if len(s.FDAData) == 0 {
		return FDASignal{}, false
	}
	var sig FDASignal
	if err := json.Unmarshal(s.FDAData, &sig); err != nil {
		return FDASignal{}, false
	}
	return sig, true
}
