package model

// Transaction is a bank transaction record managed through the database
// endpoints.
type Transaction struct {
	ID                 int        `json:"id"`
	TransactionID      string     `json:"transaction_id"`
	CustomerID         string     `json:"customer_id"`
	CustomerName       string     `json:"customer_name"`
	Amount             float64    `json:"amount"`
	Currency           string     `json:"currency"`
	TransactionType    string     `json:"transaction_type"`
	Status             string     `json:"status"`
	Description        string     `json:"description,omitempty"`
	SourceAccount      string     `json:"source_account"`
	DestinationAccount string     `json:"destination_account,omitempty"`
	FlaggedReason      string     `json:"flagged_reason,omitempty"`
	Timestamp          *Timestamp `json:"timestamp,omitempty"`
	CreatedAt          *Timestamp `json:"created_at,omitempty"`
	UpdatedAt          *Timestamp `json:"updated_at,omitempty"`
}

// Transaction statuses.
const (
	TransactionCompleted = "completed"
	TransactionInProcess = "inprocess"
	TransactionPending   = "pending"
	TransactionFailed    = "failed"
	TransactionFlagged   = "flagged"
)

// ValidTransactionStatus reports whether s is a known transaction status.
func ValidTransactionStatus(s string) bool {
	switch s {
	case TransactionCompleted, TransactionInProcess, TransactionPending, TransactionFailed, TransactionFlagged:
		return true
	}
	return false
}

// TransactionPatch is the editable subset of a Transaction.
type TransactionPatch struct {
	Status        *string `json:"status,omitempty"`
	FlaggedReason *string `json:"flagged_reason,omitempty"`
	Description   *string `json:"description,omitempty"`
}

// CustomerReview is a customer review record.
type CustomerReview struct {
	ID           int        `json:"id"`
	ReviewID     string     `json:"review_id"`
	CustomerID   string     `json:"customer_id"`
	CustomerName string     `json:"customer_name"`
	Rating       int        `json:"rating"`
	Sentiment    string     `json:"sentiment"`
	Category     string     `json:"category"`
	ReviewText   string     `json:"review_text"`
	Source       string     `json:"source"`
	Timestamp    *Timestamp `json:"timestamp,omitempty"`
	CreatedAt    *Timestamp `json:"created_at,omitempty"`
}

// Review sentiments.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// ValidReviewSentiment reports whether s is a known review sentiment.
func ValidReviewSentiment(s string) bool {
	return s == SentimentPositive || s == SentimentNegative || s == SentimentNeutral
}

// ReviewPatch is the editable subset of a CustomerReview.
type ReviewPatch struct {
	Rating     *int    `json:"rating,omitempty"`
	Sentiment  *string `json:"sentiment,omitempty"`
	Category   *string `json:"category,omitempty"`
	ReviewText *string `json:"review_text,omitempty"`
}

// Sentiment is a stored FDA sentiment signal.
type Sentiment struct {
	ID                  int        `json:"id"`
	SignalType          string     `json:"signal_type"`
	Confidence          float64    `json:"confidence"`
	Drivers             []string   `json:"drivers"`
	UncertaintyNotes    string     `json:"uncertainty_notes,omitempty"`
	RecommendEscalation bool       `json:"recommend_escalation"`
	Timestamp           *Timestamp `json:"timestamp,omitempty"`
	CreatedAt           *Timestamp `json:"created_at,omitempty"`
}

// Page selects a window of a collection.
type Page struct {
	Skip  int
	Limit int
}

// TransactionFilter selects transactions.
type TransactionFilter struct {
	Page
	Status string
}

// ReviewFilter selects customer reviews.
type ReviewFilter struct {
	Page
	Sentiment string
}
