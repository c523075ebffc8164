package insights

import (
	"fmt"

	"github.com/pitabwire/sentinel/model"
)

var riskRank = map[string]int{
	model.RiskLow:      1,
	model.RiskMedium:   2,
	model.RiskHigh:     3,
	model.RiskCritical: 4,
}

// RiskRank orders risk levels from LOW (1) to CRITICAL (4). Unknown levels
// rank 0.
func RiskRank(level string) int {
	return riskRank[level]
}

// HigherRisk returns the higher of two risk levels.
func HigherRisk(a, b string) string {
	if RiskRank(b) > RiskRank(a) {
		return b
	}
	return a
}

// ConfidencePercent formats a 0..1 signal confidence as a percentage with
// one decimal, e.g. 0.873 → "87.3%".
func ConfidencePercent(confidence float64) string {
	return fmt.Sprintf("%.1f%%", confidence*100)
}

// DefaultConfidenceScore is shown for workflows the backend has not scored.
const DefaultConfidenceScore = 75

// ConfidenceBand classifies a 0..100 workflow confidence score.
type ConfidenceBand string

// Confidence bands.
const (
	ConfidenceHigh   ConfidenceBand = "high"
	ConfidenceMedium ConfidenceBand = "medium"
	ConfidenceLow    ConfidenceBand = "low"
)

// BandOf returns the band of a 0..100 score; nil scores use
// DefaultConfidenceScore.
func BandOf(score *float64) ConfidenceBand {
	s := float64(DefaultConfidenceScore)
	if score != nil {
		s = *score
	}
	switch {
	case s >= 80:
		return ConfidenceHigh
	case s >= 60:
		return ConfidenceMedium
	}
	return ConfidenceLow
}
