package insights

import (
	"math"
	"sort"
	"time"

	"github.com/pitabwire/sentinel/model"
)

const (
	topConcernLimit = 5
	trendDays       = 7
)

// Concern is a signal type ranked by how often it was detected.
type Concern struct {
	Concern string `json:"concern"`
	Count   int    `json:"count"`
	// Risk is the highest risk level observed for the signal type.
	Risk string `json:"risk"`
}

// RiskDistribution counts workflows per risk level.
type RiskDistribution struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// TrendPoint is the number of signals received on one day.
type TrendPoint struct {
	Date    string `json:"date"`
	Signals int    `json:"signals"`
}

// ExecutiveSummary is the high-level overview of signals and responses.
type ExecutiveSummary struct {
	SignalsDetected       int              `json:"signals_detected"`
	SignalsApproved       int              `json:"signals_approved"`
	SignalsEscalated      int              `json:"signals_escalated"`
	SignalsPending        int              `json:"signals_pending"`
	AvgResponseTimeHours  float64          `json:"avg_response_time_hours"`
	TopConcerns           []Concern        `json:"top_concerns"`
	TrendData             []TrendPoint     `json:"trend_data"`
	RiskDistribution      RiskDistribution `json:"risk_distribution"`
	ApprovalRatePercent   int              `json:"approval_rate_percent"`
	EscalationRatePercent int              `json:"escalation_rate_percent"`
}

// Summarize builds the executive summary. The trend covers the seven days
// ending on now's UTC date.
func Summarize(workflows []model.AgentWorkflow, now time.Time) ExecutiveSummary {
	s := ExecutiveSummary{
		SignalsDetected: len(workflows),
		TopConcerns:     TopConcerns(workflows, topConcernLimit),
		TrendData:       Trend(workflows, now, trendDays),
	}

	var responseTotal time.Duration
	responded := 0
	for _, w := range workflows {
		switch {
		case w.Status.IsApproved():
			s.SignalsApproved++
		case w.Status.IsEscalated():
			s.SignalsEscalated++
		case w.Status == model.StatusAwaitingApproval:
			s.SignalsPending++
		}

		switch w.RiskLevel {
		case model.RiskCritical:
			s.RiskDistribution.Critical++
		case model.RiskHigh:
			s.RiskDistribution.High++
		case model.RiskMedium:
			s.RiskDistribution.Medium++
		case model.RiskLow:
			s.RiskDistribution.Low++
		}

		if w.CreatedAt != nil && w.ApprovedAt != nil && w.ApprovedAt.After(w.CreatedAt.Time) {
			responseTotal += w.ApprovedAt.Sub(w.CreatedAt.Time)
			responded++
		}
	}

	if responded > 0 {
		hours := responseTotal.Hours() / float64(responded)
		s.AvgResponseTimeHours = math.Round(hours*10) / 10
	}
	s.ApprovalRatePercent = percentOf(s.SignalsApproved, s.SignalsDetected)
	s.EscalationRatePercent = percentOf(s.SignalsEscalated, s.SignalsDetected)
	return s
}

// TopConcerns ranks signal types by detection count, most frequent first,
// ties broken by name. Workflows without a signal type are ignored.
func TopConcerns(workflows []model.AgentWorkflow, limit int) []Concern {
	byType := make(map[string]*Concern)
	for _, w := range workflows {
		if w.SignalType == "" {
			continue
		}
		risk := w.RiskLevel
		if risk == "" {
			risk = model.RiskMedium
		}
		c, ok := byType[w.SignalType]
		if !ok {
			byType[w.SignalType] = &Concern{Concern: w.SignalType, Count: 1, Risk: risk}
			continue
		}
		c.Count++
		c.Risk = HigherRisk(c.Risk, risk)
	}

	out := make([]Concern, 0, len(byType))
	for _, c := range byType {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Concern < out[j].Concern
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Trend counts workflows created on each of the days ending on now's UTC
// date, oldest first. Days without signals are reported as zero.
func Trend(workflows []model.AgentWorkflow, now time.Time, days int) []TrendPoint {
	if days <= 0 {
		return nil
	}
	end := now.UTC().Truncate(24 * time.Hour)
	index := make(map[string]int, days)
	out := make([]TrendPoint, days)
	for i := range days {
		d := end.AddDate(0, 0, i-days+1).Format(time.DateOnly)
		out[i] = TrendPoint{Date: d}
		index[d] = i
	}
	for _, w := range workflows {
		if w.CreatedAt == nil {
			continue
		}
		if i, ok := index[w.CreatedAt.UTC().Format(time.DateOnly)]; ok {
			out[i].Signals++
		}
	}
	return out
}

func percentOf(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) * 100 / float64(total)))
}
