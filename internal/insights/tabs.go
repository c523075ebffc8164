// Package insights derives the console's read-only views from the bank's
// workflow records: moderation tabs, the audit trail and the executive
// summary. Every function is pure and safe for concurrent use.
package insights

import (
	"github.com/pitabwire/sentinel/model"
)

// Tab is a moderation queue of the PR posts page.
type Tab string

// Moderation tabs.
const (
	TabAwaiting  Tab = "awaiting"
	TabApproved  Tab = "approved"
	TabDiscarded Tab = "discarded"
	TabEscalated Tab = "escalated"
)

// Tabs lists every tab in display order.
var Tabs = []Tab{TabAwaiting, TabApproved, TabDiscarded, TabEscalated}

// ParseTab returns the tab named s.
func ParseTab(s string) (Tab, bool) {
	for _, t := range Tabs {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Contains reports whether a workflow in status s belongs to the tab.
func (t Tab) Contains(s model.WorkflowStatus) bool {
	switch t {
	case TabAwaiting:
		return s == model.StatusAwaitingApproval
	case TabApproved:
		return s.IsApproved()
	case TabDiscarded:
		return s == model.StatusDiscarded
	case TabEscalated:
		return s.IsEscalated()
	}
	return false
}

// TabCounts is the number of workflows in each tab.
type TabCounts struct {
	Awaiting  int `json:"awaiting"`
	Approved  int `json:"approved"`
	Discarded int `json:"discarded"`
	Escalated int `json:"escalated"`
}

// CountTabs counts workflows per tab. Workflows still in the pipeline belong
// to no tab.
func CountTabs(workflows []model.AgentWorkflow) TabCounts {
	var c TabCounts
	for _, w := range workflows {
		switch {
		case TabAwaiting.Contains(w.Status):
			c.Awaiting++
		case TabApproved.Contains(w.Status):
			c.Approved++
		case TabDiscarded.Contains(w.Status):
			c.Discarded++
		case TabEscalated.Contains(w.Status):
			c.Escalated++
		}
	}
	return c
}

// FilterTab returns the workflows of one tab, in input order.
func FilterTab(workflows []model.AgentWorkflow, tab Tab) []model.AgentWorkflow {
	out := make([]model.AgentWorkflow, 0)
	for _, w := range workflows {
		if tab.Contains(w.Status) {
			out = append(out, w)
		}
	}
	return out
}
