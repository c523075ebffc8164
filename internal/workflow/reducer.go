// Package workflow folds the live event stream into per-workflow view state.
//
// The reducer functions are pure: they never mutate their inputs, and replaying
// the same event sequence always yields the same states. Board wraps them with
// the incremental, concurrency-safe fold the console serves from.
package workflow

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pitabwire/sentinel/internal/markdown"
	"github.com/pitabwire/sentinel/model"
)

const unknownError = "Unknown error"

// payload is a lazily decoded event data object. Fields are decoded one at a
// time so a malformed field never hides a well-formed one.
type payload map[string]json.RawMessage

func decodePayload(raw json.RawMessage) payload {
	if len(raw) == 0 {
		return nil
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return p
}

// raw returns the field as JSON, or nil when absent or null.
func (p payload) raw(key string) json.RawMessage {
	v, ok := p[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil
	}
	return v
}

// str returns the field as a string, or "" when absent or not a string.
func (p payload) str(key string) string {
	v := p.raw(key)
	if v == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

// chunk returns data.data.chunk.
func (p payload) chunk() string {
	return decodePayload(p.raw("data")).str("chunk")
}

func (p payload) verification() *model.Verification {
	var v model.Verification
	if raw := p.raw("matched_transactions"); raw != nil {
		_ = json.Unmarshal(raw, &v.MatchedTransactions)
	}
	if raw := p.raw("matched_reviews"); raw != nil {
		_ = json.Unmarshal(raw, &v.MatchedReviews)
	}
	if raw := p.raw("confidence_score"); raw != nil {
		var score float64
		if err := json.Unmarshal(raw, &score); err == nil {
			v.ConfidenceScore = &score
		}
	}
	v.SanitizedSummary = p.raw("sanitized_summary")
	if v.Empty() {
		return nil
	}
	return &v
}

// Reduce applies one event to the state of its workflow. exists reports
// whether prev is a real entry; when it is false a fresh entry in status fda
// is used as the base. The returned bool is false when the event does not
// change anything (unknown type, missing workflow id, empty progress chunk),
// in which case the caller must not create or bump the entry.
func Reduce(prev model.WorkflowViewState, exists bool, ev model.WorkflowEvent) (model.WorkflowViewState, bool) {
	if ev.WorkflowID == "" {
		return prev, false
	}

	base := prev
	if !exists {
		base = model.WorkflowViewState{
			WorkflowID: ev.WorkflowID,
			Status:     model.ViewFDA,
			Timestamp:  ev.Timestamp,
		}
	}

	data := decodePayload(ev.Data)
	next := base

	switch ev.Type {
	case model.EventFDAReceived:
		next.FDAData = ev.Data
		next.Status = model.ViewFDA

	case model.EventIAAStarted:
		next.Status = model.ViewIAA

	case model.EventIAAProgress:
		chunk := data.chunk()
		if chunk == "" {
			return prev, false
		}
		next.IAAProgress = base.IAAProgress + chunk

	case model.EventIAACompleted:
		analysis := data.str("analysis")
		if analysis == "" {
			analysis = base.IAAProgress
		}
		next.IAAAnalysis = analysis
		next.IAAProgress = ""
		if v := data.verification(); v != nil {
			next.Verification = v
		}

	case model.EventEBAStarted:
		next.Status = model.ViewEBA

	case model.EventEBAProgress:
		chunk := data.chunk()
		if chunk == "" {
			return prev, false
		}
		next.EBAProgress = base.EBAProgress + chunk

	case model.EventEBACompleted:
		post := data.str("original_post")
		if post == "" {
			post = base.EBAProgress
		}
		next.EBAPost = markdown.StripFences(post)
		next.EBAProgress = ""
		next.Status = model.ViewCompleted

	case model.EventWorkflowError:
		msg := data.str("error")
		if msg == "" {
			msg = ev.Error
		}
		if msg == "" {
			msg = unknownError
		}
		next.Error = msg
		next.Status = model.ViewError

	default:
		return prev, false
	}

	next.Timestamp = ev.Timestamp
	return next, true
}

// Apply folds ev into states in place and reports whether states changed.
func Apply(states map[string]model.WorkflowViewState, ev model.WorkflowEvent) bool {
	prev, exists := states[ev.WorkflowID]
	next, changed := Reduce(prev, exists, ev)
	if !changed {
		return false
	}
	states[ev.WorkflowID] = next
	return true
}

// Replay folds events, in order, over an empty map.
func Replay(events []model.WorkflowEvent) map[string]model.WorkflowViewState {
	states := make(map[string]model.WorkflowViewState)
	for _, ev := range events {
		Apply(states, ev)
	}
	return states
}

// Sorted returns the states ordered by last event time, newest first. Ties
// and unparseable timestamps fall back to workflow id order.
func Sorted(states map[string]model.WorkflowViewState) []model.WorkflowViewState {
	out := make([]model.WorkflowViewState, 0, len(states))
	for _, s := range states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, _ := model.ParseTimestamp(out[i].Timestamp)
		tj, _ := model.ParseTimestamp(out[j].Timestamp)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].WorkflowID < out[j].WorkflowID
	})
	return out
}
