package workflow

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/pitabwire/sentinel/model"
)

func testEvent(typ model.EventType, id, ts, data string) model.WorkflowEvent {
	ev := model.WorkflowEvent{Type: typ, WorkflowID: id, Timestamp: ts}
	if data != "" {
		ev.Data = json.RawMessage(data)
	}
	return ev
}

func progress(typ model.EventType, id, ts, chunk string) model.WorkflowEvent {
	b, _ := json.Marshal(map[string]any{"data": map[string]string{"chunk": chunk}})
	return testEvent(typ, id, ts, string(b))
}

// --- Reduce ---

func TestReduce_iaaChunksThenFinalAnalysis(t *testing.T) {
	events := []model.WorkflowEvent{
		testEvent(model.EventFDAReceived, "wf-1", "2025-01-30T10:00:00", `{"signal_type":"fraud"}`),
		testEvent(model.EventIAAStarted, "wf-1", "2025-01-30T10:00:01", ""),
		progress(model.EventIAAProgress, "wf-1", "2025-01-30T10:00:02", "A"),
		progress(model.EventIAAProgress, "wf-1", "2025-01-30T10:00:03", "B"),
		testEvent(model.EventIAACompleted, "wf-1", "2025-01-30T10:00:04", `{"analysis":"FULL"}`),
	}

	states := Replay(events[:4])
	s := states["wf-1"]
	if s.IAAProgress != "AB" {
		t.Errorf("IAAProgress after 4 events = %q, want AB", s.IAAProgress)
	}
	if s.Status != model.ViewIAA {
		t.Errorf("Status = %q, want iaa", s.Status)
	}

	Apply(states, events[4])
	s = states["wf-1"]
	if s.IAAAnalysis != "FULL" {
		t.Errorf("IAAAnalysis = %q, want FULL", s.IAAAnalysis)
	}
	if s.IAAProgress != "" {
		t.Errorf("IAAProgress = %q, want cleared", s.IAAProgress)
	}
	if s.Status != model.ViewIAA {
		t.Errorf("Status = %q, iaa_completed should not change status", s.Status)
	}
	if s.Timestamp != "2025-01-30T10:00:04" {
		t.Errorf("Timestamp = %q", s.Timestamp)
	}
}

func TestReduce_iaaCompletedFallsBackToBuffer(t *testing.T) {
	states := Replay([]model.WorkflowEvent{
		progress(model.EventIAAProgress, "wf-1", "t1", "partial "),
		progress(model.EventIAAProgress, "wf-1", "t2", "text"),
		testEvent(model.EventIAACompleted, "wf-1", "t3", `{}`),
	})
	if got := states["wf-1"].IAAAnalysis; got != "partial text" {
		t.Errorf("IAAAnalysis = %q, want buffered text", got)
	}
}

func TestReduce_iaaCompletedAttachesVerification(t *testing.T) {
	states := Replay([]model.WorkflowEvent{
		testEvent(model.EventIAACompleted, "wf-1", "t1", `{
			"analysis": "ok",
			"matched_transactions": [{"transaction_id": "TXN-1"}],
			"matched_reviews": [],
			"confidence_score": 87.5,
			"sanitized_summary": {"transaction_count": 1, "verified": true}
		}`),
	})
	v := states["wf-1"].Verification
	if v == nil {
		t.Fatal("Verification = nil")
	}
	if len(v.MatchedTransactions) != 1 {
		t.Errorf("MatchedTransactions = %d, want 1", len(v.MatchedTransactions))
	}
	if v.ConfidenceScore == nil || *v.ConfidenceScore != 87.5 {
		t.Errorf("ConfidenceScore = %v", v.ConfidenceScore)
	}
	if len(v.SanitizedSummary) == 0 {
		t.Error("SanitizedSummary not attached")
	}
}

func TestReduce_iaaCompletedWithoutVerification(t *testing.T) {
	states := Replay([]model.WorkflowEvent{
		testEvent(model.EventIAACompleted, "wf-1", "t1", `{"analysis":"ok","sanitized_summary":null}`),
	})
	if states["wf-1"].Verification != nil {
		t.Errorf("Verification = %+v, want nil", states["wf-1"].Verification)
	}
}

func TestReduce_ebaCompletedStripsFences(t *testing.T) {
	states := Replay([]model.WorkflowEvent{
		testEvent(model.EventEBAStarted, "wf-1", "t1", ""),
		progress(model.EventEBAProgress, "wf-1", "t2", "draft"),
		testEvent(model.EventEBACompleted, "wf-1", "t3", "{\"original_post\":\"```markdown\\nStay safe\\n```\"}"),
	})
	s := states["wf-1"]
	if s.EBAPost != "Stay safe" {
		t.Errorf("EBAPost = %q, want Stay safe", s.EBAPost)
	}
	if s.EBAProgress != "" {
		t.Errorf("EBAProgress = %q, want cleared", s.EBAProgress)
	}
	if s.Status != model.ViewCompleted {
		t.Errorf("Status = %q, want completed", s.Status)
	}
}

func TestReduce_ebaCompletedFallsBackToBuffer(t *testing.T) {
	states := Replay([]model.WorkflowEvent{
		progress(model.EventEBAProgress, "wf-1", "t1", "```markdown\nBuffered"),
		progress(model.EventEBAProgress, "wf-1", "t2", "\n```"),
		testEvent(model.EventEBACompleted, "wf-1", "t3", ""),
	})
	if got := states["wf-1"].EBAPost; got != "Buffered" {
		t.Errorf("EBAPost = %q, want Buffered", got)
	}
}

func TestReduce_errorFromAnyStatus(t *testing.T) {
	prefixes := map[string][]model.WorkflowEvent{
		"fda":       {testEvent(model.EventFDAReceived, "wf-1", "t1", `{}`)},
		"iaa":       {testEvent(model.EventIAAStarted, "wf-1", "t1", "")},
		"eba":       {testEvent(model.EventEBAStarted, "wf-1", "t1", "")},
		"completed": {testEvent(model.EventEBACompleted, "wf-1", "t1", `{"original_post":"x"}`)},
		"none":      nil,
	}
	for name, prefix := range prefixes {
		t.Run(name, func(t *testing.T) {
			events := append(prefix, testEvent(model.EventWorkflowError, "wf-1", "t9", `{"error":"LLM timeout"}`))
			s := Replay(events)["wf-1"]
			if s.Status != model.ViewError {
				t.Errorf("Status = %q, want error", s.Status)
			}
			if s.Error != "LLM timeout" {
				t.Errorf("Error = %q, want LLM timeout", s.Error)
			}
		})
	}
}

func TestReduce_errorMessageFallbacks(t *testing.T) {
	topLevel := testEvent(model.EventWorkflowError, "wf-1", "t1", "")
	topLevel.Error = "IAA agent crashed"
	if got := Replay([]model.WorkflowEvent{topLevel})["wf-1"].Error; got != "IAA agent crashed" {
		t.Errorf("Error = %q, want top-level error", got)
	}

	bare := testEvent(model.EventWorkflowError, "wf-2", "t1", `{"error":""}`)
	if got := Replay([]model.WorkflowEvent{bare})["wf-2"].Error; got != "Unknown error" {
		t.Errorf("Error = %q, want Unknown error", got)
	}
}

func TestReduce_unknownTypeLeavesStateUntouched(t *testing.T) {
	states := Replay([]model.WorkflowEvent{
		testEvent(model.EventFDAReceived, "wf-1", "t1", `{"signal_type":"fraud"}`),
	})
	before := states["wf-1"]

	changed := Apply(states, testEvent("heartbeat", "wf-1", "t9", `{"x":1}`))
	if changed {
		t.Error("Apply() = true for unknown type")
	}
	if !reflect.DeepEqual(states["wf-1"], before) {
		t.Errorf("state changed: %+v, want %+v", states["wf-1"], before)
	}

	// Backend decision events are not folded either.
	if Apply(states, testEvent(model.EventPostApproved, "wf-1", "t10", `{}`)) {
		t.Error("post_approved should not be folded")
	}
}

func TestReduce_unknownTypeCreatesNoEntry(t *testing.T) {
	states := Replay([]model.WorkflowEvent{testEvent("heartbeat", "wf-1", "t1", "")})
	if len(states) != 0 {
		t.Errorf("len(states) = %d, want 0", len(states))
	}
}

func TestReduce_missingChunkIsNoop(t *testing.T) {
	base := Replay([]model.WorkflowEvent{testEvent(model.EventIAAStarted, "wf-1", "t1", "")})
	before := base["wf-1"]

	for _, data := range []string{"", `{}`, `{"data":{}}`, `{"data":{"chunk":""}}`, `{"data":{"chunk":42}}`, `"text"`, `{"data":"chunk"}`} {
		if Apply(base, testEvent(model.EventIAAProgress, "wf-1", "t9", data)) {
			t.Errorf("Apply(%s) = true, want no-op", data)
		}
		if Apply(base, testEvent(model.EventEBAProgress, "wf-1", "t9", data)) {
			t.Errorf("Apply(eba %s) = true, want no-op", data)
		}
	}
	if !reflect.DeepEqual(base["wf-1"], before) {
		t.Errorf("state changed by empty chunks: %+v", base["wf-1"])
	}

	fresh := Replay([]model.WorkflowEvent{testEvent(model.EventIAAProgress, "wf-2", "t1", `{}`)})
	if len(fresh) != 0 {
		t.Error("empty chunk should not create an entry")
	}
}

func TestReduce_newEntryStartsAtFDA(t *testing.T) {
	s := Replay([]model.WorkflowEvent{progress(model.EventEBAProgress, "wf-1", "t1", "x")})["wf-1"]
	if s.WorkflowID != "wf-1" || s.Status != model.ViewFDA || s.Timestamp != "t1" {
		t.Errorf("new entry = %+v", s)
	}
}

func TestReduce_ignoresMissingWorkflowID(t *testing.T) {
	states := Replay([]model.WorkflowEvent{testEvent(model.EventFDAReceived, "", "t1", `{}`)})
	if len(states) != 0 {
		t.Errorf("len(states) = %d, want 0", len(states))
	}
}

func TestReduce_doesNotMutatePrevious(t *testing.T) {
	prev := model.WorkflowViewState{WorkflowID: "wf-1", Status: model.ViewIAA, IAAProgress: "A", Timestamp: "t1"}
	snapshot := prev
	next, _ := Reduce(prev, true, progress(model.EventIAAProgress, "wf-1", "t2", "B"))
	if !reflect.DeepEqual(prev, snapshot) {
		t.Error("Reduce mutated its input")
	}
	if next.IAAProgress != "AB" {
		t.Errorf("IAAProgress = %q, want AB", next.IAAProgress)
	}
}

func TestReplay_deterministic(t *testing.T) {
	events := []model.WorkflowEvent{
		testEvent(model.EventFDAReceived, "wf-1", "2025-01-30T10:00:00", `{"signal_type":"fraud"}`),
		testEvent(model.EventFDAReceived, "wf-2", "2025-01-30T10:00:01", `{"signal_type":"outage"}`),
		testEvent(model.EventIAAStarted, "wf-1", "2025-01-30T10:00:02", ""),
		progress(model.EventIAAProgress, "wf-1", "2025-01-30T10:00:03", "x"),
		testEvent(model.EventWorkflowError, "wf-2", "2025-01-30T10:00:04", `{"error":"boom"}`),
		testEvent(model.EventIAACompleted, "wf-1", "2025-01-30T10:00:05", `{"analysis":"done"}`),
	}
	first := Replay(events)
	for i := 0; i < 10; i++ {
		if again := Replay(events); !reflect.DeepEqual(first, again) {
			t.Fatalf("replay %d differs: %+v vs %+v", i, again, first)
		}
	}
}

// --- Sorted ---

func TestSorted_newestFirst(t *testing.T) {
	states := map[string]model.WorkflowViewState{
		"a": {WorkflowID: "a", Timestamp: "2025-01-30T10:00:01"},
		"b": {WorkflowID: "b", Timestamp: "2025-01-30T10:00:03"},
		"c": {WorkflowID: "c", Timestamp: "2025-01-30T10:00:02"},
	}
	got := Sorted(states)
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if got[i].WorkflowID != id {
			t.Errorf("Sorted()[%d] = %q, want %q", i, got[i].WorkflowID, id)
		}
	}
}

func TestSorted_mixedZonesAndTies(t *testing.T) {
	states := map[string]model.WorkflowViewState{
		"z": {WorkflowID: "z", Timestamp: "2025-01-30T10:00:00Z"},
		"y": {WorkflowID: "y", Timestamp: "2025-01-30T12:00:00+02:00"},
		"x": {WorkflowID: "x", Timestamp: "2025-01-30T09:00:00.5"},
		"w": {WorkflowID: "w", Timestamp: "not a time"},
	}
	got := Sorted(states)
	want := []string{"y", "z", "x", "w"}
	for i, id := range want {
		if got[i].WorkflowID != id {
			t.Errorf("Sorted()[%d] = %q, want %q", i, got[i].WorkflowID, id)
		}
	}
}

func TestSorted_empty(t *testing.T) {
	if got := Sorted(nil); len(got) != 0 {
		t.Errorf("Sorted(nil) = %v", got)
	}
}
