package workflow

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

// fakeSource is an in-memory EventSource.
type fakeSource struct {
	mu        sync.Mutex
	events    []model.WorkflowEvent
	subs      []chan struct{}
	connected bool
}

func (f *fakeSource) push(evs ...model.WorkflowEvent) {
	f.mu.Lock()
	f.events = append(f.events, evs...)
	subs := f.subs
	f.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (f *fakeSource) Since(cursor int) ([]model.WorkflowEvent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cursor >= len(f.events) {
		return nil, len(f.events)
	}
	out := make([]model.WorkflowEvent, len(f.events)-cursor)
	copy(out, f.events[cursor:])
	return out, len(f.events)
}

func (f *fakeSource) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeSource) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func TestBoard_SyncFoldsIncrementally(t *testing.T) {
	src := &fakeSource{connected: true}
	b := NewBoard(src, nil, nil)

	src.push(
		testEvent(model.EventFDAReceived, "wf-1", "2025-01-30T10:00:00", `{}`),
		testEvent(model.EventIAAStarted, "wf-1", "2025-01-30T10:00:01", ""),
	)
	if n := b.Sync(); n != 2 {
		t.Errorf("Sync() = %d, want 2", n)
	}
	if n := b.Sync(); n != 0 {
		t.Errorf("second Sync() = %d, want 0", n)
	}

	src.push(testEvent(model.EventFDAReceived, "wf-2", "2025-01-30T10:00:05", `{}`))
	b.Sync()

	snap := b.Snapshot()
	if !snap.Connected {
		t.Error("Connected = false")
	}
	if len(snap.Workflows) != 2 {
		t.Fatalf("len(Workflows) = %d, want 2", len(snap.Workflows))
	}
	if snap.Workflows[0].WorkflowID != "wf-2" {
		t.Errorf("Workflows[0] = %q, want newest wf-2", snap.Workflows[0].WorkflowID)
	}

	s, ok := b.Get("wf-1")
	if !ok || s.Status != model.ViewIAA {
		t.Errorf("Get(wf-1) = %+v, %v", s, ok)
	}
	if _, ok := b.Get("missing"); ok {
		t.Error("Get(missing) should be false")
	}
}

func TestBoard_matchesReplay(t *testing.T) {
	events := []model.WorkflowEvent{
		testEvent(model.EventFDAReceived, "wf-1", "t1", `{}`),
		progress(model.EventEBAProgress, "wf-1", "t2", "a"),
		testEvent("heartbeat", "wf-3", "t3", ""),
		progress(model.EventEBAProgress, "wf-1", "t4", "b"),
		testEvent(model.EventEBACompleted, "wf-1", "t5", ""),
	}
	src := &fakeSource{}
	b := NewBoard(src, nil, nil)
	for _, ev := range events {
		src.push(ev)
		b.Sync()
	}

	want := Replay(events)
	if b.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", b.Len(), len(want))
	}
	got, _ := b.Get("wf-1")
	if !reflect.DeepEqual(got, want["wf-1"]) {
		t.Errorf("board = %+v, replay = %+v", got, want["wf-1"])
	}
}

func TestBoard_OnEventSeesEveryEvent(t *testing.T) {
	src := &fakeSource{}
	b := NewBoard(src, nil, nil)

	var seen []model.EventType
	b.OnEvent(func(ev model.WorkflowEvent) { seen = append(seen, ev.Type) })

	src.push(
		testEvent(model.EventFDAReceived, "wf-1", "t1", `{}`),
		testEvent(model.EventPostApproved, "wf-1", "t2", `{}`),
	)
	b.Sync()

	if len(seen) != 2 || seen[1] != model.EventPostApproved {
		t.Errorf("hooks saw %v, want both events", seen)
	}
}

func TestBoard_RunFoldsOnSignal(t *testing.T) {
	src := &fakeSource{connected: true}
	b := NewBoard(src, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.subs) == 1
	}, time.Second, 5*time.Millisecond)

	src.push(testEvent(model.EventFDAReceived, "wf-1", "t1", `{}`))
	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBoard_recordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.InitMetrics(reg)
	src := &fakeSource{}
	b := NewBoard(src, nil, m)

	src.push(
		testEvent(model.EventFDAReceived, "wf-1", "t1", `{}`),
		testEvent("heartbeat", "wf-1", "t2", ""),
	)
	b.Sync()

	if v := testutil.ToFloat64(m.BoardEventsTotal.WithLabelValues("fda_received", "true")); v != 1 {
		t.Errorf("applied fda_received = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.BoardEventsTotal.WithLabelValues("heartbeat", "false")); v != 1 {
		t.Errorf("ignored heartbeat = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.BoardWorkflows); v != 1 {
		t.Errorf("board workflows = %v, want 1", v)
	}
}
