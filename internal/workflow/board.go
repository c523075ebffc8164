package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

// EventSource is the ordered, append-only event log the board folds.
// It is satisfied by *stream.Subscriber.
type EventSource interface {
	// Since returns the events after cursor and the cursor to use next.
	Since(cursor int) ([]model.WorkflowEvent, int)
	// Subscribe returns a channel signalled when new events arrive and a
	// function that unregisters it.
	Subscribe() (<-chan struct{}, func())
	IsConnected() bool
}

// Snapshot is the board as served to the console.
type Snapshot struct {
	Connected bool                      `json:"connected"`
	Workflows []model.WorkflowViewState `json:"workflows"`
}

// Board is the live dashboard: the fold of every event received so far.
type Board struct {
	src     EventSource
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	states map[string]model.WorkflowViewState
	cursor int
	hooks  []func(model.WorkflowEvent)
}

// NewBoard creates a board over src. logger and metrics may be nil.
func NewBoard(src EventSource, logger *zap.Logger, metrics *observability.Metrics) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		src:     src,
		logger:  logger,
		metrics: metrics,
		states:  make(map[string]model.WorkflowViewState),
	}
}

// OnEvent registers fn to be called, outside the board lock, with every event
// the board consumes, folded or not. Register hooks before Run.
func (b *Board) OnEvent(fn func(model.WorkflowEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, fn)
}

// Run folds new events whenever the source signals, until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	ch, unsubscribe := b.src.Subscribe()
	defer unsubscribe()

	b.Sync()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			b.Sync()
		}
	}
}

// Sync folds every event received since the last call and returns how many
// events were consumed.
func (b *Board) Sync() int {
	b.mu.Lock()
	events, next := b.src.Since(b.cursor)
	b.cursor = next
	for _, ev := range events {
		applied := Apply(b.states, ev)
		b.metrics.RecordBoardEvent(string(ev.Type), applied)
		if !applied {
			b.logger.Debug("event not folded",
				zap.String("type", string(ev.Type)),
				zap.String("workflow_id", ev.WorkflowID),
			)
		}
	}
	b.metrics.SetBoardWorkflows(len(b.states))
	hooks := b.hooks
	b.mu.Unlock()

	for _, ev := range events {
		for _, fn := range hooks {
			fn(ev)
		}
	}
	return len(events)
}

// Snapshot returns the connection flag and all workflows, newest first.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	workflows := Sorted(b.states)
	b.mu.RUnlock()
	return Snapshot{
		Connected: b.src.IsConnected(),
		Workflows: workflows,
	}
}

// Get returns the view state of one workflow.
func (b *Board) Get(workflowID string) (model.WorkflowViewState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.states[workflowID]
	return s, ok
}

// Len returns the number of workflows on the board.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.states)
}
