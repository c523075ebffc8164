package approval

import (
	"context"
	"sort"
	"time"
)

// Mode selects which post an approval commits.
type Mode string

// Approval modes.
const (
	ModeOriginal Mode = "original"
	ModeEdited   Mode = "edited"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeOriginal || m == ModeEdited
}

// Pending describes one countdown that has not yet committed.
type Pending struct {
	WorkflowID string    `json:"workflow_id"`
	Operator   string    `json:"operator"`
	Mode       Mode      `json:"mode"`
	Remaining  int       `json:"remaining"`
	StartedAt  time.Time `json:"started_at"`
}

// countdown is one running approval timer. remaining is guarded by the
// controller mutex. A committing entry has no timer; it marks an immediate
// approval whose backend call is in flight.
type countdown struct {
	workflowID string
	operator   string
	mode       Mode
	editedPost *string
	remaining  int
	startedAt  time.Time
	committing bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (cd *countdown) pending() Pending {
	return Pending{
		WorkflowID: cd.workflowID,
		Operator:   cd.operator,
		Mode:       cd.mode,
		Remaining:  cd.remaining,
		StartedAt:  cd.startedAt,
	}
}

// registry is the explicit set of running countdowns keyed by workflow id.
// It is not safe for concurrent use; the controller serialises access.
type registry struct {
	entries map[string]*countdown
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*countdown)}
}

// add registers cd and reports false when the workflow already has one.
func (r *registry) add(cd *countdown) bool {
	if _, ok := r.entries[cd.workflowID]; ok {
		return false
	}
	r.entries[cd.workflowID] = cd
	return true
}

func (r *registry) get(workflowID string) (*countdown, bool) {
	cd, ok := r.entries[workflowID]
	return cd, ok
}

func (r *registry) remove(workflowID string) (*countdown, bool) {
	cd, ok := r.entries[workflowID]
	if ok {
		delete(r.entries, workflowID)
	}
	return cd, ok
}

// drain removes and returns every entry.
func (r *registry) drain() []*countdown {
	out := make([]*countdown, 0, len(r.entries))
	for id, cd := range r.entries {
		out = append(out, cd)
		delete(r.entries, id)
	}
	return out
}

func (r *registry) len() int {
	return len(r.entries)
}

// list returns the pending countdowns ordered by workflow id.
func (r *registry) list() []Pending {
	out := make([]Pending, 0, len(r.entries))
	for _, cd := range r.entries {
		out = append(out, cd.pending())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}
