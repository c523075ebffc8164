// Package approval runs the operator's approve, discard and escalate
// decisions. Approvals are delayed by a cancellable per-workflow countdown;
// discard and escalate fire immediately once confirmed.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pitabwire/sentinel/internal/observability"
	"github.com/pitabwire/sentinel/model"
)

const defaultActionTimeout = 30 * time.Second

// Action names used for outcomes, hooks and metrics.
const (
	ActionApprove  = "approve"
	ActionDiscard  = "discard"
	ActionEscalate = "escalate"
)

// Approval outcomes recorded in metrics.
const (
	outcomeCommitted = "committed"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

// Actions performs the workflow mutations. It is satisfied by
// *bankapi.Client.
type Actions interface {
	Approve(ctx context.Context, workflowID string, req model.ApproveRequest) (model.ActionResult, error)
	Discard(ctx context.Context, workflowID string, req model.DiscardRequest) (model.ActionResult, error)
	Escalate(ctx context.Context, workflowID string, req model.EscalateRequest) (model.ActionResult, error)
}

// Ticket is returned when an approval is started. Exactly one of Pending and
// Result is set: Pending while counting down, Result when the approval was
// committed immediately.
type Ticket struct {
	Pending *Pending            `json:"pending,omitempty"`
	Result  *model.ActionResult `json:"result,omitempty"`
}

// Outcome is the last settled decision for a workflow.
type Outcome struct {
	WorkflowID string               `json:"workflow_id"`
	Action     string               `json:"action"`
	Operator   string               `json:"operator"`
	Result     *model.ActionResult  `json:"result,omitempty"`
	Error      *model.ErrorEnvelope `json:"error,omitempty"`
	At         time.Time            `json:"at"`
}

// Failed reports whether the decision did not go through.
func (o Outcome) Failed() bool {
	return o.Error != nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock driving countdowns.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithActionTimeout bounds each backend mutation.
func WithActionTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.actionTimeout = d
		}
	}
}

// WithOnCommitted registers fn to run after every successful mutation.
func WithOnCommitted(fn func(action, workflowID string)) Option {
	return func(c *Controller) { c.onCommitted = fn }
}

// Controller owns the countdown registry, the edit drafts and the last
// outcome of every workflow the operator acted on.
type Controller struct {
	actions       Actions
	clock         clockwork.Clock
	logger        *zap.Logger
	metrics       *observability.Metrics
	actionTimeout time.Duration
	onCommitted   func(action, workflowID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	countdown int
	closed    bool
	registry  *registry
	drafts    map[string]string
	outcomes  map[string]Outcome
}

// NewController creates a controller that waits countdownSeconds before
// committing an approval.
func NewController(actions Actions, countdownSeconds int, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		actions:       actions,
		clock:         clockwork.NewRealClock(),
		logger:        zap.NewNop(),
		actionTimeout: defaultActionTimeout,
		ctx:           ctx,
		cancel:        cancel,
		countdown:     max(countdownSeconds, 0),
		registry:      newRegistry(),
		drafts:        make(map[string]string),
		outcomes:      make(map[string]Outcome),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCountdown changes the delay used by approvals started afterwards.
func (c *Controller) SetCountdown(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countdown = max(seconds, 0)
}

// Countdown returns the configured delay in seconds.
func (c *Controller) Countdown() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countdown
}

// Approve starts the approval countdown for workflowID. With a zero
// countdown the approval is committed before Approve returns.
func (c *Controller) Approve(ctx context.Context, workflowID, operator string, mode Mode) (Ticket, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return Ticket{}, model.NewOperatorRequiredError()
	}
	if !mode.Valid() {
		return Ticket{}, model.NewBadRequestError(fmt.Sprintf("unknown approval mode %q", mode))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Ticket{}, model.NewBackendUnavailableError()
	}
	if _, ok := c.registry.get(workflowID); ok {
		c.mu.Unlock()
		return Ticket{}, model.NewCountdownActiveError(workflowID)
	}
	var edited *string
	if mode == ModeEdited {
		draft, ok := c.drafts[workflowID]
		if !ok {
			c.mu.Unlock()
			return Ticket{}, model.NewBadRequestError("no edited post to approve")
		}
		edited = &draft
	}

	if c.countdown == 0 {
		// The slot holds the workflow while the backend call runs, so other
		// decisions on it are refused as they are during a countdown.
		slot := &countdown{
			workflowID: workflowID,
			operator:   operator,
			mode:       mode,
			editedPost: edited,
			startedAt:  c.clock.Now(),
			committing: true,
			cancel:     func() {},
		}
		c.registry.add(slot)
		c.metrics.SetApprovalCountdownsActive(c.registry.len())
		c.mu.Unlock()

		res, err := c.commit(ctx, workflowID, operator, edited)
		c.release(slot)
		if err != nil {
			return Ticket{}, err
		}
		return Ticket{Result: &res}, nil
	}

	cdCtx, cdCancel := context.WithCancel(c.ctx)
	cd := &countdown{
		workflowID: workflowID,
		operator:   operator,
		mode:       mode,
		editedPost: edited,
		remaining:  c.countdown,
		startedAt:  c.clock.Now(),
		ctx:        cdCtx,
		cancel:     cdCancel,
	}
	c.registry.add(cd)
	delete(c.outcomes, workflowID)
	p := cd.pending()
	c.metrics.SetApprovalCountdownsActive(c.registry.len())
	c.wg.Add(1)
	c.mu.Unlock()

	ticker := c.clock.NewTicker(time.Second)
	go c.run(cd, ticker)

	c.logger.Info("approval countdown started",
		zap.String("workflow_id", workflowID),
		zap.String("operator", operator),
		zap.String("mode", string(mode)),
		zap.Int("seconds", p.Remaining),
	)
	return Ticket{Pending: &p}, nil
}

// release drops slot from the registry unless something replaced it.
func (c *Controller) release(slot *countdown) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.registry.get(slot.workflowID); ok && cur == slot {
		c.registry.remove(slot.workflowID)
		c.metrics.SetApprovalCountdownsActive(c.registry.len())
	}
}

// Cancel stops the countdown for workflowID without calling the backend. It
// reports whether a countdown was running. An approval already being
// committed cannot be cancelled.
func (c *Controller) Cancel(workflowID string) bool {
	c.mu.Lock()
	cd, ok := c.registry.get(workflowID)
	if !ok || cd.committing {
		c.mu.Unlock()
		return false
	}
	c.registry.remove(workflowID)
	c.metrics.SetApprovalCountdownsActive(c.registry.len())
	c.mu.Unlock()
	cd.cancel()
	c.metrics.RecordApprovalOutcome(outcomeCancelled)
	c.logger.Info("approval countdown cancelled", zap.String("workflow_id", workflowID))
	return true
}

// Remaining returns the seconds left on the countdown for workflowID.
func (c *Controller) Remaining(workflowID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd, ok := c.registry.get(workflowID)
	if !ok {
		return 0, false
	}
	return cd.remaining, true
}

// Pending lists the running countdowns ordered by workflow id.
func (c *Controller) Pending() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.list()
}

// Len returns the number of running countdowns.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.len()
}

func (c *Controller) run(cd *countdown, ticker clockwork.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-cd.ctx.Done():
			return
		case <-ticker.Chan():
			due, live := c.tick(cd)
			if !live {
				return
			}
			if due {
				_, _ = c.commit(c.ctx, cd.workflowID, cd.operator, cd.editedPost)
				return
			}
		}
	}
}

// tick decrements cd. The registry entry is removed in the same critical
// section that observes zero, so a racing Cancel either wins outright or
// finds nothing to cancel.
func (c *Controller) tick(cd *countdown) (due, live bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.registry.get(cd.workflowID)
	if !ok || cur != cd {
		return false, false
	}
	cd.remaining--
	if cd.remaining > 0 {
		return false, true
	}
	c.registry.remove(cd.workflowID)
	c.metrics.SetApprovalCountdownsActive(c.registry.len())
	return true, true
}

func (c *Controller) commit(ctx context.Context, workflowID, operator string, edited *string) (model.ActionResult, error) {
	req := model.ApproveRequest{ApprovedBy: operator, EditedPost: edited}
	res, err := c.send(ctx, ActionApprove, workflowID, operator, func(ctx context.Context) (model.ActionResult, error) {
		return c.actions.Approve(ctx, workflowID, req)
	})
	if err != nil {
		c.metrics.RecordApprovalOutcome(outcomeFailed)
		c.logger.Warn("approval failed",
			zap.String("workflow_id", workflowID),
			zap.String("operator", operator),
			zap.Error(err),
		)
		c.settle(ActionApprove, workflowID, operator, res, err)
		return model.ActionResult{}, err
	}

	c.mu.Lock()
	delete(c.drafts, workflowID)
	c.mu.Unlock()
	c.metrics.RecordApprovalOutcome(outcomeCommitted)
	c.logger.Info("approval committed",
		zap.String("workflow_id", workflowID),
		zap.String("operator", operator),
		zap.Bool("edited", edited != nil),
	)
	c.settle(ActionApprove, workflowID, operator, res, nil)
	return res, nil
}

// Discard moves the workflow's post to the discarded tab. confirmed must be
// true; otherwise the returned error carries the question to ask.
func (c *Controller) Discard(ctx context.Context, workflowID, operator, reason string, confirmed bool) (model.ActionResult, error) {
	operator, err := c.precheck(workflowID, operator, confirmed, DiscardPrompt(workflowID))
	if err != nil {
		return model.ActionResult{}, err
	}

	res, err := c.send(ctx, ActionDiscard, workflowID, operator, func(ctx context.Context) (model.ActionResult, error) {
		return c.actions.Discard(ctx, workflowID, model.DiscardRequest{DiscardedBy: operator, Reason: reason})
	})
	c.settle(ActionDiscard, workflowID, operator, res, err)
	return res, err
}

// Escalate routes the workflow to management, legal or investigation.
// confirmed must be true; otherwise the returned error carries the question
// to ask.
func (c *Controller) Escalate(ctx context.Context, workflowID, operator string, target model.EscalationType, confirmed bool) (model.ActionResult, error) {
	if !target.Valid() {
		return model.ActionResult{}, model.NewBadRequestError(fmt.Sprintf("unknown escalation type %q", target))
	}
	operator, err := c.precheck(workflowID, operator, confirmed, EscalatePrompt(target))
	if err != nil {
		return model.ActionResult{}, err
	}

	res, err := c.send(ctx, ActionEscalate, workflowID, operator, func(ctx context.Context) (model.ActionResult, error) {
		return c.actions.Escalate(ctx, workflowID, model.EscalateRequest{EscalationType: target, EscalatedBy: operator})
	})
	c.settle(ActionEscalate, workflowID, operator, res, err)
	return res, err
}

// send runs one decision call under the action timeout and its own span.
func (c *Controller) send(ctx context.Context, action, workflowID, operator string, call func(context.Context) (model.ActionResult, error)) (model.ActionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.actionTimeout)
	defer cancel()
	ctx, span := observability.StartDecisionSpan(ctx, action, workflowID, operator)
	res, err := call(ctx)
	observability.EndSpanWithError(span, err)
	return res, err
}

// precheck validates an immediate decision and returns the trimmed operator.
func (c *Controller) precheck(workflowID, operator string, confirmed bool, prompt string) (string, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", model.NewOperatorRequiredError()
	}
	if !confirmed {
		return "", model.NewConfirmationRequiredError(prompt)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.registry.get(workflowID); ok {
		return "", model.NewCountdownActiveError(workflowID)
	}
	return operator, nil
}

// settle fires the commit hook on success and then records the outcome, so an
// observed outcome implies every side effect has run.
func (c *Controller) settle(action, workflowID, operator string, res model.ActionResult, err error) {
	out := Outcome{
		WorkflowID: workflowID,
		Action:     action,
		Operator:   operator,
		At:         c.clock.Now(),
	}
	status := "ok"
	if err != nil {
		status = "error"
		out.Error = envelopeOf(err)
	} else {
		out.Result = &res
	}

	c.metrics.RecordModerationAction(action, status)
	if err == nil && c.onCommitted != nil {
		c.onCommitted(action, workflowID)
	}

	c.mu.Lock()
	c.outcomes[workflowID] = out
	c.mu.Unlock()
}

func envelopeOf(err error) *model.ErrorEnvelope {
	if ee, ok := model.AsEnvelope(err); ok {
		return ee
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewBackendTimeoutError()
	}
	if errors.Is(err, context.Canceled) {
		return &model.ErrorEnvelope{Code: model.ErrBackendUnavailable, Message: "request cancelled"}
	}
	return model.NewInternalError()
}

// LastOutcome returns the most recent settled decision for workflowID.
func (c *Controller) LastOutcome(workflowID string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.outcomes[workflowID]
	return o, ok
}

// BeginEdit opens an edit draft for workflowID seeded with post. An open
// draft is left as is.
func (c *Controller) BeginEdit(workflowID, post string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.drafts[workflowID]; ok {
		return d
	}
	c.drafts[workflowID] = post
	return post
}

// UpdateDraft replaces the draft text of an open edit.
func (c *Controller) UpdateDraft(workflowID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.drafts[workflowID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("no edit in progress for workflow %q", workflowID))
	}
	c.drafts[workflowID] = text
	return nil
}

// CancelEdit discards the draft for workflowID.
func (c *Controller) CancelEdit(workflowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drafts, workflowID)
}

// Draft returns the open draft for workflowID.
func (c *Controller) Draft(workflowID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drafts[workflowID]
	return d, ok
}

// Close stops every countdown without committing and waits for their
// goroutines. The registry is empty afterwards. Further approvals are
// rejected.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	stopped := c.registry.drain()
	c.metrics.SetApprovalCountdownsActive(0)
	c.mu.Unlock()

	for _, cd := range stopped {
		if cd.committing {
			continue
		}
		cd.cancel()
		c.metrics.RecordApprovalOutcome(outcomeCancelled)
	}
	c.cancel()
	c.wg.Wait()
	if len(stopped) > 0 {
		c.logger.Info("approval countdowns cleared", zap.Int("count", len(stopped)))
	}
}

// DiscardPrompt is the confirmation question for discarding a post.
func DiscardPrompt(workflowID string) string {
	return fmt.Sprintf("Discard post %s? This will move it to the Discarded tab.", workflowID)
}

// EscalatePrompt is the confirmation question for an escalation target.
func EscalatePrompt(target model.EscalationType) string {
	switch target {
	case model.EscalateManagement:
		return "Escalate to Management Review?"
	case model.EscalateLegal:
		return "Escalate to Legal/Compliance?"
	case model.EscalateInvestigation:
		return "Flag for Investigation?"
	}
	return fmt.Sprintf("Escalate to %s?", target)
}
