package listview

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pitabwire/sentinel/internal/insights"
	"github.com/pitabwire/sentinel/internal/query"
	"github.com/pitabwire/sentinel/model"
)

// Workflows returns the most recent workflows, newest first. An empty status
// lists every status; a non-positive limit uses the backend default.
func (v *Views) Workflows(ctx context.Context, status model.WorkflowStatus, limit int) ([]model.AgentWorkflow, error) {
	params := url.Values{"status": {string(status)}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return getCached(ctx, v, params, CollectionWorkflows, func(ctx context.Context) ([]model.AgentWorkflow, error) {
		return v.bank.ListWorkflows(ctx, status, limit)
	})
}

// WorkflowTab returns one moderation tab together with the counts of every
// tab, all derived from a single cached list.
func (v *Views) WorkflowTab(ctx context.Context, tab insights.Tab) (WorkflowTab, error) {
	all, err := v.Workflows(ctx, "", 0)
	if err != nil {
		return WorkflowTab{}, err
	}
	return WorkflowTab{
		Tab:       tab,
		Workflows: insights.FilterTab(all, tab),
		Counts:    insights.CountTabs(all),
	}, nil
}

// Workflow returns one workflow record.
func (v *Views) Workflow(ctx context.Context, workflowID string) (model.AgentWorkflow, error) {
	key := CollectionWorkflows + "/" + url.PathEscape(workflowID)
	return query.Get(ctx, v.cache, key, func(ctx context.Context) (model.AgentWorkflow, error) {
		return v.bank.GetWorkflow(ctx, workflowID)
	})
}

// DeleteWorkflowPrompt is the confirmation question for deleting a workflow.
func DeleteWorkflowPrompt(workflowID string) string {
	return fmt.Sprintf("Discard workflow %s? This cannot be undone.", workflowID)
}

// DeleteWorkflow deletes a workflow record after explicit confirmation.
func (v *Views) DeleteWorkflow(ctx context.Context, w model.AgentWorkflow, confirmed bool) (model.ActionResult, error) {
	if err := requireConfirmation(confirmed, DeleteWorkflowPrompt(w.WorkflowID)); err != nil {
		return model.ActionResult{}, err
	}
	res, err := v.bank.DeleteWorkflow(ctx, w.ID)
	if err != nil {
		return model.ActionResult{}, err
	}
	v.InvalidateWorkflows()
	return res, nil
}
