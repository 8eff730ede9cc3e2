package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskdeck/taskdeck/internal/otel"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// ApprovePlan accepts a plan under review and hands the task to the
// programmer. Legal only while status is review_required.
func (e *Engine) ApprovePlan(ctx context.Context, taskID string) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if t.Status != models.StatusReviewRequired {
		return models.Task{}, fmt.Errorf("%w: cannot approve plan from %s", ErrInvalidState, t.Status)
	}
	upd, err := e.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status: ptr(models.StatusExecuting),
		AgentStates: &models.AgentStates{
			Manager:    models.AgentStateComplete,
			Planner:    models.AgentStateComplete,
			Programmer: models.AgentStateActive,
		},
	})
	if err != nil {
		return models.Task{}, err
	}
	otel.RecordTransition(ctx, models.StatusExecuting)
	e.logActivity(ctx, upd, models.ActivityPlanApproved, fmt.Sprintf("Plan approved for %q", upd.Title))
	e.hub.Publish(upd.ID, models.PlanApproved(upd))
	return upd, nil
}

// RequestPlanChanges records user feedback on a plan under review and loops
// the task back to planning with the planner revising. The feedback is
// appended as a plan_feedback message before the transition and carried on
// the broadcast event so subscribers need no second fetch. The existing plan
// is kept for the revision pass.
func (e *Engine) RequestPlanChanges(ctx context.Context, taskID, feedback string) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	if strings.TrimSpace(feedback) == "" {
		return models.Task{}, fmt.Errorf("%w: feedback is required", ErrValidation)
	}
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if t.Status != models.StatusReviewRequired {
		return models.Task{}, fmt.Errorf("%w: cannot request changes from %s", ErrInvalidState, t.Status)
	}
	if _, err := e.store.CreateMessage(ctx, store.MessageDraft{
		TaskID:  taskID,
		Sender:  models.SenderUser,
		Content: feedback,
		Type:    models.MessagePlanFeedback,
	}); err != nil {
		return models.Task{}, err
	}
	states := t.AgentStates
	states.Planner = models.AgentStateRevising
	states.Programmer = models.AgentStateWaiting
	upd, err := e.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status:      ptr(models.StatusPlanning),
		AgentStates: &states,
	})
	if err != nil {
		return models.Task{}, err
	}
	otel.RecordTransition(ctx, models.StatusPlanning)
	e.logActivity(ctx, upd, models.ActivityPlanChangesRequested, fmt.Sprintf("Changes requested on plan for %q", upd.Title))
	e.hub.Publish(upd.ID, models.PlanChangesRequested(upd, feedback))
	return upd, nil
}
