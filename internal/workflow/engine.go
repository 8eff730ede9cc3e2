// Package workflow implements the task lifecycle core: the status/agent-state
// machine, the plan review protocol, and chat ingestion. All read-then-write
// operations on a task are serialized per task id; the lock is held across
// store and collaborator calls so a second operation on the same task waits
// for the first to fully complete. Broadcasts happen only after the store
// write has committed.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/agent"
	"github.com/taskdeck/taskdeck/internal/hub"
	"github.com/taskdeck/taskdeck/internal/otel"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// Options tunes engine behavior beyond its wired dependencies.
type Options struct {
	// HistoryWindow bounds the conversation slice handed to the chat
	// collaborator. Zero means models.DefaultChatHistoryWindow.
	HistoryWindow int
	// CascadeDelete controls whether DeleteTask also removes the task's
	// messages and activities.
	CascadeDelete bool
	Logger        *slog.Logger
}

// Engine drives tasks through the fixed lifecycle. Construct with New; the
// zero value is not usable.
type Engine struct {
	store  store.Store
	hub    *hub.Hub
	agents agent.Roster
	log    *slog.Logger
	locks  *keyedMutex

	historyWindow int
	cascadeDelete bool
}

func New(st store.Store, h *hub.Hub, agents agent.Roster, opts Options) *Engine {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = models.DefaultChatHistoryWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:         st,
		hub:           h,
		agents:        agents,
		log:           opts.Logger,
		locks:         newKeyedMutex(),
		historyWindow: opts.HistoryWindow,
		cascadeDelete: opts.CascadeDelete,
	}
}

// CreateTask validates the draft and persists a new pending task. The store
// assigns the initial agent states and progress.
func (e *Engine) CreateTask(ctx context.Context, d store.TaskDraft) (models.Task, error) {
	if strings.TrimSpace(d.Title) == "" {
		return models.Task{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	t, err := e.store.CreateTask(ctx, d)
	if err != nil {
		return models.Task{}, err
	}
	otel.RecordTaskOp(ctx, "create")
	e.logActivity(ctx, t, models.ActivityTaskCreated, fmt.Sprintf("Task %q created", t.Title))
	e.hub.Publish(t.ID, models.TaskUpdated(t))
	return t, nil
}

// RecordAnalysis records the manager's assessment on a pending task and
// advances it to planning with the planner active.
func (e *Engine) RecordAnalysis(ctx context.Context, taskID string, analysis models.ManagerAnalysis) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if t.Status != models.StatusPending {
		return models.Task{}, fmt.Errorf("%w: cannot record analysis from %s", ErrInvalidState, t.Status)
	}
	return e.applyAnalysis(ctx, t, analysis)
}

// Analyze runs the manager collaborator against a pending task and records
// the result. On collaborator failure the task does not transition; the stall
// is logged as a manager_error activity.
func (e *Engine) Analyze(ctx context.Context, taskID string) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if t.Status != models.StatusPending {
		return models.Task{}, fmt.Errorf("%w: cannot analyze from %s", ErrInvalidState, t.Status)
	}

	start := time.Now()
	analysis, err := e.agents.Analyzer.AnalyzeTask(ctx, t.Description)
	otel.RecordAgentCall(ctx, models.AgentManager, time.Since(start))
	if err != nil {
		e.log.Error("manager analysis failed", "task_id", taskID, "error", err)
		e.logActivity(ctx, t, models.ActivityManagerError, fmt.Sprintf("Manager analysis failed: %v", err))
		return models.Task{}, fmt.Errorf("%w: analyze: %v", ErrCollaborator, err)
	}
	return e.applyAnalysis(ctx, t, analysis)
}

func (e *Engine) applyAnalysis(ctx context.Context, t models.Task, analysis models.ManagerAnalysis) (models.Task, error) {
	upd, err := e.store.UpdateTask(ctx, t.ID, store.TaskUpdate{
		Status: ptr(models.StatusPlanning),
		AgentStates: &models.AgentStates{
			Manager:    models.AgentStateComplete,
			Planner:    models.AgentStateActive,
			Programmer: models.AgentStateWaiting,
		},
		Analysis: &analysis,
	})
	if err != nil {
		return models.Task{}, err
	}
	otel.RecordTransition(ctx, models.StatusPlanning)
	e.logActivity(ctx, upd, models.ActivityAnalysisRecorded, fmt.Sprintf("Manager analysis recorded for %q", upd.Title))
	e.hub.Publish(upd.ID, models.TaskUpdated(upd))
	return upd, nil
}

// Plan runs the planner collaborator against a planning task and submits the
// resulting plan for review. The existing plan and analysis are handed to the
// collaborator so a revision pass sees the prior proposal.
func (e *Engine) Plan(ctx context.Context, taskID string) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if t.Status != models.StatusPlanning {
		return models.Task{}, fmt.Errorf("%w: cannot plan from %s", ErrInvalidState, t.Status)
	}

	var analysis models.ManagerAnalysis
	if t.Analysis != nil {
		analysis = *t.Analysis
	}
	start := time.Now()
	plan, err := e.agents.Planner.CreatePlan(ctx, t.Description, analysis)
	otel.RecordAgentCall(ctx, models.AgentPlanner, time.Since(start))
	if err != nil {
		e.log.Error("planner failed", "task_id", taskID, "error", err)
		e.logActivity(ctx, t, models.ActivityPlannerError, fmt.Sprintf("Planner failed: %v", err))
		return models.Task{}, fmt.Errorf("%w: plan: %v", ErrCollaborator, err)
	}
	return e.applyPlan(ctx, t, plan)
}

// SubmitPlan records a collaborator-produced plan on a planning task and
// moves it to review_required for human sign-off.
func (e *Engine) SubmitPlan(ctx context.Context, taskID string, plan models.ExecutionPlan) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if t.Status != models.StatusPlanning {
		return models.Task{}, fmt.Errorf("%w: cannot submit plan from %s", ErrInvalidState, t.Status)
	}
	return e.applyPlan(ctx, t, plan)
}

func (e *Engine) applyPlan(ctx context.Context, t models.Task, plan models.ExecutionPlan) (models.Task, error) {
	if strings.TrimSpace(plan.Title) == "" || len(plan.Steps) == 0 {
		return models.Task{}, fmt.Errorf("%w: plan requires a title and at least one step", ErrValidation)
	}
	states := t.AgentStates
	states.Planner = models.AgentStateComplete
	upd, err := e.store.UpdateTask(ctx, t.ID, store.TaskUpdate{
		Status:      ptr(models.StatusReviewRequired),
		AgentStates: &states,
		Plan:        &plan,
	})
	if err != nil {
		return models.Task{}, err
	}
	if _, err := e.store.CreateMessage(ctx, store.MessageDraft{
		TaskID:  upd.ID,
		Sender:  models.AgentPlanner,
		Content: plan.Title,
		Type:    models.MessagePlan,
	}); err != nil {
		return models.Task{}, err
	}
	otel.RecordTransition(ctx, models.StatusReviewRequired)
	e.logActivity(ctx, upd, models.ActivityPlanReady, fmt.Sprintf("Plan %q ready for review", plan.Title))
	e.hub.Publish(upd.ID, models.TaskUpdated(upd))
	return upd, nil
}

// UpdateProgress sets the progress of an executing task and broadcasts the
// change. Progress outside 0..100 is a validation error.
func (e *Engine) UpdateProgress(ctx context.Context, taskID string, progress int) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	if progress < 0 || progress > 100 {
		return models.Task{}, fmt.Errorf("%w: progress must be 0..100", ErrValidation)
	}
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if t.Status != models.StatusExecuting {
		return models.Task{}, fmt.Errorf("%w: cannot update progress from %s", ErrInvalidState, t.Status)
	}
	upd, err := e.store.UpdateTask(ctx, taskID, store.TaskUpdate{Progress: &progress})
	if err != nil {
		return models.Task{}, err
	}
	otel.RecordTaskOp(ctx, "update")
	e.hub.Publish(upd.ID, models.TaskUpdated(upd))
	return upd, nil
}

// CompleteTask marks an executing task completed with full progress.
func (e *Engine) CompleteTask(ctx context.Context, taskID string) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if t.Status != models.StatusExecuting {
		return models.Task{}, fmt.Errorf("%w: cannot complete from %s", ErrInvalidState, t.Status)
	}
	states := t.AgentStates
	states.Programmer = models.AgentStateComplete
	upd, err := e.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status:      ptr(models.StatusCompleted),
		AgentStates: &states,
		Progress:    ptr(100),
	})
	if err != nil {
		return models.Task{}, err
	}
	otel.RecordTransition(ctx, models.StatusCompleted)
	e.logActivity(ctx, upd, models.ActivityTaskCompleted, fmt.Sprintf("Task %q completed", upd.Title))
	e.hub.Publish(upd.ID, models.TaskUpdated(upd))
	return upd, nil
}

// FailTask marks a non-terminal task failed, attributing the failure to the
// named agent role. The failing role is recorded as a *_error activity next
// to the task_failed transition. Failing an already terminal task is an
// invalid-state error.
func (e *Engine) FailTask(ctx context.Context, taskID, agentRole, reason string) (models.Task, error) {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if models.TerminalStatus(t.Status) {
		return models.Task{}, fmt.Errorf("%w: task already %s", ErrInvalidState, t.Status)
	}
	states := t.AgentStates
	var errActivity string
	switch agentRole {
	case models.AgentManager:
		states.Manager = models.AgentStateError
		errActivity = models.ActivityManagerError
	case models.AgentPlanner:
		states.Planner = models.AgentStateError
		errActivity = models.ActivityPlannerError
	case models.AgentProgrammer:
		states.Programmer = models.AgentStateError
		errActivity = models.ActivityProgrammerError
	default:
		return models.Task{}, fmt.Errorf("%w: unknown agent role %q", ErrValidation, agentRole)
	}
	upd, err := e.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status:      ptr(models.StatusFailed),
		AgentStates: &states,
	})
	if err != nil {
		return models.Task{}, err
	}
	otel.RecordTransition(ctx, models.StatusFailed)
	stall := fmt.Sprintf("%s agent reported an error", agentRole)
	if reason != "" {
		stall += ": " + reason
	}
	e.logActivity(ctx, upd, errActivity, stall)
	desc := fmt.Sprintf("Task %q failed (%s)", upd.Title, agentRole)
	if reason != "" {
		desc += ": " + reason
	}
	e.logActivity(ctx, upd, models.ActivityTaskFailed, desc)
	e.hub.Publish(upd.ID, models.TaskUpdated(upd))
	return upd, nil
}

// DeleteTask removes the task. Whether its messages and activities go with it
// follows the engine's cascade setting.
func (e *Engine) DeleteTask(ctx context.Context, taskID string) error {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	ok, err := e.store.DeleteTask(ctx, taskID, e.cascadeDelete)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	otel.RecordTaskOp(ctx, "delete")
	return nil
}

func (e *Engine) logActivity(ctx context.Context, t models.Task, typ, desc string) {
	_, err := e.store.CreateActivity(ctx, store.ActivityDraft{
		Type:        typ,
		Description: desc,
		TaskID:      &t.ID,
		UserID:      t.UserID,
	})
	if err != nil {
		e.log.Error("record activity", "task_id", t.ID, "type", typ, "error", err)
	}
}

func ptr[T any](v T) *T { return &v }
