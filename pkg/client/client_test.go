package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskdeck/taskdeck/internal/httpapi"
	"github.com/taskdeck/taskdeck/pkg/models"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	app, err := httpapi.NewApp(httpapi.ServerOptions{Home: t.TempDir()})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { _ = app.Store.Close() })
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestLifecycleViaSDK(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	ok, err := c.Health(ctx)
	if err != nil || !ok {
		t.Fatalf("Health: %v ok=%v", err, ok)
	}

	task, err := c.CreateTask(ctx, TaskDraft{Title: "Fix login bug", Priority: "high"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != models.StatusPending {
		t.Fatalf("status: %s", task.Status)
	}

	task, err = c.RecordAnalysis(ctx, task.ID, models.ManagerAnalysis{RequiredAgents: []string{"planner"}})
	if err != nil || task.Status != models.StatusPlanning {
		t.Fatalf("RecordAnalysis: %v status=%s", err, task.Status)
	}

	task, err = c.SubmitPlan(ctx, task.ID, models.ExecutionPlan{
		Title: "Fix", Steps: []models.PlanStep{{Description: "patch"}},
	})
	if err != nil || task.Status != models.StatusReviewRequired {
		t.Fatalf("SubmitPlan: %v status=%s", err, task.Status)
	}

	task, err = c.ApprovePlan(ctx, task.ID)
	if err != nil || task.Status != models.StatusExecuting {
		t.Fatalf("ApprovePlan: %v status=%s", err, task.Status)
	}

	task, err = c.CompleteTask(ctx, task.ID)
	if err != nil || task.Status != models.StatusCompleted || task.Progress != 100 {
		t.Fatalf("CompleteTask: %v task=%+v", err, task)
	}
}

func TestGeneratePlanViaSDK(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	task, err := c.CreateTask(ctx, TaskDraft{Title: "Fix login bug", Description: "d"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := c.Analyze(ctx, task.ID); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	task, err = c.GeneratePlan(ctx, task.ID)
	if err != nil || task.Status != models.StatusReviewRequired {
		t.Fatalf("GeneratePlan: %v status=%s", err, task.Status)
	}
	if task.Plan == nil || len(task.Plan.Steps) == 0 {
		t.Fatalf("GeneratePlan: no plan on task %+v", task)
	}
}

func TestRepositoriesViaSDK(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	u, err := c.CreateUser(ctx, "bob", "")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	repo, err := c.CreateRepository(ctx, RepositoryDraft{Name: "app", FullName: "bob/app", UserID: &u.ID})
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}

	got, err := c.GetRepository(ctx, repo.ID)
	if err != nil || got.FullName != "bob/app" {
		t.Fatalf("GetRepository: %v %+v", err, got)
	}

	var apiErr *APIError
	if _, err := c.GetRepository(ctx, "missing"); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("missing repo: %v", err)
	}
}

func TestErrorDecoding(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	_, err := c.GetTask(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message == "" {
		t.Fatalf("APIError: %+v", apiErr)
	}

	task, err := c.CreateTask(ctx, TaskDraft{Title: "T"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err = c.ApprovePlan(ctx, task.ID)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("approve from pending: %v", err)
	}
}

func TestRequestChangesAndMessages(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	task, err := c.CreateTask(ctx, TaskDraft{Title: "T", Description: "d"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := c.RecordAnalysis(ctx, task.ID, models.ManagerAnalysis{}); err != nil {
		t.Fatalf("RecordAnalysis: %v", err)
	}
	if _, err := c.SubmitPlan(ctx, task.ID, models.ExecutionPlan{
		Title: "P", Steps: []models.PlanStep{{Description: "s"}},
	}); err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	task, err = c.RequestPlanChanges(ctx, task.ID, "add unit tests")
	if err != nil || task.Status != models.StatusPlanning {
		t.Fatalf("RequestPlanChanges: %v status=%s", err, task.Status)
	}

	msgs, err := c.ListMessages(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Type != models.MessagePlanFeedback || last.Content != "add unit tests" {
		t.Fatalf("feedback message: %+v", last)
	}

	msgs, err = c.Chat(ctx, task.ID, "how is the revision going?")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if msgs[len(msgs)-1].Sender != models.AgentPlanner {
		t.Fatalf("chat reply sender: %+v", msgs[len(msgs)-1])
	}
}

func TestUsersAndState(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	u, err := c.CreateUser(ctx, "alice", "a@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := c.CreateTask(ctx, TaskDraft{Title: "T", UserID: &u.ID}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	tasks, err := c.ListActiveTasks(ctx, u.ID)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("ListActiveTasks: %v %+v", err, tasks)
	}

	state, err := c.State(ctx, u.ID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(state.Tasks) != 1 || len(state.Activities) == 0 {
		t.Fatalf("State: %+v", state)
	}
}

func TestAPIKeyHeader(t *testing.T) {
	t.Parallel()
	app, err := httpapi.NewApp(httpapi.ServerOptions{Home: t.TempDir(), APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { _ = app.Store.Close() })
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()
	ctx := context.Background()

	_, err = New(srv.URL, "").CreateTask(ctx, TaskDraft{Title: "T"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key: %v", err)
	}

	if _, err := New(srv.URL, "secret").CreateTask(ctx, TaskDraft{Title: "T"}); err != nil {
		t.Fatalf("with key: %v", err)
	}
}
