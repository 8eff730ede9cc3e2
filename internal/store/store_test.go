package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/taskdeck/taskdeck/pkg/models"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMigrationsAndUserCRUD(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	u, err := st.CreateUser(ctx, UserDraft{Username: "alice", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Username != "alice" {
		t.Fatalf("CreateUser: got %+v", u)
	}

	got, err := st.GetUserByUsername(ctx, "alice")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByUsername: %+v, %v", got, err)
	}

	email := "new@example.com"
	got, err = st.UpdateUser(ctx, u.ID, UserUpdate{Email: &email})
	if err != nil || got.Email != email {
		t.Fatalf("UpdateUser: %+v, %v", got, err)
	}

	if _, err := st.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUser missing: want ErrNotFound, got %v", err)
	}

	// Unique username constraint.
	if _, err := st.CreateUser(ctx, UserDraft{Username: "alice"}); err == nil {
		t.Fatal("expected error for duplicate username")
	}
}

func TestTaskDefaults(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, TaskDraft{Title: "Fix login bug"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != models.StatusPending {
		t.Errorf("status: got %q, want pending", task.Status)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("priority: got %q, want medium", task.Priority)
	}
	if task.Progress != 0 {
		t.Errorf("progress: got %d, want 0", task.Progress)
	}
	want := models.AgentStates{Manager: models.AgentStatePending, Planner: models.AgentStateWaiting, Programmer: models.AgentStateWaiting}
	if task.AgentStates != want {
		t.Errorf("agent states: got %+v, want %+v", task.AgentStates, want)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.AgentStates != want || got.Status != models.StatusPending {
		t.Errorf("round trip: got %+v", got)
	}

	if _, err := st.CreateTask(ctx, TaskDraft{Title: "x", Priority: "urgent"}); err == nil {
		t.Fatal("expected error for invalid priority")
	}
}

func TestTaskUpdateMerge(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	task, _ := st.CreateTask(ctx, TaskDraft{Title: "t", Description: "d"})

	status := models.StatusPlanning
	states := task.AgentStates
	states.Manager = models.AgentStateComplete
	states.Planner = models.AgentStateActive
	got, err := st.UpdateTask(ctx, task.ID, TaskUpdate{Status: &status, AgentStates: &states})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got.Status != models.StatusPlanning || got.AgentStates.Planner != models.AgentStateActive {
		t.Errorf("update: got %+v", got)
	}
	// Untouched fields survive the merge.
	if got.Title != "t" || got.Description != "d" {
		t.Errorf("merge clobbered fields: %+v", got)
	}
	if got.CreatedAt != task.CreatedAt {
		t.Errorf("created_at changed on update")
	}
	if got.UpdatedAt.Before(task.UpdatedAt) {
		t.Errorf("updated_at went backwards")
	}

	plan := models.ExecutionPlan{Title: "p", Steps: []models.PlanStep{{Description: "step 1"}}}
	got, err = st.UpdateTask(ctx, task.ID, TaskUpdate{Plan: &plan})
	if err != nil || got.Plan == nil || got.Plan.Title != "p" {
		t.Fatalf("plan update: %+v, %v", got.Plan, err)
	}

	bad := 150
	if _, err := st.UpdateTask(ctx, task.ID, TaskUpdate{Progress: &bad}); err == nil {
		t.Fatal("expected error for progress out of range")
	}

	if _, err := st.UpdateTask(ctx, "missing", TaskUpdate{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: want ErrNotFound, got %v", err)
	}
}

func TestActiveTasksByUser(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	u, _ := st.CreateUser(ctx, UserDraft{Username: "bob"})
	t1, _ := st.CreateTask(ctx, TaskDraft{Title: "a", UserID: &u.ID})
	t2, _ := st.CreateTask(ctx, TaskDraft{Title: "b", UserID: &u.ID})

	done := models.StatusCompleted
	if _, err := st.UpdateTask(ctx, t1.ID, TaskUpdate{Status: &done}); err != nil {
		t.Fatal(err)
	}

	all, err := st.ListTasksByUser(ctx, u.ID)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListTasksByUser: %d, %v", len(all), err)
	}
	active, err := st.ListActiveTasksByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListActiveTasksByUser: %v", err)
	}
	if len(active) != 1 || active[0].ID != t2.ID {
		t.Fatalf("active: got %+v, want only %s", active, t2.ID)
	}
}

func TestMessageOrdering(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	task, _ := st.CreateTask(ctx, TaskDraft{Title: "t"})
	for _, c := range []string{"m1", "m2", "m3"} {
		if _, err := st.CreateMessage(ctx, MessageDraft{TaskID: task.ID, Sender: models.SenderUser, Content: c}); err != nil {
			t.Fatalf("CreateMessage %s: %v", c, err)
		}
	}

	msgs, err := st.ListMessagesByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListMessagesByTask: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}

	recent, err := st.ListRecentMessagesByTask(ctx, task.ID, 2)
	if err != nil {
		t.Fatalf("ListRecentMessagesByTask: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "m2" || recent[1].Content != "m3" {
		t.Fatalf("recent window: got %+v", recent)
	}
}

func TestActivitiesRecentFirst(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	u, _ := st.CreateUser(ctx, UserDraft{Username: "carol"})
	for i := 0; i < 15; i++ {
		if _, err := st.CreateActivity(ctx, ActivityDraft{Type: "task_created", Description: "d", UserID: &u.ID}); err != nil {
			t.Fatal(err)
		}
	}

	acts, err := st.ListRecentActivitiesByUser(ctx, u.ID, 0)
	if err != nil {
		t.Fatalf("ListRecentActivitiesByUser: %v", err)
	}
	if len(acts) != models.DefaultActivityListLimit {
		t.Fatalf("default limit: got %d, want %d", len(acts), models.DefaultActivityListLimit)
	}
	for i := 1; i < len(acts); i++ {
		if acts[i].ActivityID > acts[i-1].ActivityID {
			t.Fatalf("activities not most-recent-first: %d before %d", acts[i-1].ActivityID, acts[i].ActivityID)
		}
	}

	acts, _ = st.ListRecentActivitiesByUser(ctx, u.ID, 3)
	if len(acts) != 3 {
		t.Fatalf("explicit limit: got %d, want 3", len(acts))
	}
}

func TestDeleteTaskCascade(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	task, _ := st.CreateTask(ctx, TaskDraft{Title: "t"})
	_, _ = st.CreateMessage(ctx, MessageDraft{TaskID: task.ID, Sender: models.SenderUser, Content: "hi"})
	_, _ = st.CreateActivity(ctx, ActivityDraft{Type: "task_created", Description: "d", TaskID: &task.ID})

	ok, err := st.DeleteTask(ctx, task.ID, true)
	if err != nil || !ok {
		t.Fatalf("DeleteTask: %v %v", ok, err)
	}
	msgs, _ := st.ListMessagesByTask(ctx, task.ID)
	if len(msgs) != 0 {
		t.Fatalf("cascade left %d messages", len(msgs))
	}

	ok, err = st.DeleteTask(ctx, task.ID, true)
	if err != nil || ok {
		t.Fatalf("second delete: got ok=%v err=%v, want false nil", ok, err)
	}

	// Non-cascade keeps child rows.
	task2, _ := st.CreateTask(ctx, TaskDraft{Title: "t2"})
	_, _ = st.CreateMessage(ctx, MessageDraft{TaskID: task2.ID, Sender: models.SenderUser, Content: "hi"})
	if ok, _ := st.DeleteTask(ctx, task2.ID, false); !ok {
		t.Fatal("delete task2")
	}
	msgs, _ = st.ListMessagesByTask(ctx, task2.ID)
	if len(msgs) != 1 {
		t.Fatalf("non-cascade removed messages: %d", len(msgs))
	}
}

func TestSeedDemo(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	u, err := st.GetUserByUsername(ctx, "demo")
	if err != nil {
		t.Fatalf("demo user: %v", err)
	}
	tasks, _ := st.ListTasksByUser(ctx, u.ID)
	if len(tasks) != 1 {
		t.Fatalf("demo tasks: %d", len(tasks))
	}
	// Idempotent on a non-empty DB.
	if err := st.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo again: %v", err)
	}
	tasks, _ = st.ListTasksByUser(ctx, u.ID)
	if len(tasks) != 1 {
		t.Fatalf("seed not idempotent: %d tasks", len(tasks))
	}
}
