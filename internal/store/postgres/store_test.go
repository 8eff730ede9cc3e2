package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// Conformance smoke test against a real PostgreSQL. Skipped unless
// TASKDECK_TEST_DATABASE_URL is set.
func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("TASKDECK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TASKDECK_TEST_DATABASE_URL not set")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	u, err := st.CreateUser(ctx, store.UserDraft{Username: "pg-conf-" + uuid.NewString()[:8]})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	task, err := st.CreateTask(ctx, store.TaskDraft{Title: "conformance", UserID: &u.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != models.StatusPending || task.AgentStates.Manager != models.AgentStatePending {
		t.Fatalf("task defaults: %+v", task)
	}

	for _, c := range []string{"m1", "m2", "m3"} {
		if _, err := st.CreateMessage(ctx, store.MessageDraft{TaskID: task.ID, Sender: models.SenderUser, Content: c}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
	msgs, err := st.ListMessagesByTask(ctx, task.ID)
	if err != nil || len(msgs) != 3 || msgs[0].Content != "m1" || msgs[2].Content != "m3" {
		t.Fatalf("message order: %+v, %v", msgs, err)
	}

	if ok, err := st.DeleteTask(ctx, task.ID, true); err != nil || !ok {
		t.Fatalf("DeleteTask: %v %v", ok, err)
	}
}
