package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/agent"
	"github.com/taskdeck/taskdeck/internal/otel"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// Chat ingests one user chat message for a task. In order: the user message
// is appended, the chat collaborator is invoked with the task state and a
// bounded slice of recent history, the reply is appended attributed to the
// agent matching the current status (planner while planning, programmer
// otherwise), and a new_messages event with the full refreshed list is
// published. A collaborator failure ends the sequence after the user message:
// no reply, no broadcast, task state untouched.
func (e *Engine) Chat(ctx context.Context, taskID, content string) error {
	unlock := e.locks.Lock(taskID)
	defer unlock()

	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: chat content is required", ErrValidation)
	}
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := e.store.CreateMessage(ctx, store.MessageDraft{
		TaskID:  taskID,
		Sender:  models.SenderUser,
		Content: content,
		Type:    models.MessageChat,
	}); err != nil {
		return err
	}

	history, err := e.store.ListRecentMessagesByTask(ctx, taskID, e.historyWindow)
	if err != nil {
		return err
	}
	start := time.Now()
	reply, err := e.agents.Chatter.ChatReply(ctx, content, agent.ChatContext{
		Status:      t.Status,
		AgentStates: t.AgentStates,
		History:     history,
	})
	otel.RecordAgentCall(ctx, "chat", time.Since(start))
	if err != nil {
		e.log.Error("chat collaborator failed", "task_id", taskID, "error", err)
		return fmt.Errorf("%w: chat: %v", ErrCollaborator, err)
	}

	sender := models.AgentProgrammer
	if t.Status == models.StatusPlanning {
		sender = models.AgentPlanner
	}
	if _, err := e.store.CreateMessage(ctx, store.MessageDraft{
		TaskID:  taskID,
		Sender:  sender,
		Content: reply,
		Type:    models.MessageChat,
	}); err != nil {
		return err
	}

	all, err := e.store.ListMessagesByTask(ctx, taskID)
	if err != nil {
		return err
	}
	e.hub.Publish(taskID, models.NewMessages(all))
	return nil
}
