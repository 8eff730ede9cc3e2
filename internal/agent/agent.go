// Package agent defines the collaborator interfaces the lifecycle core calls
// into. Collaborators are opaque: their latency and failure modes matter to
// the core, their content does not. Implementations: Stub (dev/tests) and
// Client (OpenAI-compatible HTTP API).
package agent

import (
	"context"

	"github.com/taskdeck/taskdeck/pkg/models"
)

// ChatContext is the bounded slice of task state handed to the conversational
// collaborator: current status, agent states, and the most recent messages.
type ChatContext struct {
	Status      string
	AgentStates models.AgentStates
	History     []models.Message
}

// Analyzer assesses a freshly created task.
type Analyzer interface {
	AnalyzeTask(ctx context.Context, description string) (models.ManagerAnalysis, error)
}

// Planner produces a human-reviewable execution plan.
type Planner interface {
	CreatePlan(ctx context.Context, description string, analysis models.ManagerAnalysis) (models.ExecutionPlan, error)
}

// Chatter produces a conversational reply in task context.
type Chatter interface {
	ChatReply(ctx context.Context, message string, cctx ChatContext) (string, error)
}

// Roster bundles the three collaborator roles the core consumes.
type Roster struct {
	Analyzer Analyzer
	Planner  Planner
	Chatter  Chatter
}
