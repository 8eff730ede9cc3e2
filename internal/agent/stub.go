package agent

import (
	"context"

	"github.com/taskdeck/taskdeck/pkg/models"
)

// Stub is a deterministic local collaborator that produces plausible results
// without calling any external LLM. Used in dev mode and tests.
type Stub struct{}

// StubRoster returns a Roster with all three roles backed by Stub.
func StubRoster() Roster {
	s := Stub{}
	return Roster{Analyzer: s, Planner: s, Chatter: s}
}

func (Stub) AnalyzeTask(ctx context.Context, description string) (models.ManagerAnalysis, error) {
	return models.ManagerAnalysis{
		RequiredAgents: []string{models.AgentPlanner, models.AgentProgrammer},
		Assessment:     "stub: straightforward change, plan before executing",
	}, nil
}

func (Stub) CreatePlan(ctx context.Context, description string, analysis models.ManagerAnalysis) (models.ExecutionPlan, error) {
	return models.ExecutionPlan{
		Title:   "Stub plan",
		Summary: "Deterministic plan for: " + description,
		Steps: []models.PlanStep{
			{Description: "Reproduce the issue", EstimatedMinutes: 15},
			{Description: "Apply the fix", Files: []string{"main.go"}, EstimatedMinutes: 30},
			{Description: "Add regression test", Files: []string{"main_test.go"}, EstimatedMinutes: 20},
		},
		Risks: []string{"stub: none identified"},
	}, nil
}

func (Stub) ChatReply(ctx context.Context, message string, cctx ChatContext) (string, error) {
	return "stub: acknowledged (" + cctx.Status + ")", nil
}
