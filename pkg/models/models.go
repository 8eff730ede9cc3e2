// Package models provides shared types for the taskdeck HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// User is a registered account that owns repositories and tasks.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	GithubToken string    `json:"github_token,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Repository is a source repository a task can be scoped to.
type Repository struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	URL       string    `json:"url"`
	Owner     string    `json:"owner"`
	UserID    *string   `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// AgentStates tracks the per-role substate of the three agents working a task.
type AgentStates struct {
	Manager    string `json:"manager"`
	Planner    string `json:"planner"`
	Programmer string `json:"programmer"`
}

// ActiveAgent returns the foreground agent for display: programmer over planner
// over manager, considering only active-like substates. Empty when no agent is
// currently working.
func (a AgentStates) ActiveAgent() string {
	if activeLike(a.Programmer) {
		return AgentProgrammer
	}
	if activeLike(a.Planner) {
		return AgentPlanner
	}
	if activeLike(a.Manager) {
		return AgentManager
	}
	return ""
}

func activeLike(s string) bool {
	return s == AgentStateActive || s == AgentStateWorking || s == AgentStateRevising
}

// PlanStep is one ordered step of an execution plan.
type PlanStep struct {
	Description      string   `json:"description"`
	Files            []string `json:"files,omitempty"`
	EstimatedMinutes int      `json:"estimated_minutes,omitempty"`
}

// CodeChange is a proposed change attached to a plan (path plus unified diff).
type CodeChange struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// ExecutionPlan is the planner's human-reviewable proposal for a task.
type ExecutionPlan struct {
	Title           string       `json:"title"`
	Summary         string       `json:"summary,omitempty"`
	Steps           []PlanStep   `json:"steps"`
	Risks           []string     `json:"risks,omitempty"`
	ProposedChanges []CodeChange `json:"proposed_changes,omitempty"`
}

// ManagerAnalysis is the manager's assessment of a freshly created task.
type ManagerAnalysis struct {
	RequiredAgents []string `json:"required_agents"`
	Assessment     string   `json:"assessment"`
}

// Task is a unit of work tracked through the fixed lifecycle, with per-agent
// states and the optional plan under review.
type Task struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Description       string           `json:"description,omitempty"`
	Status            string           `json:"status"`
	Priority          string           `json:"priority"`
	Progress          int              `json:"progress"`
	RepositoryID      *string          `json:"repository_id,omitempty"`
	UserID            *string          `json:"user_id,omitempty"`
	GithubIssueNumber *int             `json:"github_issue_number,omitempty"`
	PullRequestNumber *int             `json:"pull_request_number,omitempty"`
	AgentStates       AgentStates      `json:"agent_states"`
	Plan              *ExecutionPlan   `json:"plan,omitempty"`
	Analysis          *ManagerAnalysis `json:"analysis,omitempty"`
	CreatedAt         time.Time        `json:"created_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at,omitempty"`
}

// Message is an immutable chat/transcript entry attributed to a sender.
type Message struct {
	MessageID int64             `json:"message_id"`
	TaskID    string            `json:"task_id"`
	Sender    string            `json:"sender"`
	Content   string            `json:"content"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
}

// Activity is an immutable audit-log entry describing a state change.
type Activity struct {
	ActivityID  int64             `json:"activity_id"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	TaskID      *string           `json:"task_id,omitempty"`
	UserID      *string           `json:"user_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at,omitempty"`
}

// State is the GET /state response: a user's tasks plus recent activities.
type State struct {
	Tasks      []Task     `json:"tasks"`
	Activities []Activity `json:"activities"`
}
