package models

// Task statuses used throughout the codebase. Completed and failed are terminal.
const (
	StatusPending        = "pending"
	StatusPlanning       = "planning"
	StatusExecuting      = "executing"
	StatusReviewRequired = "review_required"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
)

// TerminalStatus reports whether status is completed or failed.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Agent roles. SenderUser joins them as a message sender.
const (
	AgentManager    = "manager"
	AgentPlanner    = "planner"
	AgentProgrammer = "programmer"
	SenderUser      = "user"
)

// Per-agent substates. Not every substate is valid for every role: the manager
// uses pending/active/complete/error, the planner and programmer start at
// waiting and can pass through working; only the planner revises.
const (
	AgentStatePending  = "pending"
	AgentStateWaiting  = "waiting"
	AgentStateActive   = "active"
	AgentStateWorking  = "working"
	AgentStateRevising = "revising"
	AgentStateComplete = "complete"
	AgentStateError    = "error"
)

// Message types.
const (
	MessageChat         = "chat"
	MessagePlan         = "plan"
	MessageCodeDiff     = "code_diff"
	MessageSystem       = "system"
	MessagePlanFeedback = "plan_feedback"
)

// Activity types emitted by the state machine.
const (
	ActivityTaskCreated          = "task_created"
	ActivityAnalysisRecorded     = "analysis_recorded"
	ActivityPlanReady            = "plan_ready"
	ActivityPlanApproved         = "plan_approved"
	ActivityPlanChangesRequested = "plan_changes_requested"
	ActivityTaskCompleted        = "task_completed"
	ActivityTaskFailed           = "task_failed"
	ActivityManagerError         = "manager_error"
	ActivityPlannerError         = "planner_error"
	ActivityProgrammerError      = "programmer_error"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultActivityListLimit   = 10
	DefaultChatHistoryWindow   = 20
	DefaultHubChannelBuffer    = 256
)
