package models

// Event types sent to realtime subscribers of a task.
const (
	EventTaskUpdated          = "task_updated"
	EventNewMessages          = "new_messages"
	EventPlanApproved         = "plan_approved"
	EventPlanChangesRequested = "plan_changes_requested"
)

// Event is a server→client frame on the realtime channel. Type discriminates
// which of the optional fields is populated. new_messages carries the full
// ordered message list for the task so consumers resync rather than patch.
type Event struct {
	Type     string    `json:"type"`
	Task     *Task     `json:"task,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Feedback string    `json:"feedback,omitempty"`
}

// TaskUpdated builds a task_updated event.
func TaskUpdated(t Task) Event {
	return Event{Type: EventTaskUpdated, Task: &t}
}

// NewMessages builds a new_messages event with the full message list.
func NewMessages(msgs []Message) Event {
	return Event{Type: EventNewMessages, Messages: msgs}
}

// PlanApproved builds a plan_approved event.
func PlanApproved(t Task) Event {
	return Event{Type: EventPlanApproved, Task: &t}
}

// PlanChangesRequested builds a plan_changes_requested event carrying the raw
// feedback so subscribers can react without a second fetch.
func PlanChangesRequested(t Task, feedback string) Event {
	return Event{Type: EventPlanChangesRequested, Task: &t, Feedback: feedback}
}

// ChatFrame is the client→server frame on the realtime channel.
type ChatFrame struct {
	Type    string `json:"type"` // "chat"
	Content string `json:"content"`
}
