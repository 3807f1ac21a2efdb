package models

// StreamEventType identifies the server-sent event kinds emitted while a
// query runs.
type StreamEventType string

const (
	EventStart         StreamEventType = "start"
	EventStateUpdate   StreamEventType = "state_update"
	EventToken         StreamEventType = "token"
	EventAgentProgress StreamEventType = "agent_progress"
	EventComplete      StreamEventType = "complete"
	EventError         StreamEventType = "error"
)

// AgentAction identifies what the SQL agent is doing within an iteration.
type AgentAction string

const (
	ActionThinking        AgentAction = "thinking"
	ActionToolStart       AgentAction = "tool_start"
	ActionToolEnd         AgentAction = "tool_end"
	ActionThoughtComplete AgentAction = "thought_complete"
	ActionForceValidation AgentAction = "force_validation"
)

// StreamEvent is one event on a query stream.
type StreamEvent struct {
	Type StreamEventType `json:"event"`
	Data any             `json:"data,omitempty"`
}

// TokenData carries one LLM token chunk.
type TokenData struct {
	Iteration int    `json:"iteration"`
	Content   string `json:"content"`
}

// AgentProgressData reports SQL-agent loop activity.
type AgentProgressData struct {
	Iteration     int         `json:"iteration"`
	Action        AgentAction `json:"action"`
	Tool          string      `json:"tool,omitempty"`
	Success       *bool       `json:"success,omitempty"`
	InputPreview  string      `json:"input_preview,omitempty"`
	OutputPreview string      `json:"output_preview,omitempty"`
}

// ErrorData carries a terminal stream error.
type ErrorData struct {
	Error string `json:"error"`
}

// NewErrorEvent builds an error stream event.
func NewErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventError, Data: ErrorData{Error: msg}}
}
