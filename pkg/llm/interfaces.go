// Package llm provides multi-provider chat clients for SQL generation
// and planning calls.
package llm

import (
	"context"
)

// Purpose selects which model a client is built for. Generation covers SQL
// drafting and repair; planning covers query analysis, clarification and
// visualization planning.
type Purpose string

const (
	PurposeGeneration Purpose = "generation"
	PurposePlanning   Purpose = "planning"
)

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
// Arguments is the raw JSON argument object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is a provider-independent chat completion request.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the final result of one model turn. A turn ends either
// with assistant text, tool calls, or both.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// StreamChunk is one incremental piece of assistant text.
type StreamChunk struct {
	Content string
}

// StreamFunc receives text chunks during streaming. Returning an error
// aborts the stream.
type StreamFunc func(StreamChunk) error

// ChatClient defines the interface for LLM chat operations.
// Use this interface for dependency injection to enable mocking in tests.
type ChatClient interface {
	// Chat performs a single non-streaming completion.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream performs a streaming completion, invoking onChunk for each
	// text delta, and returns the assembled response including any tool calls.
	ChatStream(ctx context.Context, req *ChatRequest, onChunk StreamFunc) (*ChatResponse, error)

	// Provider returns the provider name (google, anthropic, openai, ollama).
	Provider() string

	// Model returns the configured model name.
	Model() string
}

// Compile-time interface checks for the provider implementations.
var (
	_ ChatClient = (*OpenAIClient)(nil)
	_ ChatClient = (*AnthropicClient)(nil)
	_ ChatClient = (*GoogleClient)(nil)
	_ ChatClient = (*MockClient)(nil)
)

// NewUserMessage builds a user-role message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage builds an assistant-role message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolResultMessage builds a tool-role message carrying one tool's output.
func NewToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}
