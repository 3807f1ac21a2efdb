package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole distinguishes user and assistant messages in the session tree.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one node in a session's conversation tree. parent_id links to
// the preceding message; thread_id is constant along a linear path and
// changes only when a branch is forked.
type Message struct {
	ID                     uuid.UUID   `json:"id"`
	SessionID              uuid.UUID   `json:"session_id"`
	ParentID               *uuid.UUID  `json:"parent_id,omitempty"`
	Role                   MessageRole `json:"role"`
	Content                string      `json:"content"`
	GeneratedSQL           string      `json:"generated_sql,omitempty"`
	TablesUsed             []string    `json:"tables_used,omitempty"`
	ValidationPassed       *bool       `json:"validation_passed,omitempty"`
	IsBranchPoint          bool        `json:"is_branch_point"`
	CheckpointID           string      `json:"checkpoint_id,omitempty"`
	TokenCount             int         `json:"token_count"`
	CreatedAt              time.Time   `json:"created_at"`
	IsFewShot              bool        `json:"is_few_shot"`
	UserAnswer             string      `json:"user_answer,omitempty"`
	ClarificationQuestions []string    `json:"clarification_questions,omitempty"`
	ThreadID               string      `json:"thread_id,omitempty"`
	BranchID               *uuid.UUID  `json:"branch_id,omitempty"`
	RootMessageID          *uuid.UUID  `json:"root_message_id,omitempty"`
}

// ConversationTurn is the in-memory view of one resolved question along the
// active thread, derived from the message tree for history management.
type ConversationTurn struct {
	Question   string    `json:"question"`
	SQL        string    `json:"sql"`
	TablesUsed []string  `json:"tables_used,omitempty"`
	MessageID  uuid.UUID `json:"message_id"`
	TokenCount int       `json:"token_count"`
}
