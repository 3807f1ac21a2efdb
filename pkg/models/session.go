package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a query session.
type SessionStatus string

const (
	SessionPending               SessionStatus = "pending"
	SessionProcessing            SessionStatus = "processing"
	SessionAwaitingClarification SessionStatus = "awaiting_clarification"
	SessionCompleted             SessionStatus = "completed"
	SessionFailed                SessionStatus = "failed"
)

// CanTransitionTo reports whether moving to next is a legal status change.
// The transitions form a DAG with an awaiting_clarification <-> processing
// loop for the clarification round-trips.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionPending:
		return next == SessionProcessing || next == SessionFailed
	case SessionProcessing:
		return next == SessionAwaitingClarification || next == SessionCompleted || next == SessionFailed
	case SessionAwaitingClarification:
		return next == SessionProcessing || next == SessionFailed
	case SessionCompleted, SessionFailed:
		// Terminal for a turn; a new question restarts processing.
		return next == SessionProcessing
	}
	return false
}

// Session is one conversation with a target database. Turns are kept in
// insertion order; Messages form a tree keyed by parent_id.
type Session struct {
	ID               uuid.UUID           `json:"id"`
	DBName           string              `json:"db_name,omitempty"`
	Status           SessionStatus       `json:"status"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	RawQuery         string              `json:"raw_query,omitempty"`
	GeneratedSQL     string              `json:"generated_sql,omitempty"`
	ValidationPassed *bool               `json:"validation_passed,omitempty"`
	Title            string              `json:"title,omitempty"`
	Turns            []*Turn             `json:"turns,omitempty"`
	Messages         map[string]*Message `json:"-"`
}

// Turn is a single user question and its resolution, including any
// clarification round-trips.
type Turn struct {
	ID               uuid.UUID        `json:"id"`
	SessionID        uuid.UUID        `json:"session_id"`
	TurnID           string           `json:"turn_id"`
	Question         string           `json:"question"`
	Status           SessionStatus    `json:"status"`
	Clarifications   []*Clarification `json:"clarifications,omitempty"`
	FinalSQL         string           `json:"final_sql,omitempty"`
	ValidationPassed bool             `json:"validation_passed"`
	ChartPlan        []byte           `json:"chart_plan,omitempty"` // opaque JSON
	ChartReasoning   string           `json:"chart_reasoning,omitempty"`
	Error            string           `json:"error,omitempty"`
	Position         int              `json:"position"`
	CreatedAt        time.Time        `json:"created_at"`
}

// PendingClarification returns the turn's unanswered clarification, if any.
// The session invariant keeps at most one of these per turn.
func (t *Turn) PendingClarification() *Clarification {
	for _, c := range t.Clarifications {
		if c.Answer == nil {
			return c
		}
	}
	return nil
}

// Clarification is a set of questions the agent asked before proceeding.
// Answer stays nil while the session is suspended.
type Clarification struct {
	ID        uuid.UUID `json:"id"`
	Position  int       `json:"position"`
	Questions []string  `json:"questions"`
	Answer    *string   `json:"answer,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
