// Package agent implements the compiled query graph: analysis,
// clarification interrupts, retrieval, context building, SQL generation
// and validation, with checkpointed resume and event streaming.
package agent

import (
	"github.com/easysql-ai/easysql-engine/pkg/contextbuilder"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// State is the typed graph state. It serializes to JSON for checkpoints,
// so every field must round-trip through encoding/json.
type State struct {
	RawQuery               string                    `json:"raw_query"`
	ClarifiedQuery         string                    `json:"clarified_query,omitempty"`
	ClarificationQuestions []string                  `json:"clarification_questions,omitempty"`
	PendingAnswer          string                    `json:"pending_answer,omitempty"`
	SchemaHint             string                    `json:"schema_hint,omitempty"`
	Retrieval              *models.RetrievalResult   `json:"retrieval_result,omitempty"`
	Context                *contextbuilder.Result    `json:"context_output,omitempty"`
	GeneratedSQL           string                    `json:"generated_sql,omitempty"`
	ValidationResult       string                    `json:"validation_result,omitempty"`
	ValidationPassed       *bool                     `json:"validation_passed,omitempty"`
	RetryCount             int                       `json:"retry_count"`
	Error                  string                    `json:"error,omitempty"`
	DBName                 string                    `json:"db_name,omitempty"`
	History                []models.ConversationTurn `json:"conversation_history,omitempty"`
	CachedContext          *contextbuilder.Result    `json:"cached_context,omitempty"`
	CachedRetrieval        *models.RetrievalResult   `json:"cached_retrieval,omitempty"`
	CurrentMessageID       string                    `json:"current_message_id,omitempty"`
	ParentMessageID        string                    `json:"parent_message_id,omitempty"`
	NeedsNewRetrieval      bool                      `json:"needs_new_retrieval"`
	ShiftReason            string                    `json:"shift_reason,omitempty"`
	FewShot                []models.FewShotExample   `json:"few_shot_examples,omitempty"`
}

// Question returns the text downstream nodes should work from: the
// clarified query once clarification resolved, otherwise the raw query.
func (s *State) Question() string {
	if s.ClarifiedQuery != "" {
		return s.ClarifiedQuery
	}
	return s.RawQuery
}

// Delta is a partial state update returned by a node. Nil fields leave the
// running state untouched; pointers distinguish "unset" from zero values.
type Delta struct {
	ClarifiedQuery         *string
	ClarificationQuestions []string
	PendingAnswer          *string
	SchemaHint             *string
	Retrieval              *models.RetrievalResult
	Context                *contextbuilder.Result
	GeneratedSQL           *string
	ValidationResult       *string
	ValidationPassed       *bool
	RetryCount             *int
	Error                  *string
	NeedsNewRetrieval      *bool
	ShiftReason            *string
	FewShot                []models.FewShotExample
}

// apply merges the delta into the state. Updates land atomically at node
// boundaries; nodes never mutate the state directly.
func (s *State) apply(d *Delta) {
	if d == nil {
		return
	}
	if d.ClarifiedQuery != nil {
		s.ClarifiedQuery = *d.ClarifiedQuery
	}
	if d.ClarificationQuestions != nil {
		s.ClarificationQuestions = d.ClarificationQuestions
	}
	if d.PendingAnswer != nil {
		s.PendingAnswer = *d.PendingAnswer
	}
	if d.SchemaHint != nil {
		s.SchemaHint = *d.SchemaHint
	}
	if d.Retrieval != nil {
		s.Retrieval = d.Retrieval
	}
	if d.Context != nil {
		s.Context = d.Context
	}
	if d.GeneratedSQL != nil {
		s.GeneratedSQL = *d.GeneratedSQL
	}
	if d.ValidationResult != nil {
		s.ValidationResult = *d.ValidationResult
	}
	if d.ValidationPassed != nil {
		s.ValidationPassed = d.ValidationPassed
	}
	if d.RetryCount != nil {
		s.RetryCount = *d.RetryCount
	}
	if d.Error != nil {
		s.Error = *d.Error
	}
	if d.NeedsNewRetrieval != nil {
		s.NeedsNewRetrieval = *d.NeedsNewRetrieval
	}
	if d.ShiftReason != nil {
		s.ShiftReason = *d.ShiftReason
	}
	if d.FewShot != nil {
		s.FewShot = d.FewShot
	}
}

// sanitizedPatch converts a delta into the whitelisted map emitted on
// state_update events. Large payloads collapse to counts.
func sanitizedPatch(node string, d *Delta) map[string]any {
	patch := map[string]any{"node": node}
	if d == nil {
		return patch
	}
	if d.ClarifiedQuery != nil {
		patch["clarified_query"] = *d.ClarifiedQuery
	}
	if d.ClarificationQuestions != nil {
		patch["clarification_questions"] = d.ClarificationQuestions
	}
	if d.Retrieval != nil {
		patch["tables"] = d.Retrieval.Tables
		patch["table_count"] = len(d.Retrieval.Tables)
	}
	if d.Context != nil {
		patch["context_tokens"] = d.Context.TokenCount
		patch["context_sections"] = len(d.Context.Sections)
	}
	if d.GeneratedSQL != nil {
		patch["generated_sql"] = *d.GeneratedSQL
	}
	if d.ValidationPassed != nil {
		patch["validation_passed"] = *d.ValidationPassed
	}
	if d.ValidationResult != nil {
		patch["validation_result"] = *d.ValidationResult
	}
	if d.RetryCount != nil {
		patch["retry_count"] = *d.RetryCount
	}
	if d.Error != nil {
		patch["error"] = *d.Error
	}
	if d.NeedsNewRetrieval != nil {
		patch["needs_new_retrieval"] = *d.NeedsNewRetrieval
	}
	if d.ShiftReason != nil {
		patch["shift_reason"] = *d.ShiftReason
	}
	return patch
}

func ptr[T any](v T) *T { return &v }
