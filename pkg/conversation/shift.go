package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/contextbuilder"
	"github.com/easysql-ai/easysql-engine/pkg/jsonutil"
	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// Shift reasons for skipping or forcing retrieval.
const (
	reasonNoCachedContext = "no_cached_context"
	reasonNoTablesInCache = "no_tables_in_cache"
)

// shiftDecision keeps reason and suggested_tables raw; models sometimes
// emit a number or a bare string where a string or array was asked for.
type shiftDecision struct {
	NeedsNewTables  bool            `json:"needs_new_tables"`
	Reason          json.RawMessage `json:"reason"`
	SuggestedTables json.RawMessage `json:"suggested_tables"`
}

const shiftPrompt = `A user is asking follow-up questions about a database. Decide whether the new question needs schema tables beyond the ones already in scope.
Respond with JSON only:
{"needs_new_tables": bool, "reason": "...", "suggested_tables": ["..."]}`

// DetectShift decides whether the question needs fresh retrieval. Errors
// resolve conservatively toward re-retrieving.
func (m *Manager) DetectShift(ctx context.Context, cached *contextbuilder.Result, cachedRetrieval *models.RetrievalResult, turns []models.ConversationTurn, question string) (bool, string) {
	if cached == nil {
		return true, reasonNoCachedContext
	}
	if len(cached.Tables) == 0 && (cachedRetrieval == nil || len(cachedRetrieval.Tables) == 0) {
		return true, reasonNoTablesInCache
	}
	if m.planner == nil {
		return true, "detection_error: no planning model configured"
	}

	tables := cached.Tables
	if len(tables) == 0 {
		tables = cachedRetrieval.Tables
	}

	var history strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&history, "Q: %s\n", t.Question)
	}

	prompt := fmt.Sprintf("Tables in scope: %s\n\nEarlier questions:\n%s\nNew question: %s",
		strings.Join(tables, ", "), history.String(), question)

	resp, err := m.planner.Chat(ctx, &llm.ChatRequest{
		System:   shiftPrompt,
		Messages: []llm.Message{llm.NewUserMessage(prompt)},
	})
	if err != nil {
		m.logger.Warn("shift detection failed, forcing retrieval", zap.Error(err))
		return true, "detection_error: " + err.Error()
	}

	decision, err := llm.ParseJSONResponse[shiftDecision](resp.Content)
	if err != nil {
		m.logger.Warn("shift detection returned unparseable output, forcing retrieval", zap.Error(err))
		return true, "detection_error: " + err.Error()
	}

	reason := jsonutil.FlexibleStringValue(decision.Reason)
	if decision.NeedsNewTables {
		if suggested := jsonutil.FlexibleStringSlice(decision.SuggestedTables); len(suggested) > 0 {
			m.logger.Debug("shift detection suggested tables", zap.Strings("tables", suggested))
		}
		if reason == "" {
			reason = "model requested new tables"
		}
		return true, reason
	}
	if reason == "" {
		reason = "cached tables cover the question"
	}
	return false, reason
}
