// Package conversation manages multi-turn history: token-budgeted history
// windows, cached-context table merging and topic shift detection.
package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/config"
	"github.com/easysql-ai/easysql-engine/pkg/contextbuilder"
	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// Manager implements the conversation concerns the agent graph consumes.
type Manager struct {
	planner llm.ChatClient
	cfg     *config.ConversationConfig
	logger  *zap.Logger
}

func NewManager(planner llm.ChatClient, cfg *config.ConversationConfig, logger *zap.Logger) *Manager {
	return &Manager{
		planner: planner,
		cfg:     cfg,
		logger:  logger.Named("conversation"),
	}
}

// turnTokens estimates a turn's cost as rendered into the history window.
func turnTokens(t models.ConversationTurn) int {
	if t.TokenCount > 0 {
		return t.TokenCount
	}
	return contextbuilder.EstimateTokens(t.Question) + contextbuilder.EstimateTokens(t.SQL)
}

// selectTurns walks history newest-first and keeps turns while they fit the
// budget and the hard turn cap. Returns the kept turns oldest-first and the
// turns that fell off.
func (m *Manager) selectTurns(turns []models.ConversationTurn, available int) (kept, dropped []models.ConversationTurn) {
	maxTurns := m.cfg.MaxHistoryTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}

	used := 0
	cut := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := turnTokens(turns[i])
		if used+cost > available || len(turns)-cut >= maxTurns {
			break
		}
		used += cost
		cut = i
	}
	return turns[cut:], turns[:cut]
}

const summaryPrompt = `Summarize these earlier question/SQL pairs of a database conversation in at most three sentences.
Mention the tables and filters that were in play. Return only the summary.`

// summarize compresses dropped turns into one line, degrading to a count
// marker when the model is unavailable.
func (m *Manager) summarize(ctx context.Context, dropped []models.ConversationTurn) string {
	fallback := fmt.Sprintf("[history summary: %d turns]", len(dropped))
	if m.planner == nil {
		return fallback
	}

	var b strings.Builder
	for _, t := range dropped {
		fmt.Fprintf(&b, "Q: %s\nSQL: %s\n", t.Question, t.SQL)
	}

	resp, err := m.planner.Chat(ctx, &llm.ChatRequest{
		System:   summaryPrompt,
		Messages: []llm.Message{llm.NewUserMessage(b.String())},
	})
	if err != nil {
		m.logger.Warn("history summarization failed, using count marker", zap.Error(err))
		return fallback
	}
	if text := strings.TrimSpace(resp.Content); text != "" {
		return text
	}
	return fallback
}

// BuildHistory converts resolved turns into chat messages fitting the
// context budget left after schema context and the reserved response
// window. Older turns beyond the budget collapse into a system summary.
func (m *Manager) BuildHistory(ctx context.Context, turns []models.ConversationTurn, schemaTokens int) []llm.Message {
	if len(turns) == 0 {
		return nil
	}

	available := m.cfg.MaxContextTokens - schemaTokens - m.cfg.ReservedResponseTokens
	if available <= 0 {
		m.logger.Warn("no token budget left for history",
			zap.Int("schema_tokens", schemaTokens),
			zap.Int("max_context_tokens", m.cfg.MaxContextTokens))
		return nil
	}

	kept, dropped := m.selectTurns(turns, available)

	var messages []llm.Message
	if len(dropped) > 0 {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "Earlier conversation: " + m.summarize(ctx, dropped)})
	}
	for _, t := range kept {
		messages = append(messages,
			llm.NewUserMessage(t.Question),
			llm.NewAssistantMessage(fmt.Sprintf("```sql\n%s\n```", t.SQL)))
	}
	return messages
}
