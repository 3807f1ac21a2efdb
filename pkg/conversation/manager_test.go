package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/config"
	"github.com/easysql-ai/easysql-engine/pkg/contextbuilder"
	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

func testConfig() *config.ConversationConfig {
	return &config.ConversationConfig{
		MaxContextTokens:       12000,
		ReservedResponseTokens: 2000,
		MaxHistoryTurns:        10,
	}
}

func turn(i, tokens int) models.ConversationTurn {
	return models.ConversationTurn{
		Question:   fmt.Sprintf("question %d", i),
		SQL:        fmt.Sprintf("SELECT %d", i),
		TokenCount: tokens,
	}
}

func TestBuildHistoryAllTurnsFit(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())

	turns := []models.ConversationTurn{turn(1, 100), turn(2, 100)}
	messages := m.BuildHistory(context.Background(), turns, 1000)

	require.Len(t, messages, 4)
	assert.Equal(t, llm.RoleUser, messages[0].Role)
	assert.Equal(t, "question 1", messages[0].Content)
	assert.Equal(t, llm.RoleAssistant, messages[1].Role)
	assert.Contains(t, messages[1].Content, "```sql\nSELECT 1\n```")
	assert.Equal(t, "question 2", messages[2].Content)
}

func TestBuildHistoryDropsOldTurnsWithSummary(t *testing.T) {
	planner := llm.NewMockClient("Earlier the user explored orders by region.")
	m := NewManager(planner, testConfig(), zap.NewNop())

	// Budget after schema/reserve: 12000 - 9500 - 2000 = 500 tokens.
	turns := []models.ConversationTurn{turn(1, 300), turn(2, 300), turn(3, 300)}
	messages := m.BuildHistory(context.Background(), turns, 9500)

	// One summary plus the single newest turn that fits.
	require.Len(t, messages, 3)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "orders by region")
	assert.Equal(t, "question 3", messages[1].Content)
}

func TestBuildHistorySummaryFallback(t *testing.T) {
	planner := &llm.MockClient{
		ChatFunc: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("llm down")
		},
	}
	m := NewManager(planner, testConfig(), zap.NewNop())

	turns := []models.ConversationTurn{turn(1, 300), turn(2, 300), turn(3, 300)}
	messages := m.BuildHistory(context.Background(), turns, 9500)

	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0].Content, "[history summary: 2 turns]")
}

func TestBuildHistoryHardTurnCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHistoryTurns = 2
	m := NewManager(llm.NewMockClient("summary"), cfg, zap.NewNop())

	var turns []models.ConversationTurn
	for i := 1; i <= 5; i++ {
		turns = append(turns, turn(i, 10))
	}
	messages := m.BuildHistory(context.Background(), turns, 0)

	// Summary + two turn pairs.
	require.Len(t, messages, 5)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, "question 4", messages[1].Content)
	assert.Equal(t, "question 5", messages[3].Content)
}

func TestBuildHistoryBudgetInvariant(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	schemaTokens := 9000

	var turns []models.ConversationTurn
	for i := 0; i < 20; i++ {
		turns = append(turns, turn(i, 150))
	}
	messages := m.BuildHistory(context.Background(), turns, schemaTokens)

	total := 0
	for _, msg := range messages {
		total += contextbuilder.EstimateTokens(msg.Content)
	}
	assert.LessOrEqual(t, total, m.cfg.MaxContextTokens-schemaTokens-m.cfg.ReservedResponseTokens+
		contextbuilder.EstimateTokens("[history summary: 20 turns]"))
}

func TestBuildHistoryNoBudget(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	assert.Nil(t, m.BuildHistory(context.Background(), []models.ConversationTurn{turn(1, 10)}, 11000))
}

func TestBuildHistoryEmpty(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	assert.Nil(t, m.BuildHistory(context.Background(), nil, 0))
}

func TestSelectTurnsIdempotent(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())

	turns := []models.ConversationTurn{turn(1, 300), turn(2, 300), turn(3, 300)}
	kept, dropped := m.selectTurns(turns, 650)
	require.Len(t, kept, 2)
	require.Len(t, dropped, 1)

	// Re-running on the already-compressed window changes nothing.
	kept2, dropped2 := m.selectTurns(kept, 650)
	assert.Equal(t, kept, kept2)
	assert.Empty(t, dropped2)
}

func TestMergeTablesTypedUnion(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())

	cached := &contextbuilder.Result{Tables: []string{"orders", "customers"}}
	got := m.MergeTables(cached, []string{"customers", "products"})
	assert.Equal(t, []string{"orders", "customers", "products"}, got)
}

func TestMergeTablesMarkerFallback(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())

	cached := &contextbuilder.Result{User: "表名: visit, patient\n\n## visit\n..."}
	got := m.MergeTables(cached, []string{"patient", "department"})
	assert.Equal(t, []string{"visit", "patient", "department"}, got)
}

func TestMergeTablesNoCache(t *testing.T) {
	m := NewManager(nil, testConfig(), zap.NewNop())
	assert.Equal(t, []string{"a"}, m.MergeTables(nil, []string{"a"}))
	assert.Equal(t, []string{"a"}, m.MergeTables(&contextbuilder.Result{}, []string{"a"}))
}

func TestParseTableMarker(t *testing.T) {
	assert.Equal(t, []string{"orders", "customers"}, ParseTableMarker("表名: orders, customers"))
	assert.Equal(t, []string{"orders"}, ParseTableMarker("intro\n表名: orders\nrest"))
	assert.Nil(t, ParseTableMarker("no marker here"))
	assert.Nil(t, ParseTableMarker("表名:"))
}

func TestDetectShiftNoCachedContext(t *testing.T) {
	m := NewManager(llm.NewMockClient("{}"), testConfig(), zap.NewNop())

	shift, reason := m.DetectShift(context.Background(), nil, nil, nil, "q")
	assert.True(t, shift)
	assert.Equal(t, "no_cached_context", reason)
}

func TestDetectShiftNoTablesInCache(t *testing.T) {
	m := NewManager(llm.NewMockClient("{}"), testConfig(), zap.NewNop())

	shift, reason := m.DetectShift(context.Background(), &contextbuilder.Result{}, &models.RetrievalResult{}, nil, "q")
	assert.True(t, shift)
	assert.Equal(t, "no_tables_in_cache", reason)
}

func TestDetectShiftModelDecision(t *testing.T) {
	planner := llm.NewMockClient(`{"needs_new_tables": false, "reason": "same orders topic", "suggested_tables": []}`)
	m := NewManager(planner, testConfig(), zap.NewNop())

	cached := &contextbuilder.Result{Tables: []string{"orders"}}
	shift, reason := m.DetectShift(context.Background(), cached, nil, []models.ConversationTurn{turn(1, 10)}, "and by month?")
	assert.False(t, shift)
	assert.Equal(t, "same orders topic", reason)
}

func TestDetectShiftModelRequestsNewTables(t *testing.T) {
	planner := llm.NewMockClient(`{"needs_new_tables": true, "reason": "question moved to inventory"}`)
	m := NewManager(planner, testConfig(), zap.NewNop())

	cached := &contextbuilder.Result{Tables: []string{"orders"}}
	shift, reason := m.DetectShift(context.Background(), cached, nil, nil, "what about stock levels?")
	assert.True(t, shift)
	assert.Equal(t, "question moved to inventory", reason)
}

func TestDetectShiftErrorIsConservative(t *testing.T) {
	planner := &llm.MockClient{
		ChatFunc: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("timeout")
		},
	}
	m := NewManager(planner, testConfig(), zap.NewNop())

	cached := &contextbuilder.Result{Tables: []string{"orders"}}
	shift, reason := m.DetectShift(context.Background(), cached, nil, nil, "q")
	assert.True(t, shift)
	assert.Contains(t, reason, "detection_error")
}
