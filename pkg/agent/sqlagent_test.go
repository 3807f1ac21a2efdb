package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/contextbuilder"
	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
	"github.com/easysql-ai/easysql-engine/pkg/sqlexec"
)

func agentState() *State {
	return &State{
		RawQuery: "list patients",
		DBName:   "medical",
		Context: &contextbuilder.Result{
			System: "You write SQL.",
			User:   "Question: list patients\nGenerate the SQL statement.",
		},
	}
}

func scriptedStream(responses []*llm.ChatResponse) *llm.MockClient {
	i := 0
	return &llm.MockClient{
		ChatStreamFunc: func(ctx context.Context, req *llm.ChatRequest, onChunk llm.StreamFunc) (*llm.ChatResponse, error) {
			resp := responses[i]
			if i < len(responses)-1 {
				i++
			}
			if onChunk != nil && resp.Content != "" {
				_ = onChunk(llm.StreamChunk{Content: resp.Content})
			}
			return resp, nil
		},
	}
}

func TestSQLAgentValidatesViaToolThenPresents(t *testing.T) {
	client := scriptedStream([]*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: toolValidateSQL, Arguments: `{"sql": "SELECT name FROM patient"}`}}},
		{Content: "Validated.\n```sql\nSELECT name FROM patient\n```"},
	})

	var limits []int
	exec := &sqlexec.MockExecutor{
		ExecuteFunc: func(ctx context.Context, dbName, sqlText string, opts *sqlexec.ExecOptions) (*sqlexec.ExecutionResult, error) {
			limits = append(limits, opts.Limit)
			return &sqlexec.ExecutionResult{Success: true, RowCount: 1}, nil
		},
	}

	a := newSQLAgent(client, exec, 5, zap.NewNop())
	delta, err := a.run(context.Background(), agentState(), nil)
	require.NoError(t, err)

	assert.Equal(t, "SELECT name FROM patient", *delta.GeneratedSQL)
	assert.True(t, *delta.ValidationPassed)
	assert.Equal(t, "SUCCESS", *delta.ValidationResult)
	assert.Equal(t, 0, *delta.RetryCount)

	// The validate tool samples a single row.
	require.Len(t, limits, 1)
	assert.Equal(t, 1, limits[0])
}

func TestSQLAgentForceValidation(t *testing.T) {
	client := scriptedStream([]*llm.ChatResponse{
		{Content: "```sql\nSELECT name FROM patient\n```"},
	})
	exec := &sqlexec.MockExecutor{}

	var events []models.StreamEvent
	a := newSQLAgent(client, exec, 5, zap.NewNop())
	delta, err := a.run(context.Background(), agentState(), func(e models.StreamEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	assert.True(t, *delta.ValidationPassed)
	require.Len(t, exec.ExecuteCalls, 1)
	assert.Equal(t, "SELECT name FROM patient", exec.ExecuteCalls[0])

	forced := false
	for _, e := range events {
		if data, ok := e.Data.(models.AgentProgressData); ok && data.Action == models.ActionForceValidation {
			forced = true
		}
	}
	assert.True(t, forced, "expected a force_validation progress event")
}

func TestSQLAgentRepairWithSearchObjects(t *testing.T) {
	client := scriptedStream([]*llm.ChatResponse{
		{Content: "```sql\nSELECT foo FROM patient\n```"},
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: toolSearchObjects, Arguments: `{"object_type": "column", "pattern": "patient"}`}}},
		{Content: "```sql\nSELECT patient_id FROM patient\n```"},
	})

	searched := false
	exec := &sqlexec.MockExecutor{
		ExecuteFunc: func(ctx context.Context, dbName, sqlText string, opts *sqlexec.ExecOptions) (*sqlexec.ExecutionResult, error) {
			if sqlText == "SELECT foo FROM patient" {
				return &sqlexec.ExecutionResult{Success: false, Error: `column "foo" does not exist`}, nil
			}
			return &sqlexec.ExecutionResult{Success: true, RowCount: 1}, nil
		},
		SearchObjectsFunc: func(ctx context.Context, dbName, objectType, pattern, detailLevel string) (string, error) {
			searched = true
			assert.Equal(t, "column", objectType)
			return "patient.patient_id (bigint)", nil
		},
	}

	a := newSQLAgent(client, exec, 6, zap.NewNop())
	delta, err := a.run(context.Background(), agentState(), nil)
	require.NoError(t, err)

	assert.True(t, searched)
	assert.Equal(t, "SELECT patient_id FROM patient", *delta.GeneratedSQL)
	assert.True(t, *delta.ValidationPassed)
	assert.GreaterOrEqual(t, *delta.RetryCount, 1)
}

func TestSQLAgentExhaustsIterations(t *testing.T) {
	client := scriptedStream([]*llm.ChatResponse{
		{Content: "```sql\nSELECT broken FROM nowhere\n```"},
	})
	exec := &sqlexec.MockExecutor{
		ExecuteFunc: func(ctx context.Context, dbName, sqlText string, opts *sqlexec.ExecOptions) (*sqlexec.ExecutionResult, error) {
			return &sqlexec.ExecutionResult{Success: false, Error: "relation does not exist"}, nil
		},
	}

	a := newSQLAgent(client, exec, 3, zap.NewNop())
	delta, err := a.run(context.Background(), agentState(), nil)
	require.NoError(t, err)

	assert.Equal(t, "SELECT broken FROM nowhere", *delta.GeneratedSQL)
	assert.False(t, *delta.ValidationPassed)
	assert.Contains(t, *delta.ValidationResult, "does not exist")
}

func TestSQLAgentSkipsRevalidationOfKnownGoodSQL(t *testing.T) {
	client := scriptedStream([]*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: toolValidateSQL, Arguments: `{"sql": "SELECT 1"}`}}},
		{Content: "```sql\nSELECT   1\n```"}, // whitespace variant of the validated SQL
	})
	exec := &sqlexec.MockExecutor{}

	a := newSQLAgent(client, exec, 5, zap.NewNop())
	delta, err := a.run(context.Background(), agentState(), nil)
	require.NoError(t, err)

	assert.True(t, *delta.ValidationPassed)
	// Only the tool call hit the executor; the presentation did not.
	assert.Len(t, exec.ExecuteCalls, 1)
}

func TestSQLAgentNoSQLInReply(t *testing.T) {
	client := scriptedStream([]*llm.ChatResponse{
		{Content: "I think the patient table is relevant."},
		{Content: "```sql\nSELECT name FROM patient\n```"},
	})
	exec := &sqlexec.MockExecutor{}

	a := newSQLAgent(client, exec, 5, zap.NewNop())
	delta, err := a.run(context.Background(), agentState(), nil)
	require.NoError(t, err)
	assert.True(t, *delta.ValidationPassed)
}

func TestNormalizeForDedup(t *testing.T) {
	assert.Equal(t, normalizeForDedup("SELECT 1"), normalizeForDedup("  SELECT   1 ;"))
	assert.NotEqual(t, normalizeForDedup("SELECT 1"), normalizeForDedup("SELECT 2"))
}

func TestPreview(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got := preview(string(long))
	assert.Len(t, got, previewLen+3)
	assert.Equal(t, "short", preview("  short  "))
}
