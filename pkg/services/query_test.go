package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/agent"
	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
	"github.com/easysql-ai/easysql-engine/pkg/config"
	"github.com/easysql-ai/easysql-engine/pkg/graphstore"
	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
	"github.com/easysql-ai/easysql-engine/pkg/retrieval"
	"github.com/easysql-ai/easysql-engine/pkg/session"
	"github.com/easysql-ai/easysql-engine/pkg/sqlexec"
	"github.com/easysql-ai/easysql-engine/pkg/vectorstore"
	"github.com/easysql-ai/easysql-engine/pkg/viz"
)

type serviceFixture struct {
	svc      *QueryService
	sessions session.Store
	vectors  *vectorstore.MockStore
	executor *sqlexec.MockExecutor
}

func newFixture(t *testing.T, generator, planner llm.ChatClient, executor *sqlexec.MockExecutor) *serviceFixture {
	t.Helper()

	reader := graphstore.NewMemoryReader("medical",
		map[string]models.TableMeta{
			"patient": {Name: "patient", Description: "Registered patients"},
			"visit":   {Name: "visit", Description: "Patient visits"},
		},
		map[string][]models.ColumnInfo{
			"patient": {
				{Name: "patient_id", DataType: "bigint", IsPK: true, OrdinalPosition: 1},
				{Name: "name", DataType: "text", OrdinalPosition: 2},
			},
			"visit": {
				{Name: "visit_id", DataType: "bigint", IsPK: true, OrdinalPosition: 1},
				{Name: "patient_id", DataType: "bigint", IsFK: true, OrdinalPosition: 2},
				{Name: "visit_date", DataType: "date", OrdinalPosition: 3},
			},
		},
		[]models.JoinPath{{FKTable: "visit", FKColumn: "patient_id", PKTable: "patient", PKColumn: "patient_id"}},
	)

	vectors := &vectorstore.MockStore{
		SearchTablesFunc: func(ctx context.Context, query string, topK int, dbName string) ([]models.TableHit, error) {
			return []models.TableHit{{TableName: "patient", DBName: "medical", Score: 0.9}}, nil
		},
	}

	retrievalCfg := &config.RetrievalConfig{
		TopK: 5, ExpandFK: true, ExpandMaxDepth: 1, ColumnTopK: 5,
		FewShotTopK: 3, FewShotMinScore: 0.6,
	}
	if executor == nil {
		executor = &sqlexec.MockExecutor{}
	}

	deps := &agent.Deps{
		Generator: generator,
		Planner:   planner,
		Retriever: retrieval.NewPipeline(vectors, reader, nil, retrievalCfg, zap.NewNop()),
		Vectors:   vectors,
		Executor:  executor,
		Retrieval: retrievalCfg,
		Agent:     &config.AgentConfig{UseAgentMode: false, MaxIterations: 5, MaxRepairRetries: 2},
		Logger:    zap.NewNop(),
	}
	g, err := agent.NewGraph(deps)
	require.NoError(t, err)
	runner := agent.NewRunner(g, agent.NewMemoryCheckpointer(), zap.NewNop())

	sessions := session.NewMemoryStore(100, zap.NewNop())
	svc := NewQueryService(sessions, runner, executor, vectors, viz.NewPlanner(nil, zap.NewNop()), zap.NewNop())
	return &serviceFixture{svc: svc, sessions: sessions, vectors: vectors, executor: executor}
}

func noClarification() *llm.MockClient {
	return llm.NewMockClient(`{"needs_clarification": false, "questions": [], "schema_hint": ""}`)
}

func TestQueryCompletesAndPersists(t *testing.T) {
	f := newFixture(t, llm.NewMockClient("```sql\nSELECT name FROM patient\n```"), noClarification(), nil)
	ctx := context.Background()

	var events []models.StreamEvent
	resp, err := f.svc.Query(ctx, &QueryRequest{DBName: "medical", Question: "list patients"}, func(e models.StreamEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "SELECT name FROM patient", resp.SQL)
	require.NotNil(t, resp.ValidationPassed)
	assert.True(t, *resp.ValidationPassed)
	assert.Contains(t, resp.Tables, "patient")

	require.NotEmpty(t, events)
	assert.Equal(t, models.EventStart, events[0].Type)
	assert.Equal(t, models.EventComplete, events[len(events)-1].Type)

	s, err := f.sessions.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, s.Status)
	assert.Equal(t, "list patients", s.RawQuery)
	require.Len(t, s.Turns, 1)
	assert.Equal(t, "SELECT name FROM patient", s.Turns[0].FinalSQL)
	assert.True(t, s.Turns[0].ValidationPassed)
	// User and assistant messages recorded for history.
	assert.Len(t, s.Messages, 2)
}

func TestQueryRequiresQuestion(t *testing.T) {
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), nil)
	_, err := f.svc.Query(context.Background(), &QueryRequest{Question: "   "}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestQueryRejectsBusySession(t *testing.T) {
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), nil)
	ctx := context.Background()

	id := uuid.New()
	_, err := f.sessions.Create(ctx, id, "medical")
	require.NoError(t, err)
	require.NoError(t, f.sessions.UpdateStatus(ctx, id, models.SessionProcessing))

	_, err = f.svc.Query(ctx, &QueryRequest{SessionID: &id, Question: "q"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)
}

func TestClarificationRoundTrip(t *testing.T) {
	planner := &llm.MockClient{}
	planner.ChatFunc = func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if len(planner.ChatCalls) == 1 {
			return &llm.ChatResponse{Content: `{"needs_clarification": true, "questions": ["use create_time or visit_date?"]}`}, nil
		}
		return &llm.ChatResponse{Content: "show recent visits by visit_date"}, nil
	}
	generator := llm.NewMockClient("```sql\nSELECT * FROM visit ORDER BY visit_date DESC\n```")
	f := newFixture(t, generator, planner, nil)
	ctx := context.Background()

	resp, err := f.svc.Query(ctx, &QueryRequest{DBName: "medical", Question: "show recent visits"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_clarification", resp.Status)
	require.NotNil(t, resp.Clarification)
	assert.Contains(t, resp.Clarification.Questions[0], "visit_date")
	assert.Equal(t, "show recent visits", resp.Clarification.RawQuery)

	s, err := f.sessions.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAwaitingClarification, s.Status)
	require.Len(t, s.Turns, 1)
	require.NotNil(t, s.Turns[0].PendingClarification())

	final, err := f.svc.Continue(ctx, resp.SessionID, "use visit_date", nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", final.Status)
	assert.Contains(t, final.SQL, "visit_date")

	s, err = f.sessions.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, s.Status)
	assert.Nil(t, s.Turns[0].PendingClarification())
}

func TestContinueRequiresSuspendedSession(t *testing.T) {
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), nil)
	ctx := context.Background()

	id := uuid.New()
	_, err := f.sessions.Create(ctx, id, "medical")
	require.NoError(t, err)

	_, err = f.svc.Continue(ctx, id, "answer", nil)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestQueryFailureMarksSessionFailed(t *testing.T) {
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), nil)
	f.vectors.SearchTablesFunc = func(ctx context.Context, query string, topK int, dbName string) ([]models.TableHit, error) {
		return nil, assert.AnError
	}
	ctx := context.Background()

	resp, err := f.svc.Query(ctx, &QueryRequest{DBName: "medical", Question: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "failed", resp.Status)
	assert.NotEmpty(t, resp.Error)

	s, err := f.sessions.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, s.Status)
	assert.Equal(t, models.SessionFailed, s.Turns[0].Status)
}

func TestExecuteForbiddenMutation(t *testing.T) {
	executor := &sqlexec.MockExecutor{
		ExecuteFunc: func(ctx context.Context, dbName, sqlText string, opts *sqlexec.ExecOptions) (*sqlexec.ExecutionResult, error) {
			report := sqlexec.CheckSQL(sqlText)
			if report.IsMutation && !opts.AllowMutation {
				return &sqlexec.ExecutionResult{
					Success: false,
					Error:   "FORBIDDEN: Mutation statement (DELETE) rejected; set allow_mutation to run it",
				}, nil
			}
			return &sqlexec.ExecutionResult{Success: true}, nil
		},
	}
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), executor)

	resp, err := f.svc.Execute(context.Background(), &ExecuteRequest{
		SQL: "DELETE FROM patient", DBName: "medical", AllowMutation: false,
	})
	require.NoError(t, err)
	assert.Equal(t, "forbidden", resp.Status)
	assert.Contains(t, resp.Error, "Mutation statement")
	assert.Zero(t, resp.Result.RowCount)
}

func TestExecuteWithVisualization(t *testing.T) {
	executor := &sqlexec.MockExecutor{
		ExecuteFunc: func(ctx context.Context, dbName, sqlText string, opts *sqlexec.ExecOptions) (*sqlexec.ExecutionResult, error) {
			return &sqlexec.ExecutionResult{
				Success: true,
				Columns: []string{"month", "orders"},
				Rows: [][]any{
					{"2024-01", 10}, {"2024-02", 20}, {"2024-03", 15},
				},
				RowCount: 3,
			}, nil
		},
	}
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), executor)

	resp, err := f.svc.Execute(context.Background(), &ExecuteRequest{
		SQL: "SELECT month, orders FROM sales", Question: "orders per month", Visualize: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Status)
	require.NotNil(t, resp.Chart)
	require.True(t, resp.Chart.Suitable)
	assert.Equal(t, models.ChartLine, resp.Chart.Charts[0].ChartType)

	require.Len(t, resp.ChartData, 1)
	points := resp.ChartData[0].Points
	require.Len(t, points, 3)
	assert.Equal(t, "2024-01", points[0].Label)
	assert.Equal(t, 10.0, points[0].Value)
}

func TestPromoteFewShot(t *testing.T) {
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), nil)
	ctx := context.Background()

	sessionID := uuid.New()
	_, err := f.sessions.Create(ctx, sessionID, "medical")
	require.NoError(t, err)

	userMsg := &models.Message{ID: uuid.New(), SessionID: sessionID, Role: models.MessageRoleUser, Content: "how many patients"}
	require.NoError(t, f.sessions.AddMessage(ctx, userMsg))
	assistant := &models.Message{
		ID: uuid.New(), SessionID: sessionID, ParentID: &userMsg.ID,
		Role: models.MessageRoleAssistant, GeneratedSQL: "SELECT COUNT(*) FROM patient",
		TablesUsed: []string{"patient"},
	}
	require.NoError(t, f.sessions.AddMessage(ctx, assistant))

	var inserted *models.FewShotExample
	f.vectors.InsertFewShotFunc = func(ctx context.Context, example *models.FewShotExample) (string, error) {
		inserted = example
		return example.ID, nil
	}

	id, err := f.svc.PromoteFewShot(ctx, assistant.ID)
	require.NoError(t, err)
	assert.Equal(t, assistant.ID.String(), id)
	require.NotNil(t, inserted)
	assert.Equal(t, "how many patients", inserted.Question)
	assert.Equal(t, "medical", inserted.DBName)
	assert.Equal(t, []string{"patient"}, inserted.TablesUsed)

	got, err := f.sessions.GetMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFewShot)
}

func TestPromoteFewShotDuplicateSurfacesExistingID(t *testing.T) {
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), nil)
	ctx := context.Background()

	sessionID := uuid.New()
	_, err := f.sessions.Create(ctx, sessionID, "medical")
	require.NoError(t, err)
	assistant := &models.Message{
		ID: uuid.New(), SessionID: sessionID,
		Role: models.MessageRoleAssistant, GeneratedSQL: "SELECT 1", Content: "q",
	}
	require.NoError(t, f.sessions.AddMessage(ctx, assistant))

	f.vectors.InsertFewShotFunc = func(ctx context.Context, example *models.FewShotExample) (string, error) {
		return "existing-id", apperrors.ErrDuplicateExample
	}

	id, err := f.svc.PromoteFewShot(ctx, assistant.ID)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateExample)
	assert.Equal(t, "existing-id", id)

	// The message stays unflagged on a duplicate.
	got, err := f.sessions.GetMessage(ctx, assistant.ID)
	require.NoError(t, err)
	assert.False(t, got.IsFewShot)
}

func TestPromoteFewShotRejectsUserMessage(t *testing.T) {
	f := newFixture(t, llm.NewMockClient("x"), noClarification(), nil)
	ctx := context.Background()

	sessionID := uuid.New()
	_, err := f.sessions.Create(ctx, sessionID, "medical")
	require.NoError(t, err)
	msg := &models.Message{ID: uuid.New(), SessionID: sessionID, Role: models.MessageRoleUser, Content: "q"}
	require.NoError(t, f.sessions.AddMessage(ctx, msg))

	_, err = f.svc.PromoteFewShot(ctx, msg.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
