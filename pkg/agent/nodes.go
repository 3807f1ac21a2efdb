package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/config"
	"github.com/easysql-ai/easysql-engine/pkg/contextbuilder"
	"github.com/easysql-ai/easysql-engine/pkg/jsonutil"
	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
	"github.com/easysql-ai/easysql-engine/pkg/retrieval"
	"github.com/easysql-ai/easysql-engine/pkg/sqlexec"
	"github.com/easysql-ai/easysql-engine/pkg/vectorstore"
)

// Node names.
const (
	NodeAnalyze      = "analyze"
	NodeClarify      = "clarify"
	NodeRetrieve     = "retrieve"
	NodeBuildContext = "build_context"
	NodeGenerateSQL  = "generate_sql"
	NodeValidateSQL  = "validate_sql"
	NodeRepairSQL    = "repair_sql"
	NodeAgentSQL     = "agent_sql"
)

// ConversationManager is the slice of the multi-turn manager the graph
// nodes use: history windows, shift detection and cached-table merging.
type ConversationManager interface {
	// BuildHistory converts resolved turns into chat messages within the
	// token budget reserved after schema context.
	BuildHistory(ctx context.Context, turns []models.ConversationTurn, schemaTokens int) []llm.Message
	// DetectShift decides whether the question needs fresh retrieval.
	DetectShift(ctx context.Context, cached *contextbuilder.Result, cachedRetrieval *models.RetrievalResult, turns []models.ConversationTurn, question string) (bool, string)
	// MergeTables unions previously scoped tables with newly retrieved ones.
	MergeTables(cached *contextbuilder.Result, tables []string) []string
}

// Deps carries everything the nodes need. All fields are shared and must
// be safe for concurrent use.
type Deps struct {
	Generator    llm.ChatClient
	Planner      llm.ChatClient
	Retriever    *retrieval.Pipeline
	Vectors      vectorstore.Reader
	Executor     sqlexec.Executor
	Conversation ConversationManager
	Retrieval    *config.RetrievalConfig
	Agent        *config.AgentConfig
	Logger       *zap.Logger
}

// NewGraph compiles the query graph. With agent mode on, the naive
// generate/validate/repair loop is replaced by the tool-using agent node.
func NewGraph(deps *Deps) (*Graph, error) {
	n := &nodes{deps: deps, logger: deps.Logger.Named("agent")}

	b := NewBuilder().
		AddNode(NodeAnalyze, n.analyze).
		AddNode(NodeClarify, n.clarify).
		AddNode(NodeRetrieve, n.retrieve).
		AddNode(NodeBuildContext, n.buildContext).
		AddEdge(Start, NodeAnalyze).
		AddRouter(NodeAnalyze, routeAfterAnalyze).
		AddEdge(NodeClarify, NodeRetrieve).
		AddEdge(NodeRetrieve, NodeBuildContext)

	if deps.Agent.UseAgentMode {
		sa := newSQLAgent(deps.Generator, deps.Executor, deps.Agent.MaxIterations, n.logger)
		b.AddNode(NodeAgentSQL, sa.run).
			AddEdge(NodeBuildContext, NodeAgentSQL).
			AddEdge(NodeAgentSQL, End)
	} else {
		maxRetries := deps.Agent.MaxRepairRetries
		b.AddNode(NodeGenerateSQL, n.generateSQL).
			AddNode(NodeValidateSQL, n.validateSQL).
			AddNode(NodeRepairSQL, n.repairSQL).
			AddEdge(NodeBuildContext, NodeGenerateSQL).
			AddEdge(NodeGenerateSQL, NodeValidateSQL).
			AddRouter(NodeValidateSQL, routeAfterValidate(maxRetries)).
			AddEdge(NodeRepairSQL, NodeValidateSQL)
	}

	return b.Compile()
}

// routeAfterAnalyze sends unresolved clarifications to the clarify node.
func routeAfterAnalyze(s *State) string {
	if len(s.ClarificationQuestions) > 0 && s.ClarifiedQuery == "" {
		return NodeClarify
	}
	return NodeRetrieve
}

// routeAfterValidate ends on success or exhausted retries, otherwise
// loops through repair.
func routeAfterValidate(maxRetries int) RouteFunc {
	return func(s *State) string {
		if s.ValidationPassed != nil && *s.ValidationPassed {
			return End
		}
		if s.RetryCount < maxRetries {
			return NodeRepairSQL
		}
		return End
	}
}

type nodes struct {
	deps   *Deps
	logger *zap.Logger
}

// Questions and schema_hint stay raw; models occasionally emit a bare
// string for the array or a number for the hint.
type analysisOutput struct {
	NeedsClarification bool            `json:"needs_clarification"`
	Questions          json.RawMessage `json:"questions"`
	SchemaHint         json.RawMessage `json:"schema_hint"`
}

const analyzePrompt = `You review a natural-language database question before SQL generation.
If the question is ambiguous in a way that changes the SQL (ambiguous column choice, unclear time range, unclear entity), ask for clarification.
Respond with JSON only:
{"needs_clarification": bool, "questions": ["..."], "schema_hint": "keywords that describe the tables involved"}`

// analyze decides whether clarification is needed and whether cached
// context can be reused for a follow-up question.
func (n *nodes) analyze(ctx context.Context, s *State, _ EmitFunc) (*Delta, error) {
	delta := &Delta{}

	needsRetrieval, reason := true, "no_cached_context"
	if n.deps.Conversation != nil {
		needsRetrieval, reason = n.deps.Conversation.DetectShift(ctx, s.CachedContext, s.CachedRetrieval, s.History, s.RawQuery)
	}
	delta.NeedsNewRetrieval = ptr(needsRetrieval)
	delta.ShiftReason = ptr(reason)

	resp, err := n.deps.Planner.Chat(ctx, &llm.ChatRequest{
		System:   analyzePrompt,
		Messages: []llm.Message{llm.NewUserMessage(s.RawQuery)},
	})
	if err != nil {
		// Analysis is advisory; generation proceeds without it.
		n.logger.Warn("query analysis failed, skipping clarification", zap.Error(err))
		return delta, nil
	}

	parsed, err := llm.ParseJSONResponse[analysisOutput](resp.Content)
	if err != nil {
		n.logger.Warn("query analysis returned unparseable output", zap.Error(err))
		return delta, nil
	}

	if hint := jsonutil.FlexibleStringValue(parsed.SchemaHint); hint != "" {
		delta.SchemaHint = ptr(hint)
	}
	if questions := jsonutil.FlexibleStringSlice(parsed.Questions); parsed.NeedsClarification && len(questions) > 0 {
		delta.ClarificationQuestions = questions
	}
	return delta, nil
}

const foldAnswerPrompt = `Rewrite the user's original question into a single self-contained question that incorporates their clarification answer.
Return only the rewritten question, no commentary.`

// clarify suspends until an answer arrives, then folds the answer into a
// clarified query text.
func (n *nodes) clarify(ctx context.Context, s *State, _ EmitFunc) (*Delta, error) {
	if s.PendingAnswer == "" {
		return nil, NewClarificationInterrupt(s.ClarificationQuestions, s.RawQuery)
	}

	prompt := fmt.Sprintf("Original question: %s\nClarification asked: %s\nUser answer: %s",
		s.RawQuery, strings.Join(s.ClarificationQuestions, "; "), s.PendingAnswer)

	clarified := fmt.Sprintf("%s (%s)", s.RawQuery, s.PendingAnswer)
	resp, err := n.deps.Planner.Chat(ctx, &llm.ChatRequest{
		System:   foldAnswerPrompt,
		Messages: []llm.Message{llm.NewUserMessage(prompt)},
	})
	if err != nil {
		n.logger.Warn("failed to fold clarification answer, using concatenation", zap.Error(err))
	} else if text := strings.TrimSpace(resp.Content); text != "" {
		clarified = text
	}

	return &Delta{
		ClarifiedQuery: ptr(clarified),
		PendingAnswer:  ptr(""),
	}, nil
}

// retrieve runs the schema retrieval pipeline, or reuses the cached result
// when shift detection saw no topic change.
func (n *nodes) retrieve(ctx context.Context, s *State, _ EmitFunc) (*Delta, error) {
	if !s.NeedsNewRetrieval && s.CachedRetrieval != nil {
		n.logger.Debug("reusing cached retrieval",
			zap.String("reason", s.ShiftReason),
			zap.Int("tables", len(s.CachedRetrieval.Tables)))
		return &Delta{Retrieval: s.CachedRetrieval}, nil
	}

	question := s.Question()
	if s.SchemaHint != "" {
		question = question + "\n" + s.SchemaHint
	}

	result, err := n.deps.Retriever.Retrieve(ctx, &retrieval.Request{
		Question: question,
		DBName:   s.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("schema retrieval failed: %w", err)
	}

	delta := &Delta{Retrieval: result}

	if n.deps.Vectors != nil {
		examples, err := n.deps.Vectors.SearchFewShot(ctx, s.Question(), s.DBName,
			n.deps.Retrieval.FewShotTopK, n.deps.Retrieval.FewShotMinScore)
		if err != nil {
			n.logger.Warn("few-shot search failed", zap.Error(err))
		} else {
			delta.FewShot = examples
		}
	}
	return delta, nil
}

// buildContext renders the generation prompt, unioning cached tables from
// earlier turns into the schema scope.
func (n *nodes) buildContext(ctx context.Context, s *State, _ EmitFunc) (*Delta, error) {
	retrievalResult := s.Retrieval
	if retrievalResult == nil {
		return nil, fmt.Errorf("no retrieval result to build context from")
	}

	if s.CachedContext != nil && n.deps.Conversation != nil {
		merged := n.deps.Conversation.MergeTables(s.CachedContext, retrievalResult.Tables)
		if len(merged) > len(retrievalResult.Tables) {
			copied := *retrievalResult
			copied.Tables = merged
			retrievalResult = &copied
		}
	}

	var code []models.CodeChunk
	if n.deps.Vectors != nil {
		chunks, err := n.deps.Vectors.SearchCodeChunks(ctx, s.Question(), 3, 0.5, retrievalResult.Tables)
		if err != nil {
			n.logger.Warn("code chunk search failed", zap.Error(err))
		} else {
			code = chunks
		}
	}

	built := contextbuilder.Build(&contextbuilder.Input{
		Question:  s.Question(),
		Retrieval: retrievalResult,
		FewShot:   s.FewShot,
		Code:      code,
		Dialect:   n.deps.Executor.Dialect(s.DBName),
		Options:   contextbuilder.Options{HighlightSemantic: true},
	})

	return &Delta{Context: built}, nil
}

// generateSQL drafts SQL from the built context, streaming tokens out.
func (n *nodes) generateSQL(ctx context.Context, s *State, emit EmitFunc) (*Delta, error) {
	if s.Context == nil {
		return nil, fmt.Errorf("no context to generate from")
	}

	messages := n.historyMessages(ctx, s)
	messages = append(messages, llm.NewUserMessage(s.Context.User))

	resp, err := n.deps.Generator.ChatStream(ctx, &llm.ChatRequest{
		System:   s.Context.System,
		Messages: messages,
	}, tokenRelay(emit, s.RetryCount))
	if err != nil {
		return nil, fmt.Errorf("SQL generation failed: %w", err)
	}

	sql := ExtractSQL(resp.Content)
	if sql == "" {
		return nil, fmt.Errorf("model response contained no SQL statement")
	}
	return &Delta{GeneratedSQL: ptr(sql)}, nil
}

// validateSQL probes the generated SQL against the live dialect.
func (n *nodes) validateSQL(ctx context.Context, s *State, _ EmitFunc) (*Delta, error) {
	if s.GeneratedSQL == "" {
		return &Delta{
			ValidationPassed: ptr(false),
			ValidationResult: ptr("no SQL generated"),
		}, nil
	}

	result, err := n.deps.Executor.CheckSyntax(ctx, s.DBName, s.GeneratedSQL)
	if err != nil {
		return nil, fmt.Errorf("syntax probe failed: %w", err)
	}

	if result.Success {
		return &Delta{
			ValidationPassed: ptr(true),
			ValidationResult: ptr("SUCCESS"),
		}, nil
	}
	return &Delta{
		ValidationPassed: ptr(false),
		ValidationResult: ptr(result.Error),
	}, nil
}

const repairPrompt = `The SQL statement you produced failed validation. Fix it.
Return only the corrected SQL statement in a sql code fence.`

// repairSQL asks the model to fix a failed statement.
func (n *nodes) repairSQL(ctx context.Context, s *State, emit EmitFunc) (*Delta, error) {
	retry := s.RetryCount + 1

	prompt := fmt.Sprintf("Question: %s\n\nFailed SQL:\n```sql\n%s\n```\n\nValidation error: %s",
		s.Question(), s.GeneratedSQL, s.ValidationResult)

	messages := []llm.Message{llm.NewUserMessage(s.Context.User), llm.NewAssistantMessage(s.GeneratedSQL), llm.NewUserMessage(prompt)}
	resp, err := n.deps.Generator.ChatStream(ctx, &llm.ChatRequest{
		System:   s.Context.System + "\n" + repairPrompt,
		Messages: messages,
	}, tokenRelay(emit, retry))
	if err != nil {
		return nil, fmt.Errorf("SQL repair failed: %w", err)
	}

	sql := ExtractSQL(resp.Content)
	if sql == "" {
		sql = s.GeneratedSQL
	}

	n.logger.Info("repaired SQL",
		zap.Int("retry", retry),
		zap.String("db", s.DBName))

	return &Delta{
		GeneratedSQL: ptr(sql),
		RetryCount:   ptr(retry),
	}, nil
}

func (n *nodes) historyMessages(ctx context.Context, s *State) []llm.Message {
	if n.deps.Conversation == nil || len(s.History) == 0 {
		return nil
	}
	schemaTokens := 0
	if s.Context != nil {
		schemaTokens = s.Context.TokenCount
	}
	return n.deps.Conversation.BuildHistory(ctx, s.History, schemaTokens)
}

// tokenRelay forwards LLM text chunks as token events.
func tokenRelay(emit EmitFunc, iteration int) llm.StreamFunc {
	if emit == nil {
		return nil
	}
	return func(chunk llm.StreamChunk) error {
		if chunk.Content != "" {
			emit(models.StreamEvent{
				Type: models.EventToken,
				Data: models.TokenData{Iteration: iteration, Content: chunk.Content},
			})
		}
		return nil
	}
}

var (
	sqlFenceRe  = regexp.MustCompile("(?s)```sql\\s*(.*?)```")
	anyFenceRe  = regexp.MustCompile("(?s)```\\s*(.*?)```")
	bareQueryRe = regexp.MustCompile(`(?is)\b(SELECT|WITH|INSERT|UPDATE|DELETE)\b.*`)
)

// ExtractSQL pulls the SQL statement out of a model response: sql fence
// first, then any fence whose body looks like SQL, then a bare statement.
func ExtractSQL(response string) string {
	if m := sqlFenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(response); m != nil {
		body := strings.TrimSpace(m[1])
		if bareQueryRe.MatchString(body) {
			return body
		}
	}
	if m := bareQueryRe.FindString(response); m != "" {
		return strings.TrimSpace(m)
	}
	return ""
}

// HasSQLFence reports whether the response carries an explicit sql fence.
func HasSQLFence(response string) bool {
	return sqlFenceRe.MatchString(response)
}
