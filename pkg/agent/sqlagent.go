package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
	"github.com/easysql-ai/easysql-engine/pkg/sqlexec"
)

// Tool names bound to the SQL agent.
const (
	toolValidateSQL   = "validate_sql"
	toolSearchObjects = "search_objects"
)

const previewLen = 120

// sqlAgent is the tool-using generation loop. One graph node drives an
// inner iteration budget; the model calls validate_sql and search_objects
// until it produces SQL that passes a live probe.
type sqlAgent struct {
	llm           llm.ChatClient
	exec          sqlexec.Executor
	maxIterations int
	logger        *zap.Logger
}

func newSQLAgent(client llm.ChatClient, exec sqlexec.Executor, maxIterations int, logger *zap.Logger) *sqlAgent {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &sqlAgent{
		llm:           client,
		exec:          exec,
		maxIterations: maxIterations,
		logger:        logger.Named("sql_agent"),
	}
}

func (a *sqlAgent) tools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		llm.NewToolDefinition(toolValidateSQL,
			"Validate a SQL statement against the live database. Returns SUCCESS or ERROR with the database message.",
			map[string]llm.ParameterProperty{
				"sql": {Type: "string", Description: "The SQL statement to validate"},
			},
			[]string{"sql"}),
		llm.NewToolDefinition(toolSearchObjects,
			"Search live database objects by name pattern. Use when unsure whether a table, column or index exists.",
			map[string]llm.ParameterProperty{
				"object_type":  {Type: "string", Description: "Kind of object to search", Enum: []string{"table", "column", "index"}},
				"pattern":      {Type: "string", Description: "LIKE-style name pattern; bare text matches as substring"},
				"detail_level": {Type: "string", Description: "How much detail per result", Enum: []string{"names", "summary", "full"}},
			},
			[]string{"object_type", "pattern"}),
	}
}

const agentSystemSuffix = `

You have tools to validate SQL and inspect the live database. Validate your SQL with validate_sql before presenting it.
When you are done, present the final SQL in a sql code fence.`

// run is the agent_sql graph node.
func (a *sqlAgent) run(ctx context.Context, s *State, emit EmitFunc) (*Delta, error) {
	if s.Context == nil {
		return nil, fmt.Errorf("no context to generate from")
	}

	messages := []llm.Message{llm.NewUserMessage(s.Context.User)}
	tools := a.tools()
	system := s.Context.System + agentSystemSuffix

	var (
		lastSQL       string
		lastError     string
		validatedSQL  = make(map[string]bool)
		validateCalls int
	)

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		progress(emit, iteration, models.ActionThinking, "", nil, "", "")

		resp, err := a.llm.ChatStream(ctx, &llm.ChatRequest{
			System:   system,
			Messages: messages,
			Tools:    tools,
		}, tokenRelay(emit, iteration))
		if err != nil {
			return nil, fmt.Errorf("agent LLM call failed: %w", err)
		}

		progress(emit, iteration, models.ActionThoughtComplete, "", nil, "", preview(resp.Content))

		if len(resp.ToolCalls) > 0 {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
			for _, call := range resp.ToolCalls {
				observation, ok := a.dispatch(ctx, s.DBName, call, emit, iteration)
				if call.Name == toolValidateSQL {
					validateCalls++
					if sql := validateArg(call.Arguments); sql != "" {
						lastSQL = sql
						validatedSQL[normalizeForDedup(sql)] = ok
						if ok {
							lastError = ""
						} else {
							lastError = observation
						}
					}
				}
				messages = append(messages, llm.NewToolResultMessage(call.ID, observation))
			}
			continue
		}

		sql := ExtractSQL(resp.Content)
		if sql == "" {
			messages = append(messages,
				llm.NewAssistantMessage(resp.Content),
				llm.NewUserMessage("No SQL statement found in your reply. Provide the SQL in a sql code fence, or call a tool."))
			continue
		}
		lastSQL = sql

		if passed, seen := validatedSQL[normalizeForDedup(sql)]; seen && passed {
			return a.finish(sql, true, "", validateCalls), nil
		}

		// The model presented SQL without validating it; validate on its
		// behalf.
		progress(emit, iteration, models.ActionForceValidation, toolValidateSQL, nil, preview(sql), "")
		observation, ok := a.validate(ctx, s.DBName, sql)
		validateCalls++
		validatedSQL[normalizeForDedup(sql)] = ok
		progress(emit, iteration, models.ActionToolEnd, toolValidateSQL, &ok, preview(sql), preview(observation))

		if ok {
			return a.finish(sql, true, "", validateCalls), nil
		}
		lastError = observation
		messages = append(messages,
			llm.NewAssistantMessage(resp.Content),
			llm.NewUserMessage(fmt.Sprintf("The SQL failed with: %s. Please fix it and validate again.", observation)))
	}

	a.logger.Warn("agent iteration budget exhausted",
		zap.String("db", s.DBName),
		zap.Int("iterations", a.maxIterations))
	return a.finish(lastSQL, false, lastError, validateCalls), nil
}

func (a *sqlAgent) finish(sql string, passed bool, lastError string, validateCalls int) *Delta {
	result := "SUCCESS"
	if !passed {
		result = lastError
		if result == "" {
			result = "validation not completed within the iteration budget"
		}
	}
	retries := validateCalls - 1
	if retries < 0 {
		retries = 0
	}
	return &Delta{
		GeneratedSQL:     ptr(sql),
		ValidationPassed: ptr(passed),
		ValidationResult: ptr(result),
		RetryCount:       ptr(retries),
	}
}

// dispatch runs one tool call and returns the observation text.
func (a *sqlAgent) dispatch(ctx context.Context, dbName string, call llm.ToolCall, emit EmitFunc, iteration int) (string, bool) {
	progress(emit, iteration, models.ActionToolStart, call.Name, nil, preview(call.Arguments), "")

	var (
		observation string
		ok          bool
	)
	switch call.Name {
	case toolValidateSQL:
		sql := validateArg(call.Arguments)
		if sql == "" {
			observation = "ERROR: validate_sql requires a sql argument"
		} else {
			observation, ok = a.validate(ctx, dbName, sql)
		}
	case toolSearchObjects:
		observation, ok = a.searchObjects(ctx, dbName, call.Arguments)
	default:
		observation = fmt.Sprintf("ERROR: unknown tool %q", call.Name)
	}

	progress(emit, iteration, models.ActionToolEnd, call.Name, &ok, preview(call.Arguments), preview(observation))
	return observation, ok
}

// validate executes the SQL with a one-row cap so the database parses,
// plans and runs it without materializing a result set.
func (a *sqlAgent) validate(ctx context.Context, dbName, sql string) (string, bool) {
	result, err := a.exec.Execute(ctx, dbName, sql, &sqlexec.ExecOptions{Limit: 1})
	if err != nil {
		return "ERROR: " + err.Error(), false
	}
	if !result.Success {
		return "ERROR: " + result.Error, false
	}
	return fmt.Sprintf("SUCCESS: statement is valid (%d row(s) sampled in %dms)", result.RowCount, result.DurationMS), true
}

type searchObjectsArgs struct {
	ObjectType  string `json:"object_type"`
	Pattern     string `json:"pattern"`
	DetailLevel string `json:"detail_level"`
}

func (a *sqlAgent) searchObjects(ctx context.Context, dbName, arguments string) (string, bool) {
	var args searchObjectsArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "ERROR: invalid search_objects arguments: " + err.Error(), false
	}
	if args.DetailLevel == "" {
		args.DetailLevel = "summary"
	}

	listing, err := a.exec.SearchObjects(ctx, dbName, args.ObjectType, args.Pattern, args.DetailLevel)
	if err != nil {
		return "ERROR: " + err.Error(), false
	}
	return listing, true
}

type validateSQLArgs struct {
	SQL string `json:"sql"`
}

func validateArg(arguments string) string {
	var args validateSQLArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ""
	}
	return strings.TrimSpace(args.SQL)
}

// normalizeForDedup makes whitespace-variant statements compare equal in
// the validated-SQL set.
func normalizeForDedup(sql string) string {
	return strings.Join(strings.Fields(strings.TrimSuffix(strings.TrimSpace(sql), ";")), " ")
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "..."
}

func progress(emit EmitFunc, iteration int, action models.AgentAction, tool string, success *bool, input, output string) {
	if emit == nil {
		return
	}
	emit(models.StreamEvent{
		Type: models.EventAgentProgress,
		Data: models.AgentProgressData{
			Iteration:     iteration,
			Action:        action,
			Tool:          tool,
			Success:       success,
			InputPreview:  input,
			OutputPreview: output,
		},
	})
}
