// Package services glues the session store, agent runtime, executor and
// visualization planner into the operations the HTTP surface exposes.
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/agent"
	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
	"github.com/easysql-ai/easysql-engine/pkg/contextbuilder"
	"github.com/easysql-ai/easysql-engine/pkg/models"
	"github.com/easysql-ai/easysql-engine/pkg/session"
	"github.com/easysql-ai/easysql-engine/pkg/sqlexec"
	"github.com/easysql-ai/easysql-engine/pkg/vectorstore"
	"github.com/easysql-ai/easysql-engine/pkg/viz"
)

// Response is the envelope every query operation returns.
type Response struct {
	SessionID        uuid.UUID              `json:"session_id"`
	Status           string                 `json:"status"`
	SQL              string                 `json:"sql,omitempty"`
	ValidationPassed *bool                  `json:"validation_passed,omitempty"`
	ValidationError  string                 `json:"validation_error,omitempty"`
	Tables           []string               `json:"tables,omitempty"`
	Clarification    *ClarificationPayload  `json:"clarification,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// ClarificationPayload surfaces a suspended thread's pending questions.
type ClarificationPayload struct {
	Type      string   `json:"type"`
	Question  string   `json:"question"`
	Questions []string `json:"questions"`
	RawQuery  string   `json:"raw_query"`
}

// QueryRequest starts a new question. A nil SessionID creates a session.
type QueryRequest struct {
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	DBName    string     `json:"db_name,omitempty"`
	Question  string     `json:"question"`
}

// threadCache keeps the last completed run's context so follow-up
// questions can reuse retrieval when the topic has not shifted.
type threadCache struct {
	context   *contextbuilder.Result
	retrieval *models.RetrievalResult
}

// QueryService runs the question lifecycle: session bookkeeping, the agent
// graph, clarification round-trips and few-shot promotion.
type QueryService struct {
	sessions session.Store
	runner   *agent.Runner
	executor sqlexec.Executor
	vectors  vectorstore.Writer
	viz      *viz.Planner
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]*threadCache
}

func NewQueryService(sessions session.Store, runner *agent.Runner, executor sqlexec.Executor,
	vectors vectorstore.Writer, vizPlanner *viz.Planner, logger *zap.Logger) *QueryService {
	return &QueryService{
		sessions: sessions,
		runner:   runner,
		executor: executor,
		vectors:  vectors,
		viz:      vizPlanner,
		logger:   logger.Named("query"),
		cache:    make(map[uuid.UUID]*threadCache),
	}
}

// Sessions exposes the underlying store for session CRUD.
func (q *QueryService) Sessions() session.Store { return q.sessions }

// Query runs one question through the agent graph, streaming events via
// emit. The returned envelope reflects the terminal or suspended state.
func (q *QueryService) Query(ctx context.Context, req *QueryRequest, emit agent.EmitFunc) (*Response, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", apperrors.ErrInvalidInput)
	}

	s, err := q.ensureSession(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.Status == models.SessionProcessing {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrSessionBusy, s.ID)
	}
	if s.Status == models.SessionAwaitingClarification {
		return nil, fmt.Errorf("%w: session %s is awaiting a clarification answer", apperrors.ErrConflict, s.ID)
	}
	if err := q.sessions.UpdateStatus(ctx, s.ID, models.SessionProcessing); err != nil {
		return nil, err
	}

	turn := &models.Turn{
		ID:       uuid.New(),
		TurnID:   fmt.Sprintf("turn-%d", len(s.Turns)+1),
		Question: req.Question,
		Status:   models.SessionProcessing,
		Position: len(s.Turns),
	}
	if err := q.sessions.SaveTurns(ctx, s.ID, []*models.Turn{turn}); err != nil {
		return nil, err
	}

	if emit != nil {
		emit(models.StreamEvent{Type: models.EventStart, Data: map[string]any{"session_id": s.ID, "turn_id": turn.TurnID}})
	}

	state := &agent.State{
		RawQuery: req.Question,
		DBName:   s.DBName,
		History:  historyFromMessages(s),
	}
	if cached := q.cachedThread(s.ID); cached != nil {
		state.CachedContext = cached.context
		state.CachedRetrieval = cached.retrieval
	}

	result, intr, err := q.runner.Run(ctx, s.ID.String(), s.ID, state, emit)
	return q.settle(ctx, s.ID, turn, state, result, intr, err)
}

// Continue resumes a session suspended on clarification with the answer.
func (q *QueryService) Continue(ctx context.Context, sessionID uuid.UUID, answer string, emit agent.EmitFunc) (*Response, error) {
	s, err := q.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SessionAwaitingClarification {
		return nil, fmt.Errorf("%w: session %s is %s, not awaiting clarification", apperrors.ErrConflict, sessionID, s.Status)
	}
	if len(s.Turns) == 0 {
		return nil, fmt.Errorf("%w: session %s has no turn to continue", apperrors.ErrConflict, sessionID)
	}
	if err := q.sessions.UpdateStatus(ctx, sessionID, models.SessionProcessing); err != nil {
		return nil, err
	}

	turn := s.Turns[len(s.Turns)-1]
	if pending := turn.PendingClarification(); pending != nil {
		pending.Answer = &answer
		turn.Status = models.SessionProcessing
		if err := q.sessions.SaveTurns(ctx, sessionID, []*models.Turn{turn}); err != nil {
			return nil, err
		}
	}

	result, intr, err := q.runner.Resume(ctx, sessionID.String(), answer, emit)
	return q.settle(ctx, sessionID, turn, nil, result, intr, err)
}

// settle records the outcome of a run or resume on the session and turn
// and builds the response envelope. Flow errors land in the envelope; only
// store failures surface as errors.
func (q *QueryService) settle(ctx context.Context, sessionID uuid.UUID, turn *models.Turn,
	state *agent.State, result *agent.Result, intr *agent.Interrupt, runErr error) (*Response, error) {

	resp := &Response{SessionID: sessionID}

	switch {
	case runErr != nil:
		resp.Status = string(models.SessionFailed)
		resp.Error = runErr.Error()
		turn.Status = models.SessionFailed
		turn.Error = runErr.Error()
		if err := q.updateOutcome(ctx, sessionID, turn, models.SessionFailed); err != nil {
			return nil, err
		}

	case intr != nil:
		resp.Status = string(models.SessionAwaitingClarification)
		resp.Clarification = &ClarificationPayload{
			Type:      intr.Type,
			Question:  intr.Question,
			Questions: intr.Questions,
			RawQuery:  intr.RawQuery,
		}
		turn.Status = models.SessionAwaitingClarification
		turn.Clarifications = append(turn.Clarifications, &models.Clarification{
			ID:        uuid.New(),
			Position:  len(turn.Clarifications),
			Questions: intr.Questions,
		})
		if err := q.updateOutcome(ctx, sessionID, turn, models.SessionAwaitingClarification); err != nil {
			return nil, err
		}

	default:
		status := models.SessionCompleted
		if result.ValidationPassed == nil || !*result.ValidationPassed {
			status = models.SessionFailed
		}
		resp.Status = string(status)
		resp.SQL = result.GeneratedSQL
		resp.ValidationPassed = result.ValidationPassed
		resp.ValidationError = result.ValidationError
		resp.Tables = result.Tables

		turn.Status = status
		turn.FinalSQL = result.GeneratedSQL
		turn.ValidationPassed = result.ValidationPassed != nil && *result.ValidationPassed
		turn.Error = result.ValidationError
		if err := q.updateOutcome(ctx, sessionID, turn, status); err != nil {
			return nil, err
		}
		if err := q.sessions.UpdateResult(ctx, sessionID, turn.Question, result.GeneratedSQL, result.ValidationPassed); err != nil {
			q.logger.Warn("failed to record session result", zap.Error(err))
		}
		q.recordMessages(ctx, sessionID, turn, result)
		if state != nil {
			q.storeThread(sessionID, state)
		}
	}

	return resp, nil
}

func (q *QueryService) updateOutcome(ctx context.Context, sessionID uuid.UUID, turn *models.Turn, status models.SessionStatus) error {
	if err := q.sessions.SaveTurns(ctx, sessionID, []*models.Turn{turn}); err != nil {
		return err
	}
	return q.sessions.UpdateStatus(ctx, sessionID, status)
}

// recordMessages appends the user/assistant pair for a finished turn.
// Message persistence is best-effort; the envelope already carries the
// result.
func (q *QueryService) recordMessages(ctx context.Context, sessionID uuid.UUID, turn *models.Turn, result *agent.Result) {
	threadID := sessionID.String()
	userMsg := &models.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      models.MessageRoleUser,
		Content:   turn.Question,
		ThreadID:  threadID,
	}
	if err := q.sessions.AddMessage(ctx, userMsg); err != nil {
		q.logger.Warn("failed to persist user message", zap.Error(err))
		return
	}

	passed := result.ValidationPassed
	assistant := &models.Message{
		ID:               uuid.New(),
		SessionID:        sessionID,
		ParentID:         &userMsg.ID,
		Role:             models.MessageRoleAssistant,
		Content:          result.GeneratedSQL,
		GeneratedSQL:     result.GeneratedSQL,
		TablesUsed:       result.Tables,
		ValidationPassed: passed,
		ThreadID:         threadID,
		TokenCount:       contextbuilder.EstimateTokens(turn.Question) + contextbuilder.EstimateTokens(result.GeneratedSQL),
	}
	if err := q.sessions.AddMessage(ctx, assistant); err != nil {
		q.logger.Warn("failed to persist assistant message", zap.Error(err))
	}
}

func (q *QueryService) ensureSession(ctx context.Context, req *QueryRequest) (*models.Session, error) {
	if req.SessionID != nil {
		return q.sessions.Get(ctx, *req.SessionID)
	}
	return q.sessions.Create(ctx, uuid.New(), req.DBName)
}

func (q *QueryService) cachedThread(sessionID uuid.UUID) *threadCache {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cache[sessionID]
}

func (q *QueryService) storeThread(sessionID uuid.UUID, state *agent.State) {
	if state.Context == nil && state.Retrieval == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cache[sessionID] = &threadCache{context: state.Context, retrieval: state.Retrieval}
}

// historyFromMessages derives the conversation history along the session's
// thread: each assistant message carrying SQL pairs with its parent user
// question, in chronological order.
func historyFromMessages(s *models.Session) []models.ConversationTurn {
	var assistants []*models.Message
	for _, msg := range s.Messages {
		if msg.Role == models.MessageRoleAssistant && msg.GeneratedSQL != "" {
			assistants = append(assistants, msg)
		}
	}
	sortMessagesByTime(assistants)

	var turns []models.ConversationTurn
	for _, msg := range assistants {
		question := ""
		if msg.ParentID != nil {
			if parent := s.Messages[msg.ParentID.String()]; parent != nil {
				question = parent.Content
			}
		}
		turns = append(turns, models.ConversationTurn{
			Question:   question,
			SQL:        msg.GeneratedSQL,
			TablesUsed: msg.TablesUsed,
			MessageID:  msg.ID,
			TokenCount: msg.TokenCount,
		})
	}
	return turns
}

func sortMessagesByTime(msgs []*models.Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].CreatedAt.Before(msgs[j-1].CreatedAt); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// PromoteFewShot flags an assistant message as a curated example and
// writes it to the vector store. On a near-duplicate the existing example
// id is returned together with apperrors.ErrDuplicateExample.
func (q *QueryService) PromoteFewShot(ctx context.Context, messageID uuid.UUID) (string, error) {
	msg, err := q.sessions.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	if msg.Role != models.MessageRoleAssistant || msg.GeneratedSQL == "" {
		return "", fmt.Errorf("%w: message %s carries no generated SQL", apperrors.ErrInvalidInput, messageID)
	}

	question := msg.Content
	if msg.ParentID != nil {
		if parent, err := q.sessions.GetMessage(ctx, *msg.ParentID); err == nil && parent.Content != "" {
			question = parent.Content
		}
	}

	s, err := q.sessions.Get(ctx, msg.SessionID)
	if err != nil {
		return "", err
	}

	example := &models.FewShotExample{
		ID:         messageID.String(),
		DBName:     s.DBName,
		Question:   question,
		SQL:        msg.GeneratedSQL,
		TablesUsed: msg.TablesUsed,
		MessageID:  messageID.String(),
		CreatedAt:  time.Now().Unix(),
	}
	id, err := q.vectors.InsertFewShot(ctx, example)
	if err != nil {
		return id, err
	}

	if err := q.sessions.MarkAsFewShot(ctx, messageID); err != nil {
		return id, err
	}
	q.logger.Info("promoted message to few-shot example",
		zap.String("message_id", messageID.String()), zap.String("example_id", id))
	return id, nil
}
