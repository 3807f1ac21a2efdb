package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
	"github.com/easysql-ai/easysql-engine/pkg/database"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// postgresStore persists sessions in easysql_sessions and the companion
// message and turn tables. Deletes cascade through the schema's FKs.
type postgresStore struct {
	db     *database.DB
	logger *zap.Logger
}

var _ Store = (*postgresStore)(nil)

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(db *database.DB, logger *zap.Logger) Store {
	return &postgresStore{db: db, logger: logger.Named("session")}
}

func (p *postgresStore) Create(ctx context.Context, id uuid.UUID, dbName string) (*models.Session, error) {
	var s models.Session
	err := p.db.QueryRow(ctx, `
		INSERT INTO easysql_sessions (id, db_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, db_name, status, created_at, updated_at`,
		id, nullable(dbName), models.SessionPending).
		Scan(&s.ID, &s.DBName, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.Messages = make(map[string]*models.Message)
	return &s, nil
}

func (p *postgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var (
		s         models.Session
		dbName    *string
		rawQuery  *string
		sql       *string
		title     *string
	)
	err := p.db.QueryRow(ctx, `
		SELECT id, db_name, status, created_at, updated_at, raw_query, generated_sql, validation_passed, title
		FROM easysql_sessions
		WHERE id = $1`, id).
		Scan(&s.ID, &dbName, &s.Status, &s.CreatedAt, &s.UpdatedAt, &rawQuery, &sql, &s.ValidationPassed, &title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	s.DBName = deref(dbName)
	s.RawQuery = deref(rawQuery)
	s.GeneratedSQL = deref(sql)
	s.Title = deref(title)

	if s.Turns, err = p.loadTurns(ctx, id); err != nil {
		return nil, err
	}
	if s.Messages, err = p.loadMessages(ctx, id); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *postgresStore) loadTurns(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, session_id, turn_id, question, status, final_sql, validation_passed,
		       error, chart_plan, chart_reasoning, position, created_at
		FROM easysql_turns
		WHERE session_id = $1
		ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var turns []*models.Turn
	byID := make(map[uuid.UUID]*models.Turn)
	for rows.Next() {
		var (
			t         models.Turn
			finalSQL  *string
			passed    *bool
			turnErr   *string
			reasoning *string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnID, &t.Question, &t.Status, &finalSQL,
			&passed, &turnErr, &t.ChartPlan, &reasoning, &t.Position, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.FinalSQL = deref(finalSQL)
		t.Error = deref(turnErr)
		t.ChartReasoning = deref(reasoning)
		if passed != nil {
			t.ValidationPassed = *passed
		}
		turns = append(turns, &t)
		byID[t.ID] = &t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	if len(turns) == 0 {
		return turns, nil
	}
	return turns, p.loadClarifications(ctx, sessionID, byID)
}

func (p *postgresStore) loadClarifications(ctx context.Context, sessionID uuid.UUID, turns map[uuid.UUID]*models.Turn) error {
	rows, err := p.db.Query(ctx, `
		SELECT c.id, c.turn_id, c.position, c.questions, c.answer, c.created_at
		FROM easysql_turn_clarifications c
		JOIN easysql_turns t ON t.id = c.turn_id
		WHERE t.session_id = $1
		ORDER BY c.turn_id, c.position`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load clarifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c      models.Clarification
			turnID uuid.UUID
		)
		if err := rows.Scan(&c.ID, &turnID, &c.Position, &c.Questions, &c.Answer, &c.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan clarification: %w", err)
		}
		if t := turns[turnID]; t != nil {
			t.Clarifications = append(t.Clarifications, &c)
		}
	}
	return rows.Err()
}

func (p *postgresStore) loadMessages(ctx context.Context, sessionID uuid.UUID) (map[string]*models.Message, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, session_id, parent_id, role, content, generated_sql, tables_used,
		       validation_passed, is_branch_point, checkpoint_id, token_count, created_at,
		       is_few_shot, user_answer, clarification_questions, thread_id, branch_id, root_message_id
		FROM easysql_messages
		WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := make(map[string]*models.Message)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages[msg.ID.String()] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

func (p *postgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current models.SessionStatus
	err = tx.QueryRow(ctx, `SELECT status FROM easysql_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read session status: %w", err)
	}
	if !current.CanTransitionTo(status) {
		return fmt.Errorf("%w: session %s cannot go %s -> %s", apperrors.ErrConflict, id, current, status)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE easysql_sessions SET status = $2, updated_at = NOW() WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *postgresStore) UpdateResult(ctx context.Context, id uuid.UUID, rawQuery, generatedSQL string, validationPassed *bool) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE easysql_sessions
		SET raw_query = COALESCE(NULLIF($2, ''), raw_query),
		    title = COALESCE(title, NULLIF(LEFT($2, 80), '')),
		    generated_sql = $3,
		    validation_passed = $4,
		    updated_at = NOW()
		WHERE id = $1`, id, rawQuery, nullable(generatedSQL), validationPassed)
	if err != nil {
		return fmt.Errorf("failed to update session result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (p *postgresStore) SaveTurns(ctx context.Context, id uuid.UUID, turns []*models.Turn) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range turns {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO easysql_turns
				(id, session_id, turn_id, question, status, final_sql, validation_passed,
				 error, chart_plan, chart_reasoning, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (session_id, turn_id) DO UPDATE
			SET question = EXCLUDED.question,
			    status = EXCLUDED.status,
			    final_sql = EXCLUDED.final_sql,
			    validation_passed = EXCLUDED.validation_passed,
			    error = EXCLUDED.error,
			    chart_plan = EXCLUDED.chart_plan,
			    chart_reasoning = EXCLUDED.chart_reasoning
			RETURNING id`,
			t.ID, id, t.TurnID, t.Question, t.Status, nullable(t.FinalSQL), t.ValidationPassed,
			nullable(t.Error), chartPlanJSON(t.ChartPlan), nullable(t.ChartReasoning), t.Position).
			Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("failed to save turn %s: %w", t.TurnID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM easysql_turn_clarifications WHERE turn_id = $1`, t.ID); err != nil {
			return fmt.Errorf("failed to clear clarifications: %w", err)
		}
		for i, c := range t.Clarifications {
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO easysql_turn_clarifications (id, turn_id, position, questions, answer)
				VALUES ($1, $2, $3, $4, $5)`,
				c.ID, t.ID, i, c.Questions, c.Answer); err != nil {
				return fmt.Errorf("failed to save clarification: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE easysql_sessions SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *postgresStore) AddMessage(ctx context.Context, msg *models.Message) error {
	questionsJSON, err := json.Marshal(msg.ClarificationQuestions)
	if err != nil {
		return fmt.Errorf("failed to marshal clarification questions: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO easysql_messages
			(id, session_id, parent_id, role, content, generated_sql, tables_used,
			 validation_passed, is_branch_point, checkpoint_id, token_count,
			 is_few_shot, user_answer, clarification_questions, thread_id, branch_id, root_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		msg.ID, msg.SessionID, msg.ParentID, msg.Role, msg.Content, nullable(msg.GeneratedSQL),
		msg.TablesUsed, msg.ValidationPassed, msg.IsBranchPoint, nullable(msg.CheckpointID),
		msg.TokenCount, msg.IsFewShot, nullable(msg.UserAnswer), questionsJSON,
		nullable(msg.ThreadID), msg.BranchID, msg.RootMessageID)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}

	if _, err := p.db.Exec(ctx, `UPDATE easysql_sessions SET updated_at = NOW() WHERE id = $1`, msg.SessionID); err != nil {
		p.logger.Warn("failed to touch session after message insert",
			zap.String("session_id", msg.SessionID.String()), zap.Error(err))
	}
	return nil
}

func (p *postgresStore) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, session_id, parent_id, role, content, generated_sql, tables_used,
		       validation_passed, is_branch_point, checkpoint_id, token_count, created_at,
		       is_few_shot, user_answer, clarification_questions, thread_id, branch_id, root_message_id
		FROM easysql_messages
		WHERE id = $1`, messageID)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}
	return msg, err
}

func (p *postgresStore) MarkAsFewShot(ctx context.Context, messageID uuid.UUID) error {
	tag, err := p.db.Exec(ctx, `UPDATE easysql_messages SET is_few_shot = TRUE WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message as few-shot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}
	return nil
}

func (p *postgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM easysql_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	return nil
}

func (p *postgresStore) ListAll(ctx context.Context, limit, offset int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx, `
		SELECT id, db_name, status, created_at, updated_at, raw_query, generated_sql, validation_passed, title
		FROM easysql_sessions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var (
			s        models.Session
			dbName   *string
			rawQuery *string
			sql      *string
			title    *string
		)
		if err := rows.Scan(&s.ID, &dbName, &s.Status, &s.CreatedAt, &s.UpdatedAt,
			&rawQuery, &sql, &s.ValidationPassed, &title); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.DBName = deref(dbName)
		s.RawQuery = deref(rawQuery)
		s.GeneratedSQL = deref(sql)
		s.Title = deref(title)
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return sessions, nil
}

func (p *postgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM easysql_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		msg           models.Message
		content       *string
		sql           *string
		checkpointID  *string
		userAnswer    *string
		questionsJSON []byte
		threadID      *string
	)
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.ParentID, &msg.Role, &content, &sql, &msg.TablesUsed,
		&msg.ValidationPassed, &msg.IsBranchPoint, &checkpointID, &msg.TokenCount, &msg.CreatedAt,
		&msg.IsFewShot, &userAnswer, &questionsJSON, &threadID, &msg.BranchID, &msg.RootMessageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Content = deref(content)
	msg.GeneratedSQL = deref(sql)
	msg.CheckpointID = deref(checkpointID)
	msg.UserAnswer = deref(userAnswer)
	msg.ThreadID = deref(threadID)
	if len(questionsJSON) > 0 {
		if err := json.Unmarshal(questionsJSON, &msg.ClarificationQuestions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal clarification questions: %w", err)
		}
	}
	return &msg, nil
}

func chartPlanJSON(plan []byte) any {
	if len(plan) == 0 {
		return nil
	}
	return plan
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
