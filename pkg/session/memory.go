package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// defaultMaxSessions caps the in-memory backend.
const defaultMaxSessions = 1000

// memoryStore keeps sessions in process memory. When the cap is reached
// the least-recently-updated session is evicted.
type memoryStore struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID]*models.Session
	messages    map[uuid.UUID]uuid.UUID // message id -> owning session
	maxSessions int
	logger      *zap.Logger
}

var _ Store = (*memoryStore)(nil)

// NewMemoryStore creates an in-memory session store. maxSessions <= 0
// falls back to the default cap of 1000.
func NewMemoryStore(maxSessions int, logger *zap.Logger) Store {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	return &memoryStore{
		sessions:    make(map[uuid.UUID]*models.Session),
		messages:    make(map[uuid.UUID]uuid.UUID),
		maxSessions: maxSessions,
		logger:      logger.Named("session"),
	}
}

func (m *memoryStore) Create(ctx context.Context, id uuid.UUID, dbName string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("%w: session %s already exists", apperrors.ErrConflict, id)
	}
	if len(m.sessions) >= m.maxSessions {
		m.evictOldestLocked()
	}

	now := time.Now().UTC()
	s := &models.Session{
		ID:        id,
		DBName:    dbName,
		Status:    models.SessionPending,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make(map[string]*models.Message),
	}
	m.sessions[id] = s
	return copySession(s), nil
}

// evictOldestLocked drops the session with the oldest updated_at.
func (m *memoryStore) evictOldestLocked() {
	var (
		oldestID uuid.UUID
		oldest   time.Time
		found    bool
	)
	for id, s := range m.sessions {
		if !found || s.UpdatedAt.Before(oldest) {
			oldestID, oldest, found = id, s.UpdatedAt, true
		}
	}
	if !found {
		return
	}
	m.dropLocked(oldestID)
	m.logger.Info("evicted least-recently-updated session", zap.String("session_id", oldestID.String()))
}

func (m *memoryStore) dropLocked(id uuid.UUID) {
	for msgID, owner := range m.messages {
		if owner == id {
			delete(m.messages, msgID)
		}
	}
	delete(m.sessions, id)
}

func (m *memoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	return copySession(s), nil
}

func (m *memoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	if !s.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: session %s cannot go %s -> %s", apperrors.ErrConflict, id, s.Status, status)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryStore) UpdateResult(ctx context.Context, id uuid.UUID, rawQuery, generatedSQL string, validationPassed *bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	if rawQuery != "" {
		s.RawQuery = rawQuery
		if s.Title == "" {
			s.Title = truncateTitle(rawQuery)
		}
	}
	s.GeneratedSQL = generatedSQL
	s.ValidationPassed = validationPassed
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryStore) SaveTurns(ctx context.Context, id uuid.UUID, turns []*models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}

	byTurnID := make(map[string]int, len(s.Turns))
	for i, t := range s.Turns {
		byTurnID[t.TurnID] = i
	}
	for _, t := range turns {
		copied := copyTurn(t)
		copied.SessionID = id
		if i, exists := byTurnID[t.TurnID]; exists {
			s.Turns[i] = copied
		} else {
			copied.Position = len(s.Turns)
			byTurnID[copied.TurnID] = len(s.Turns)
			s.Turns = append(s.Turns, copied)
		}
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryStore) AddMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[msg.SessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, msg.SessionID)
	}
	if msg.ParentID != nil {
		if _, ok := s.Messages[msg.ParentID.String()]; !ok {
			return fmt.Errorf("%w: parent message %s not in session", apperrors.ErrInvalidInput, msg.ParentID)
		}
	}

	copied := copyMessage(msg)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	s.Messages[copied.ID.String()] = copied
	m.messages[copied.ID] = msg.SessionID
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryStore) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionID, ok := m.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}
	msg := m.sessions[sessionID].Messages[messageID.String()]
	return copyMessage(msg), nil
}

func (m *memoryStore) MarkAsFewShot(ctx context.Context, messageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.messages[messageID]
	if !ok {
		return fmt.Errorf("%w: message %s", apperrors.ErrNotFound, messageID)
	}
	m.sessions[sessionID].Messages[messageID.String()].IsFewShot = true
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	m.dropLocked(id)
	return nil
}

func (m *memoryStore) ListAll(ctx context.Context, limit, offset int) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	out := make([]*models.Session, len(all))
	for i, s := range all {
		out[i] = copySession(s)
	}
	return out, nil
}

func (m *memoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func truncateTitle(q string) string {
	const maxTitle = 80
	runes := []rune(q)
	if len(runes) <= maxTitle {
		return q
	}
	return string(runes[:maxTitle])
}

func copySession(s *models.Session) *models.Session {
	out := *s
	out.Turns = make([]*models.Turn, len(s.Turns))
	for i, t := range s.Turns {
		out.Turns[i] = copyTurn(t)
	}
	out.Messages = make(map[string]*models.Message, len(s.Messages))
	for id, msg := range s.Messages {
		out.Messages[id] = copyMessage(msg)
	}
	return &out
}

func copyTurn(t *models.Turn) *models.Turn {
	out := *t
	out.Clarifications = make([]*models.Clarification, len(t.Clarifications))
	for i, c := range t.Clarifications {
		cc := *c
		cc.Questions = append([]string(nil), c.Questions...)
		if c.Answer != nil {
			answer := *c.Answer
			cc.Answer = &answer
		}
		out.Clarifications[i] = &cc
	}
	out.ChartPlan = append([]byte(nil), t.ChartPlan...)
	return &out
}

func copyMessage(msg *models.Message) *models.Message {
	out := *msg
	out.TablesUsed = append([]string(nil), msg.TablesUsed...)
	out.ClarificationQuestions = append([]string(nil), msg.ClarificationQuestions...)
	return &out
}
