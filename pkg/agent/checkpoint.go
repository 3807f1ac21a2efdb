package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
)

// Checkpoint is the persisted graph state at a suspension point. One
// checkpoint per thread; saving again overwrites.
type Checkpoint struct {
	ThreadID  string    `json:"thread_id"`
	SessionID uuid.UUID `json:"session_id"`
	Node      string    `json:"node"`
	State     *State    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpointer stores suspended graph state keyed by thread_id. The
// single-thread-per-session contract means no two writers race on one key.
type Checkpointer interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
}

type memoryCheckpointer struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

var _ Checkpointer = (*memoryCheckpointer)(nil)

// NewMemoryCheckpointer returns a process-local checkpoint store.
func NewMemoryCheckpointer() Checkpointer {
	return &memoryCheckpointer{checkpoints: make(map[string]*Checkpoint)}
}

func (m *memoryCheckpointer) Save(_ context.Context, cp *Checkpoint) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("%w: checkpoint requires a thread_id", apperrors.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	stored := *cp
	stored.UpdatedAt = now
	if existing, ok := m.checkpoints[cp.ThreadID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	m.checkpoints[cp.ThreadID] = &stored
	return nil
}

func (m *memoryCheckpointer) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: no checkpoint for thread %q", apperrors.ErrNoCheckpoint, threadID)
	}
	copied := *cp
	return &copied, nil
}

func (m *memoryCheckpointer) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, threadID)
	return nil
}
