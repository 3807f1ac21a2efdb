// Package session stores query sessions, their turns and the message
// tree. Two backends implement the same contract: an in-memory store
// with an LRU cap and a Postgres store over the engine's schema.
package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// Store is the session persistence contract shared by both backends.
type Store interface {
	// Create registers a new session in status pending.
	Create(ctx context.Context, id uuid.UUID, dbName string) (*models.Session, error)
	// Get returns the session with its turns, clarifications and messages.
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// UpdateStatus applies a status change, rejecting illegal transitions.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error
	// UpdateResult records the latest question and generated SQL on the session.
	UpdateResult(ctx context.Context, id uuid.UUID, rawQuery, generatedSQL string, validationPassed *bool) error
	// SaveTurns upserts the given turns and their clarifications.
	SaveTurns(ctx context.Context, id uuid.UUID, turns []*models.Turn) error
	// AddMessage appends one node to the session's message tree.
	AddMessage(ctx context.Context, msg *models.Message) error
	// GetMessage looks a message up by id across all sessions.
	GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
	// MarkAsFewShot flags a message as a curated few-shot example.
	MarkAsFewShot(ctx context.Context, messageID uuid.UUID) error
	// Delete removes the session and everything hanging off it.
	Delete(ctx context.Context, id uuid.UUID) error
	// ListAll pages sessions ordered by most recently updated.
	ListAll(ctx context.Context, limit, offset int) ([]*models.Session, error)
	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)
}
