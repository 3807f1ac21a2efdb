package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
	"github.com/easysql-ai/easysql-engine/pkg/database"
)

type postgresCheckpointer struct {
	db *database.DB
}

var _ Checkpointer = (*postgresCheckpointer)(nil)

// NewPostgresCheckpointer persists checkpoints in easysql_checkpoints so
// suspended clarifications survive a restart.
func NewPostgresCheckpointer(db *database.DB) Checkpointer {
	return &postgresCheckpointer{db: db}
}

func (p *postgresCheckpointer) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("%w: checkpoint requires a thread_id", apperrors.ErrInvalidInput)
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO easysql_checkpoints (thread_id, session_id, node, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (thread_id) DO UPDATE
		SET session_id = EXCLUDED.session_id,
		    node = EXCLUDED.node,
		    state = EXCLUDED.state,
		    updated_at = NOW()`,
		cp.ThreadID, cp.SessionID, cp.Node, stateJSON)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (p *postgresCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		stateJSON []byte
	)
	err := p.db.QueryRow(ctx, `
		SELECT thread_id, session_id, node, state, created_at, updated_at
		FROM easysql_checkpoints
		WHERE thread_id = $1`, threadID).
		Scan(&cp.ThreadID, &cp.SessionID, &cp.Node, &stateJSON, &cp.CreatedAt, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no checkpoint for thread %q", apperrors.ErrNoCheckpoint, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cp.State = &State{}
	if err := json.Unmarshal(stateJSON, cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	return &cp, nil
}

func (p *postgresCheckpointer) Delete(ctx context.Context, threadID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM easysql_checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
