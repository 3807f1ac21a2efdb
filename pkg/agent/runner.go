package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// Runner drives a compiled graph with checkpointed interrupt/resume. It is
// safe for concurrent use; per-thread serialization is the caller's
// contract.
type Runner struct {
	graph       *Graph
	checkpoints Checkpointer
	logger      *zap.Logger
}

func NewRunner(graph *Graph, checkpoints Checkpointer, logger *zap.Logger) *Runner {
	return &Runner{
		graph:       graph,
		checkpoints: checkpoints,
		logger:      logger.Named("runner"),
	}
}

// Result summarizes a finished run for the complete event and the caller.
type Result struct {
	GeneratedSQL     string   `json:"generated_sql,omitempty"`
	ValidationPassed *bool    `json:"validation_passed,omitempty"`
	ValidationError  string   `json:"validation_error,omitempty"`
	Tables           []string `json:"tables,omitempty"`
	RetryCount       int      `json:"retry_count"`
}

func resultOf(s *State) *Result {
	r := &Result{
		GeneratedSQL:     s.GeneratedSQL,
		ValidationPassed: s.ValidationPassed,
		RetryCount:       s.RetryCount,
	}
	if s.ValidationPassed != nil && !*s.ValidationPassed {
		r.ValidationError = s.ValidationResult
	}
	if s.Retrieval != nil {
		r.Tables = s.Retrieval.Tables
	}
	return r
}

// Run executes the graph from its entry for a fresh question. On interrupt
// the state is checkpointed under threadID and the interrupt returned; on
// completion any stale checkpoint for the thread is removed.
func (r *Runner) Run(ctx context.Context, threadID string, sessionID uuid.UUID, s *State, emit EmitFunc) (*Result, *Interrupt, error) {
	return r.runFrom(ctx, r.graph.Entry(), threadID, sessionID, s, emit)
}

// Resume continues a suspended thread with the user's answer injected at
// the suspended node.
func (r *Runner) Resume(ctx context.Context, threadID, answer string, emit EmitFunc) (*Result, *Interrupt, error) {
	cp, err := r.checkpoints.Load(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}

	cp.State.PendingAnswer = answer
	if !r.graph.HasNode(cp.Node) {
		return nil, nil, fmt.Errorf("checkpoint references unknown node %q", cp.Node)
	}

	r.logger.Info("resuming thread",
		zap.String("thread_id", threadID),
		zap.String("node", cp.Node))

	return r.runFrom(ctx, cp.Node, threadID, cp.SessionID, cp.State, emit)
}

func (r *Runner) runFrom(ctx context.Context, from, threadID string, sessionID uuid.UUID, s *State, emit EmitFunc) (*Result, *Interrupt, error) {
	intr, err := r.graph.run(ctx, from, s, emit)
	if err != nil {
		if emit != nil {
			emit(models.NewErrorEvent(err.Error()))
		}
		return nil, nil, err
	}

	if intr != nil {
		cp := &Checkpoint{
			ThreadID:  threadID,
			SessionID: sessionID,
			Node:      intr.Node,
			State:     s,
		}
		if err := r.checkpoints.Save(ctx, cp); err != nil {
			if emit != nil {
				emit(models.NewErrorEvent(err.Error()))
			}
			return nil, nil, fmt.Errorf("failed to checkpoint interrupted thread: %w", err)
		}
		r.logger.Info("thread suspended",
			zap.String("thread_id", threadID),
			zap.String("node", intr.Node),
			zap.Int("questions", len(intr.Questions)))
		return nil, intr, nil
	}

	if err := r.checkpoints.Delete(ctx, threadID); err != nil {
		r.logger.Warn("failed to delete checkpoint after completion",
			zap.String("thread_id", threadID), zap.Error(err))
	}

	result := resultOf(s)
	if emit != nil {
		emit(models.StreamEvent{Type: models.EventComplete, Data: result})
	}
	return result, nil, nil
}
