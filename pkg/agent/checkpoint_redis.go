package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// checkpointCacheTTL bounds how long a suspended thread stays hot in Redis.
const checkpointCacheTTL = 24 * time.Hour

// cachedCheckpointer fronts a durable checkpointer with a Redis
// write-through cache. Cache failures degrade to the primary store.
type cachedCheckpointer struct {
	primary Checkpointer
	client  *redis.Client
	logger  *zap.Logger
}

var _ Checkpointer = (*cachedCheckpointer)(nil)

// NewCachedCheckpointer wraps primary with a Redis cache. A nil client
// returns the primary unchanged.
func NewCachedCheckpointer(primary Checkpointer, client *redis.Client, logger *zap.Logger) Checkpointer {
	if client == nil {
		return primary
	}
	return &cachedCheckpointer{
		primary: primary,
		client:  client,
		logger:  logger.Named("checkpoint_cache"),
	}
}

func checkpointKey(threadID string) string {
	return "easysql:checkpoint:" + threadID
}

func (c *cachedCheckpointer) Save(ctx context.Context, cp *Checkpoint) error {
	if err := c.primary.Save(ctx, cp); err != nil {
		return err
	}

	payload, err := json.Marshal(cp)
	if err != nil {
		c.logger.Warn("failed to encode checkpoint for cache", zap.String("thread_id", cp.ThreadID), zap.Error(err))
		return nil
	}
	if err := c.client.Set(ctx, checkpointKey(cp.ThreadID), payload, checkpointCacheTTL).Err(); err != nil {
		c.logger.Warn("failed to cache checkpoint", zap.String("thread_id", cp.ThreadID), zap.Error(err))
	}
	return nil
}

func (c *cachedCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	payload, err := c.client.Get(ctx, checkpointKey(threadID)).Bytes()
	if err == nil {
		var cp Checkpoint
		if err := json.Unmarshal(payload, &cp); err == nil {
			return &cp, nil
		}
		c.logger.Warn("discarding corrupt cached checkpoint", zap.String("thread_id", threadID))
	}
	return c.primary.Load(ctx, threadID)
}

func (c *cachedCheckpointer) Delete(ctx context.Context, threadID string) error {
	if err := c.client.Del(ctx, checkpointKey(threadID)).Err(); err != nil {
		c.logger.Warn("failed to evict cached checkpoint", zap.String("thread_id", threadID), zap.Error(err))
	}
	return c.primary.Delete(ctx, threadID)
}
