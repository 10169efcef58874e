package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

// redisClient is the subset of redis.Cmdable the store needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps each watermark under "<prefix><pipeline id>" as a
// YYYY-MM-DD string without expiry.
type RedisStore struct {
	client redisClient
	prefix string
	loc    *time.Location
}

// NewRedisStore returns a store using client. An empty prefix defaults to
// "elt:watermark:".
func NewRedisStore(client redisClient, prefix string, loc *time.Location) *RedisStore {
	if prefix == "" {
		prefix = "elt:watermark:"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RedisStore{client: client, prefix: prefix, loc: loc}
}

func (s *RedisStore) key(pipelineID string) string {
	return s.prefix + pipelineID
}

func (s *RedisStore) Get(ctx context.Context, pipelineID string) (time.Time, error) {
	val, err := s.client.Get(ctx, s.key(pipelineID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, models.NewError(models.CodeNotInitialized, "get watermark", fmt.Errorf("pipeline %q", pipelineID))
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	return utils.ParseDate(val, s.loc)
}

func (s *RedisStore) Set(ctx context.Context, pipelineID string, cutoff time.Time) error {
	if err := s.client.Set(ctx, s.key(pipelineID), utils.FormatDate(cutoff.In(s.loc)), 0).Err(); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}
