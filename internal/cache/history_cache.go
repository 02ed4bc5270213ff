package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/model"
)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// HistoryCache keeps the most recent history window of a session, oldest first.
type HistoryCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewHistoryCache(client redis.Cmdable, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &HistoryCache{client: client, ttl: ttl}
}

func (c *HistoryCache) Get(ctx context.Context, sessionID string) ([]model.Message, bool, error) {
	raw, err := c.client.Get(ctx, historyKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history: %w", err)
	}
	var messages []model.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history: %w", err)
	}
	return messages, true, nil
}

func (c *HistoryCache) Set(ctx context.Context, sessionID string, messages []model.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := c.client.Set(ctx, historyKey(sessionID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set history: %w", err)
	}
	return nil
}

func (c *HistoryCache) Invalidate(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history: %w", err)
	}
	return nil
}

func historyKey(sessionID string) string {
	return "docchat:history:" + sessionID
}
