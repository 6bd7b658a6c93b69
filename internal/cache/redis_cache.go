package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
)

const summariesKeyPrefix = "controlia:registers:"

type RedisRegisterCache struct {
	client *redis.Client
}

func NewRedisRegisterCache(addr string, password string, db int) *RedisRegisterCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRegisterCache{client: client}
}

func (c *RedisRegisterCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRegisterCache) Close() error {
	return c.client.Close()
}

func summariesKey(ownerID string) string {
	return summariesKeyPrefix + ownerID
}

func (c *RedisRegisterCache) GetSummaries(ctx context.Context, ownerID string) ([]domain.RegisterSummary, bool, error) {
	val, err := c.client.Get(ctx, summariesKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summaries []domain.RegisterSummary
	if err := json.Unmarshal(val, &summaries); err != nil {
		return nil, false, err
	}
	return summaries, true, nil
}

func (c *RedisRegisterCache) SetSummaries(ctx context.Context, ownerID string, summaries []domain.RegisterSummary, ttl time.Duration) error {
	if summaries == nil {
		summaries = []domain.RegisterSummary{}
	}
	payload, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summariesKey(ownerID), payload, ttl).Err()
}

func (c *RedisRegisterCache) Invalidate(ctx context.Context, ownerID string) error {
	return c.client.Del(ctx, summariesKey(ownerID)).Err()
}
