package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetEventStats returns the cached statistics projection, or nil on a miss.
func (c *Cache) GetEventStats(ctx context.Context, eventID string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, "stats:"+eventID).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(val, dest)
}

func (c *Cache) SetEventStats(ctx context.Context, eventID string, stats any, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "stats:"+eventID, data, ttl).Err()
}

// InvalidateEventStats is called after every ledger mutation.
func (c *Cache) InvalidateEventStats(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, "stats:"+eventID).Err()
}
