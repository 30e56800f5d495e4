package redis

import (
	"context"
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

// AcquireSeatLock takes a short cross-process creation lock on a seat so two
// API instances funnel their booking attempts through one index at a time.
// The in-process index remains the authority; the lock only narrows the race.
func (c *Cache) AcquireSeatLock(ctx context.Context, seatID, owner string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "seatlock:"+seatID, owner, ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseSeatLock(ctx context.Context, seatID string) error {
	return c.client.Del(ctx, "seatlock:"+seatID).Err()
}
