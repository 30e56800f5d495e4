package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/mkravets/studyroom-reservations/internal/adapters/redis"
)

// Idempotency caches POST responses by Idempotency-Key so retried requests
// (at-least-once delivery) replay the original outcome instead of re-running
// the operation.
type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	if key == "" {
		return nil, nil
	}
	cached, err := i.redis.Get(ctx, key)
	if err != nil || cached == nil {
		return nil, err
	}
	return &Response{Status: cached.Status, Result: cached.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if key == "" {
		return nil
	}
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}
