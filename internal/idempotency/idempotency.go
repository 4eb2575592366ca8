// Package idempotency replays stored responses for repeated Idempotency-Key
// requests.
package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/busticket/internal/adapters/redis"
)

type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	RequestHash string
	Result      []byte
}

// Get returns the response stored for key, or nil.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	r, err := i.redis.Get(ctx, key)
	if err != nil || r == nil {
		return nil, err
	}
	return &Response{Status: r.Status, ContentType: r.ContentType, RequestHash: r.RequestHash, Result: r.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		RequestHash: resp.RequestHash,
		Result:      resp.Result,
	}, i.ttl)
}

// Claim reserves key while its first request is processed. The claim lapses
// on its own if the holder dies.
func (i *Idempotency) Claim(ctx context.Context, key string) (bool, error) {
	return i.redis.Claim(ctx, key, time.Minute)
}

func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.redis.Release(ctx, key)
}
