package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type IdempResponse struct {
	Status      int
	ContentType string
	RequestHash string
	Result      []byte
}

// Get returns nil when nothing was stored under key.
func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get idempotent response")
	}
	var resp IdempResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrap(err, "decode idempotent response")
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return errors.Wrap(i.client.Set(ctx, "idemp:"+key, data, ttl).Err(), "store idempotent response")
}

// Claim marks key as being processed. It fails when another request holds it.
func (i *Idempotency) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, "idemp-lock:"+key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "claim idempotency key")
	}
	return ok, nil
}

func (i *Idempotency) Release(ctx context.Context, key string) error {
	return errors.Wrap(i.client.Del(ctx, "idemp-lock:"+key).Err(), "release idempotency key")
}
