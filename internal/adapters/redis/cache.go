package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// releaseLock deletes a lock only while it still belongs to the caller.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// AcquirePayLock makes sure only one gateway replica confirms and captures a
// given purchase at a time.
func (c *Cache) AcquirePayLock(ctx context.Context, purchaseID, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, payLockKey(purchaseID), owner, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "acquire pay lock %s", purchaseID)
	}
	return ok, nil
}

func (c *Cache) ReleasePayLock(ctx context.Context, purchaseID, owner string) error {
	if err := releaseLock.Run(ctx, c.client, []string{payLockKey(purchaseID)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrapf(err, "release pay lock %s", purchaseID)
	}
	return nil
}

func payLockKey(purchaseID string) string {
	return "paylock:" + purchaseID
}
