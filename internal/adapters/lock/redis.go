package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock table shared by every instance. The key expires after ttl, which
// bounds how long a crashed holder can block a payment.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "travelpay:lock:"
	}
	return &Redis{client: client, prefix: trimmed, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key, holder string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, holder, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the key only while it still holds holder's token.
func (r *Redis) Release(ctx context.Context, key, holder string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, holder).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
