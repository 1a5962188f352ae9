package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/slashauth/core"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds the caller's value
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX so every process sharing the
// Redis database contends for the same lock
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a new Redis locker
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "slashauth:lock:",
	}
}

// TryAcquire makes a single SET NX attempt
func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (core.LockToken, bool, error) {
	token := core.LockToken{Name: name, Value: uuid.NewString()}

	ok, err := l.client.SetNX(ctx, l.prefix+name, token.Value, ttl).Result()
	if err != nil {
		return core.LockToken{}, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return core.LockToken{}, false, nil
	}
	return token, true, nil
}

// Release deletes the lock key if the token still owns it
func (l *RedisLocker) Release(ctx context.Context, token core.LockToken) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + token.Name}, token.Value).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", token.Name, err)
	}
	return nil
}
