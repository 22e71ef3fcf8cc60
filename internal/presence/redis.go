package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
  if redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
  end
end

if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var releaseScript = redis.NewScript(`
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// RedisGuard enforces the endpoint cap across service instances. The slot TTL
// prevents leaked slots if a process dies without releasing.
type RedisGuard struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

func NewRedisGuard(ctx context.Context, addr string, limit int, ttl time.Duration) (*RedisGuard, error) {
	if addr == "" {
		return nil, fmt.Errorf("presence: redis addr is required")
	}
	if limit <= 0 {
		limit = 1
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("presence: redis ping failed: %w", err)
	}
	return &RedisGuard{client: client, limit: limit, ttl: ttl}, nil
}

func (g *RedisGuard) Acquire(ctx context.Context, workspaceID string) (bool, error) {
	if workspaceID == "" {
		return false, fmt.Errorf("presence: workspace id is required")
	}
	res, err := acquireScript.Run(ctx, g.client, []string{g.key(workspaceID)}, g.limit, g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (g *RedisGuard) Release(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return fmt.Errorf("presence: workspace id is required")
	}
	_, err := releaseScript.Run(ctx, g.client, []string{g.key(workspaceID)}).Result()
	return err
}

func (g *RedisGuard) Close() error { return g.client.Close() }

func (g *RedisGuard) key(workspaceID string) string {
	return "dialtone:endpoint:" + workspaceID
}
