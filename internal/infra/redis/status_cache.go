package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptStatus is the read-side shape served to client-side pollers.
type AttemptStatus struct {
	State         string `json:"state"`
	FailureReason string `json:"failureReason,omitempty"`
}

// StatusCache shields the attempts table from client poll traffic. TTL is
// short (seconds): a stale non-terminal state only delays the client by one
// cache window, and terminal states never change again.
type StatusCache struct {
	cli RedisClient
	ttl time.Duration
}

func NewStatusCache(cli RedisClient, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &StatusCache{cli: cli, ttl: ttl}
}

func key(attemptID string) string { return fmt.Sprintf("attempt:status:%s", attemptID) }

func (c *StatusCache) Get(ctx context.Context, attemptID string) (*AttemptStatus, bool) {
	val, err := c.cli.Get(ctx, key(attemptID))
	if err != nil {
		if err != redis.Nil {
			// degraded cache is not an error for the caller
		}
		return nil, false
	}
	var st AttemptStatus
	if json.Unmarshal([]byte(val), &st) != nil {
		return nil, false
	}
	return &st, true
}

func (c *StatusCache) Put(ctx context.Context, attemptID string, st AttemptStatus) {
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	_ = c.cli.Set(ctx, key(attemptID), b, c.ttl)
}

func (c *StatusCache) Evict(ctx context.Context, attemptID string) {
	_ = c.cli.Del(ctx, key(attemptID))
}
