// Package redis provides a Redis-backed implementation of
// ratelimit.Limiter so the in-memory table can be swapped for a
// shared counter in a multi-instance deployment, per the pluggability
// design note in spec section 9. Command usage follows the go-redis/v9
// conventions seen in SharedCode-sop and Pyh2002-GopherAI-Resume.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hr-knowledge-base/rag-core/internal/clock"
	"github.com/hr-knowledge-base/rag-core/internal/ratelimit"
)

// Limiter implements ratelimit.Limiter using a per-key sorted set:
// ZADD to record the request time, ZREMRANGEBYSCORE to prune entries
// older than the window, ZCARD to count what remains.
type Limiter struct {
	client *redis.Client
	clock  clock.Clock
	window time.Duration
	policy map[ratelimit.Endpoint]int
}

// New builds a Redis-backed limiter against an already-connected client.
func New(client *redis.Client) *Limiter {
	return &Limiter{
		client: client,
		clock:  clock.Real{},
		window: ratelimit.Window,
		policy: ratelimit.Policy,
	}
}

func (l *Limiter) Allow(endpoint ratelimit.Endpoint, token string) ratelimit.Result {
	max, ok := l.policy[endpoint]
	if !ok {
		return ratelimit.Result{Allowed: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%s", endpoint, token)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	_, err := pipe.Exec(ctx)
	if err != nil {
		// Fail open would violate the rate limit contract under a
		// Redis outage; fail closed instead: the request is rejected
		// like any other over-limit request (429, retry after 1s)
		// rather than silently granted unlimited access.
		return ratelimit.Result{Allowed: false, RetryAfterSeconds: 1}
	}

	count, _ := countCmd.Result()
	if count >= int64(max) {
		oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		retryAfter := int64(1)
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			retryAfter = ceilSeconds(oldestTime.Add(l.window).Sub(now))
		}
		return ratelimit.Result{Allowed: false, RetryAfterSeconds: retryAfter}
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	pipe = l.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Result{Allowed: false, RetryAfterSeconds: 1}
	}

	return ratelimit.Result{Allowed: true, Remaining: max - int(count) - 1}
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int64(secs)
}
