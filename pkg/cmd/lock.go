package cmd

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/escalation"
)

const sweepLockKey = "approvals:escalation:sweep"

// NewSweepLock creates the cross-replica sweep lock from a redis URL. An
// empty URL returns a nil lock, which the sweeper treats as "no locking":
// fine for single-replica deployments.
func NewSweepLock(ctx context.Context, redisURL string, ttl time.Duration) (escalation.Lock, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return escalation.NewRedisLock(client, sweepLockKey, ttl), nil
}
