package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/circuitbreaker"
	"github.com/refineflow/orchestrator/internal/metrics"
)

const (
	DefaultTTL          = 2 * time.Minute
	defaultPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only if it still holds the caller's token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// extendScript renews the key's TTL only if it still holds the caller's token.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// RedisLocker grants leases shared across processes. A lease is a key
// holding a random token with a TTL, so a crashed holder cannot block an
// activity for longer than the TTL. Live holders renew it through Extend.
type RedisLocker struct {
	client       *circuitbreaker.RedisWrapper
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewRedisLocker creates a locker on client. Non-positive ttl selects
// DefaultTTL.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client:       circuitbreaker.NewRedisWrapper(client, "lease", logger),
		prefix:       prefix,
		ttl:          ttl,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

func (r *RedisLocker) key(activityID string) string {
	return r.prefix + "lease:" + activityID
}

func (r *RedisLocker) Acquire(ctx context.Context, activityID string) (Lease, error) {
	start := time.Now()
	token := uuid.NewString()
	key := r.key(activityID)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return Lease{}, ctx.Err()
			}
			return Lease{}, fmt.Errorf("acquire lease %s: %w", activityID, err)
		}
		if ok {
			metrics.LeaseWait.WithLabelValues("redis").Observe(time.Since(start).Seconds())
			r.logger.Debug("Lease acquired",
				zap.String("activity_id", activityID),
				zap.Duration("waited", time.Since(start)),
			)
			return Lease{ActivityID: activityID, Token: token, AcquiredAt: time.Now(), TTL: r.ttl}, nil
		}

		select {
		case <-ctx.Done():
			return Lease{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *RedisLocker) Extend(ctx context.Context, l Lease) error {
	n, err := r.client.Eval(ctx, extendScript, []string{r.key(l.ActivityID)}, l.Token, r.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("extend lease %s: %w", l.ActivityID, err)
	}
	if n == 0 {
		r.logger.Warn("Lease lost before renewal",
			zap.String("activity_id", l.ActivityID),
			zap.Duration("held", time.Since(l.AcquiredAt)),
		)
		return ErrNotHeld
	}
	return nil
}

func (r *RedisLocker) Release(ctx context.Context, l Lease) error {
	n, err := r.client.Eval(ctx, releaseScript, []string{r.key(l.ActivityID)}, l.Token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.ActivityID, err)
	}
	if n == 0 {
		r.logger.Warn("Lease expired before release",
			zap.String("activity_id", l.ActivityID),
			zap.Duration("held", time.Since(l.AcquiredAt)),
		)
		return ErrNotHeld
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
