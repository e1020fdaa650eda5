package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/circuitbreaker"
	"github.com/refineflow/orchestrator/internal/metrics"
	"github.com/refineflow/orchestrator/internal/state"
)

// RedisStore keeps each ActivityState as a JSON value under
// <prefix>state:<activity id>. Calls go through a circuit breaker.
type RedisStore struct {
	client *circuitbreaker.RedisWrapper
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a store on client. ttl 0 keeps values forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: circuitbreaker.NewRedisWrapper(client, "state-store", logger),
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (r *RedisStore) key(activityID string) string {
	return r.prefix + "state:" + activityID
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Load(ctx context.Context, activityID string) (state.ActivityState, error) {
	data, err := r.client.Get(ctx, r.key(activityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.StateStoreOps.WithLabelValues("redis", "load", "miss").Inc()
		return state.ActivityState{}, ErrNotFound
	}
	if err != nil {
		metrics.StateStoreOps.WithLabelValues("redis", "load", "error").Inc()
		return state.ActivityState{}, fmt.Errorf("load state %s: %w", activityID, err)
	}

	var s state.ActivityState
	if err := json.Unmarshal(data, &s); err != nil {
		metrics.StateStoreOps.WithLabelValues("redis", "load", "error").Inc()
		r.logger.Error("Stored activity state is corrupt",
			zap.String("activity_id", activityID),
			zap.Error(err),
		)
		return state.ActivityState{}, fmt.Errorf("decode state %s: %w", activityID, err)
	}
	metrics.StateStoreOps.WithLabelValues("redis", "load", "ok").Inc()
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, s state.ActivityState) error {
	if s.ActivityID == "" {
		return errors.New("state has no activity id")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", s.ActivityID, err)
	}
	if err := r.client.Set(ctx, r.key(s.ActivityID), data, r.ttl).Err(); err != nil {
		metrics.StateStoreOps.WithLabelValues("redis", "save", "error").Inc()
		return fmt.Errorf("save state %s: %w", s.ActivityID, err)
	}
	metrics.StateStoreOps.WithLabelValues("redis", "save", "ok").Inc()
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, activityID string) error {
	if err := r.client.Del(ctx, r.key(activityID)).Err(); err != nil {
		return fmt.Errorf("delete state %s: %w", activityID, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
