package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper routes the Redis commands used by the state store and the
// activity lease through one circuit breaker.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker. service
// labels the breaker metrics, e.g. "state-store" or "lease".
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := GetRedisConfig().ToConfig()
	config.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled)
	}
	cb := NewCircuitBreaker("redis", config, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", service, cb)

	return &RedisWrapper{
		client:  client,
		cb:      cb,
		service: service,
		logger:  logger,
	}
}

// runCmd issues a command through the breaker. When the breaker rejects
// the call, a fresh command carrying the rejection error is returned so
// callers always inspect cmd.Err().
func runCmd[C redis.Cmder](ctx context.Context, rw *RedisWrapper, issue func() C, rejected func(context.Context, ...interface{}) C) C {
	var result C
	issued := false
	err := rw.cb.Execute(ctx, func() error {
		result = issue()
		issued = true
		return result.Err()
	})

	success := err == nil || errors.Is(err, redis.Nil)
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), success)

	if !issued {
		result = rejected(ctx)
		result.SetErr(err)
	}
	return result
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	return runCmd(ctx, rw, func() *redis.StatusCmd { return rw.client.Ping(ctx) }, redis.NewStatusCmd)
}

// Get wraps Redis Get with circuit breaker. redis.Nil is not a failure.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	return runCmd(ctx, rw, func() *redis.StringCmd { return rw.client.Get(ctx, key) }, redis.NewStringCmd)
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return runCmd(ctx, rw, func() *redis.StatusCmd { return rw.client.Set(ctx, key, value, expiration) }, redis.NewStatusCmd)
}

// SetNX wraps Redis SetNX with circuit breaker
func (rw *RedisWrapper) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return runCmd(ctx, rw, func() *redis.BoolCmd { return rw.client.SetNX(ctx, key, value, expiration) }, redis.NewBoolCmd)
}

// Del wraps Redis Del with circuit breaker
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return runCmd(ctx, rw, func() *redis.IntCmd { return rw.client.Del(ctx, keys...) }, redis.NewIntCmd)
}

// Eval wraps Redis Eval with circuit breaker
func (rw *RedisWrapper) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return runCmd(ctx, rw, func() *redis.Cmd { return rw.client.Eval(ctx, script, keys, args...) }, redis.NewCmd)
}

// Close wraps Redis Close
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
