package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMiniredisWrapper(t *testing.T, service string) (*RedisWrapper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWrapper(client, service, zaptest.NewLogger(t)), mr
}

func TestRedisWrapperCommands(t *testing.T) {
	rw, mr := newMiniredisWrapper(t, "wrapper-commands")
	ctx := context.Background()

	require.NoError(t, rw.Ping(ctx).Err())
	require.NoError(t, rw.Set(ctx, "state:a", "v1", time.Minute).Err())
	assert.Equal(t, time.Minute, mr.TTL("state:a"))

	got, err := rw.Get(ctx, "state:a").Result()
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	ok, err := rw.SetNX(ctx, "lease:a", "token-1", time.Minute).Result()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = rw.SetNX(ctx, "lease:a", "token-2", time.Minute).Result()
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := rw.Eval(ctx, "return redis.call('GET', KEYS[1])", []string{"lease:a"}).Result()
	require.NoError(t, err)
	assert.Equal(t, "token-1", val)

	n, err := rw.Del(ctx, "state:a", "missing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisWrapperNilIsNotFailure(t *testing.T) {
	rw, _ := newMiniredisWrapper(t, "wrapper-nil")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, rw.Get(ctx, "missing").Err(), redis.Nil)
	}
	assert.False(t, rw.IsCircuitBreakerOpen())
	assert.Zero(t, rw.cb.Counts().TotalFailures)
}

func TestRedisWrapperTripsWhenServerIsGone(t *testing.T) {
	rw, mr := newMiniredisWrapper(t, "wrapper-trip")
	ctx := context.Background()
	require.NoError(t, rw.Ping(ctx).Err())
	mr.Close()

	threshold := int(GetRedisConfig().FailureThreshold)
	for i := 0; i < threshold; i++ {
		assert.Error(t, rw.Ping(ctx).Err())
	}
	require.True(t, rw.IsCircuitBreakerOpen())

	// rejected calls still return a usable command carrying the error
	cmd := rw.Get(ctx, "any")
	assert.ErrorIs(t, cmd.Err(), ErrCircuitBreakerOpen)
	assert.Empty(t, cmd.Val())

	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(breakerState.WithLabelValues("redis", "wrapper-trip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerTransitions.WithLabelValues("redis", "wrapper-trip", "closed", "open")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(breakerRequests.WithLabelValues("redis", "wrapper-trip", "open", "failure")), 1.0)
}

func TestBreakerLookup(t *testing.T) {
	mc := NewMetricsCollector()
	cb := NewCircuitBreaker("openai", DefaultConfig(), nil)
	mc.RegisterCircuitBreaker("openai", "llm-lookup", cb)

	got, ok := mc.Breaker("openai", "llm-lookup")
	require.True(t, ok)
	assert.Same(t, cb, got)
	_, ok = mc.Breaker("openai", "other")
	assert.False(t, ok)
}
