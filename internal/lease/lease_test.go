package lease

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go-redis v8 pool reaper
		goleak.IgnoreTopFunction("github.com/go-redis/redis/v8/internal/pool.(*ConnPool).reaper"),
	)
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLocker(client, "test:", ttl, zaptest.NewLogger(t))
	l.pollInterval = 5 * time.Millisecond
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func lockers(t *testing.T) map[string]Locker {
	r, _ := newRedisLocker(t, time.Minute)
	return map[string]Locker{
		"local": NewLocalLocker(),
		"redis": r,
	}
}

func TestMutualExclusion(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside int32
			g, ctx := errgroup.WithContext(context.Background())
			for i := 0; i < 8; i++ {
				g.Go(func() error {
					return With(ctx, locker, "billing", func(context.Context, Lease) error {
						n := atomic.AddInt32(&inside, 1)
						for {
							m := atomic.LoadInt32(&maxInside)
							if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
								break
							}
						}
						time.Sleep(2 * time.Millisecond)
						atomic.AddInt32(&inside, -1)
						return nil
					})
				})
			}
			require.NoError(t, g.Wait())
			assert.Equal(t, int32(1), maxInside)
		})
	}
}

func TestIndependentActivities(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := locker.Acquire(ctx, "billing")
			require.NoError(t, err)
			b, err := locker.Acquire(ctx, "onboarding")
			require.NoError(t, err)
			require.NoError(t, locker.Release(ctx, a))
			require.NoError(t, locker.Release(ctx, b))
		})
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			held, err := locker.Acquire(context.Background(), "billing")
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = locker.Acquire(ctx, "billing")
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			require.NoError(t, locker.Release(context.Background(), held))

			again, err := locker.Acquire(context.Background(), "billing")
			require.NoError(t, err)
			require.NoError(t, locker.Release(context.Background(), again))
		})
	}
}

func TestReleaseNotHeld(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l, err := locker.Acquire(ctx, "billing")
			require.NoError(t, err)
			require.NoError(t, locker.Release(ctx, l))
			assert.ErrorIs(t, locker.Release(ctx, l), ErrNotHeld)
			assert.ErrorIs(t, locker.Release(ctx, Lease{ActivityID: "never", Token: "x"}), ErrNotHeld)
		})
	}
}

func TestLocalLockerForgetsIdleSlots(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()
	l, err := locker.Acquire(ctx, "billing")
	require.NoError(t, err)
	require.NoError(t, locker.Release(ctx, l))
	assert.Empty(t, locker.slots)
}

func TestRedisLeaseExpiry(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, time.Second, mr.TTL("test:lease:billing"))

	mr.FastForward(2 * time.Second)

	second, err := locker.Acquire(ctx, "billing")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	// the expired holder must not delete the new holder's key
	assert.ErrorIs(t, locker.Release(ctx, first), ErrNotHeld)
	assert.True(t, mr.Exists("test:lease:billing"))
	require.NoError(t, locker.Release(ctx, second))
	assert.False(t, mr.Exists("test:lease:billing"))
}

func TestWithPropagatesError(t *testing.T) {
	locker := NewLocalLocker()
	boom := assert.AnError
	err := With(context.Background(), locker, "billing", func(context.Context, Lease) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, locker.slots)
}

func TestExtend(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l, err := locker.Acquire(ctx, "billing")
			require.NoError(t, err)
			require.NoError(t, locker.Extend(ctx, l))
			require.NoError(t, locker.Release(ctx, l))
			assert.ErrorIs(t, locker.Extend(ctx, l), ErrNotHeld)
		})
	}
}

func TestRedisExtendRenewsTTL(t *testing.T) {
	locker, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()

	l, err := locker.Acquire(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, time.Second, l.TTL)

	mr.FastForward(800 * time.Millisecond)
	require.NoError(t, locker.Extend(ctx, l))
	assert.Equal(t, time.Second, mr.TTL("test:lease:billing"))

	// another holder's key is left alone
	mr.Set("test:lease:billing", "intruder")
	assert.ErrorIs(t, locker.Extend(ctx, l), ErrNotHeld)
	got, _ := mr.Get("test:lease:billing")
	assert.Equal(t, "intruder", got)
}

func TestWithRenewsLongRunningHolder(t *testing.T) {
	locker, mr := newRedisLocker(t, 300*time.Millisecond)

	err := With(context.Background(), locker, "billing", func(ctx context.Context, l Lease) error {
		// 400ms of server time pass while the holder works
		for i := 0; i < 40; i++ {
			mr.FastForward(10 * time.Millisecond)
			time.Sleep(25 * time.Millisecond)
		}
		if !mr.Exists("test:lease:billing") {
			t.Error("lease expired while held")
		}
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:lease:billing"))
}

func TestWithCancelsWhenLeaseLost(t *testing.T) {
	locker, mr := newRedisLocker(t, 60*time.Millisecond)

	var cause error
	err := With(context.Background(), locker, "billing", func(ctx context.Context, l Lease) error {
		// the key expired and a second writer took it
		mr.Set("test:lease:billing", "intruder")
		select {
		case <-ctx.Done():
			cause = context.Cause(ctx)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("holder was not cancelled")
		}
	})
	assert.ErrorIs(t, err, ErrNotHeld)
	assert.ErrorIs(t, cause, ErrNotHeld)
	got, _ := mr.Get("test:lease:billing")
	assert.Equal(t, "intruder", got)
}
