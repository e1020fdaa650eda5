package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/refineflow/orchestrator/internal/state"
)

func sampleState(t *testing.T) state.ActivityState {
	t.Helper()
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	s, err := state.Merge(state.New("billing"), state.StateDelta{
		Summary:       "Moving invoices",
		OpenQuestions: []string{"Who owns the ledger API?"},
		Risks:         []string{"Vendor lock-in"},
	}, now)
	require.NoError(t, err)
	s, err = state.Merge(s, state.StateDelta{
		ResolvedAnswers: []state.ResolvedAnswer{{Question: "who owns the ledger api?", Answer: "Platform team"}},
	}, now.Add(time.Hour))
	require.NoError(t, err)
	return s
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "test:", 0, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStores(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	stores := map[string]StateStore{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}

	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.Load(ctx, "billing")
			assert.ErrorIs(t, err, ErrNotFound)

			fresh, err := LoadOrNew(ctx, st, "billing")
			require.NoError(t, err)
			assert.Equal(t, state.New("billing"), fresh)

			want := sampleState(t)
			require.NoError(t, st.Save(ctx, want))

			got, err := st.Load(ctx, "billing")
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			require.NoError(t, st.Delete(ctx, "billing"))
			_, err = st.Load(ctx, "billing")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.Error(t, st.Save(ctx, state.ActivityState{}))
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := sampleState(t)
	require.NoError(t, st.Save(ctx, s))

	s.Risks[0].Text = "mutated after save"
	got, err := st.Load(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "Vendor lock-in", got.Risks[0].Text)

	got.Risks[0].Text = "mutated after load"
	again, err := st.Load(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "Vendor lock-in", again.Risks[0].Text)
}

func TestRedisStoreKeyLayoutAndCorruption(t *testing.T) {
	st, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, sampleState(t)))
	assert.True(t, mr.Exists("test:state:billing"))

	require.NoError(t, mr.Set("test:state:broken", "{not json"))
	_, err := st.Load(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisStore(client, "ttl:", time.Hour, nil)
	defer st.Close()

	require.NoError(t, st.Save(context.Background(), sampleState(t)))
	assert.Equal(t, time.Hour, mr.TTL("ttl:state:billing"))
	require.NoError(t, st.Ping(context.Background()))
}
