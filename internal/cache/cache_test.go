package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/foresight/internal/kv"
	"github.com/abhisek/foresight/internal/logging"
)

type profile struct {
	Name    string  `json:"name"`
	Ability float64 `json:"ability"`
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	db, err := kv.Open(kv.InMemoryConfig(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]Backend{
		"memory": NewMemory(),
		"badger": NewBadger(db, "cache/"),
	}
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := New[profile]("profile", time.Hour, b)

			_, ok, err := c.Get(ctx, "ana")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Set(ctx, "ana", profile{Name: "Ana", Ability: 0.4}))
			got, ok, err := c.Get(ctx, "ana")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, profile{Name: "Ana", Ability: 0.4}, got)
		})
	}
}

func TestInvalidateLearnerDropsOnlyThatLearner(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := New[int]("performance", time.Hour, b)
			require.NoError(t, c.Set(ctx, "ana", 1))
			require.NoError(t, c.Set(ctx, Key("ana", "fractions"), 2))
			require.NoError(t, c.Set(ctx, Key("anabel", "fractions"), 3))

			require.NoError(t, c.InvalidateLearner(ctx, "ana"))

			_, ok, _ := c.Get(ctx, "ana")
			assert.False(t, ok)
			_, ok, _ = c.Get(ctx, Key("ana", "fractions"))
			assert.False(t, ok)
			v, ok, _ := c.Get(ctx, Key("anabel", "fractions"))
			assert.True(t, ok, "a learner whose id shares a prefix keeps its entries")
			assert.Equal(t, 3, v)
		})
	}
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()
	c := New[int]("behavior", time.Hour, NewMemory())

	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return calls * 10, nil
	}

	v, err := c.GetOrLoad(ctx, "ana", false, load)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = c.GetOrLoad(ctx, "ana", false, load)
	require.NoError(t, err)
	assert.Equal(t, 10, v, "second read is served from the cache")
	assert.Equal(t, 1, calls)

	v, err = c.GetOrLoad(ctx, "ana", true, load)
	require.NoError(t, err)
	assert.Equal(t, 20, v, "bypass reloads")

	v, _, _ = c.Get(ctx, "ana")
	assert.Equal(t, 20, v, "bypassed load refreshes the entry")

	boom := errors.New("upstream down")
	_, err = c.GetOrLoad(ctx, "ben", false, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok, _ := c.Get(ctx, "ben")
	assert.False(t, ok, "failed loads are not cached")
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Hour))

	now = now.Add(2 * time.Minute)
	_, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "c", []byte("3"), time.Second))
	now = now.Add(time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestExpiredReadKeepsRewrittenEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	require.NoError(t, m.Set(ctx, "a", []byte("old"), time.Minute))
	now = now.Add(2 * time.Minute)

	// A writer refreshes the key between the expired read and its cleanup.
	rewritten := false
	m.now = func() time.Time {
		if !rewritten {
			rewritten = true
			require.NoError(t, m.Set(ctx, "a", []byte("new"), time.Minute))
		}
		return now
	}
	_, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	require.True(t, rewritten)

	v, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok, "the fresh write survives the stale cleanup")
	assert.Equal(t, "new", string(v))
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := New[profile]("profile", time.Hour, m)
	require.NoError(t, m.Set(ctx, c.fullKey("ana"), []byte("{not json"), time.Hour))

	_, ok, err := c.Get(ctx, "ana")
	require.NoError(t, err)
	assert.False(t, ok)
}
