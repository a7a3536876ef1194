package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreGetMiss(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStoreSetWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStoreKeysWithPrefix(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"students:list:1", "students:list:2", "students:detail:9", "staff:list:1"} {
		require.NoError(t, mr.Set(key, "x"))
	}

	keys, err := store.KeysWithPrefix(ctx, "students:list:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"students:list:1", "students:list:2"}, keys)

	require.NoError(t, store.Del(ctx, keys...))
	assert.False(t, mr.Exists("students:list:1"))
	assert.True(t, mr.Exists("students:detail:9"))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `role\*:`, escapeGlob("role*:"))
	assert.Equal(t, `a\[b\]`, escapeGlob("a[b]"))
}
