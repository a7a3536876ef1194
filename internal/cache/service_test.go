package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformcache "github.com/iers-platform/iers/internal/platform/cache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedisService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(platformcache.NewRedisStore(client), discardLogger(), "iers"), mr
}

type brokenStore struct {
	err error
}

func (b brokenStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, b.err }

func (b brokenStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return b.err
}

func (b brokenStore) Del(ctx context.Context, keys ...string) error { return b.err }

func (b brokenStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return nil, b.err
}

func TestGetOrSetPopulatesOnMissAndServesHit(t *testing.T) {
	svc, mr := newRedisService(t)
	ctx := context.Background()
	calls := 0
	fetch := func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	got, err := GetOrSet(ctx, svc, "role:HR:permissions", time.Hour, fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists("iers:role:HR:permissions"))
	assert.Equal(t, time.Hour, mr.TTL("iers:role:HR:permissions"))

	got, err = GetOrSet(ctx, svc, "role:HR:permissions", time.Hour, fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestGetOrSetDoesNotStoreNil(t *testing.T) {
	svc, mr := newRedisService(t)
	got, err := GetOrSet(context.Background(), svc, "missing", time.Minute, func(ctx context.Context) (*int, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("iers:missing"))
}

func TestGetOrSetPropagatesFetchError(t *testing.T) {
	svc, mr := newRedisService(t)
	boom := errors.New("db down")
	_, err := GetOrSet(context.Background(), svc, "k", time.Minute, func(ctx context.Context) ([]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("iers:k"))
}

func TestGetOrSetFallsBackWhenStoreBroken(t *testing.T) {
	svc := NewService(brokenStore{err: errors.New("connection refused")}, discardLogger(), "")
	got, err := GetOrSet(context.Background(), svc, "k", time.Minute, func(ctx context.Context) (map[string]int, error) {
		return map[string]int{"x": 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1}, got)
}

func TestGetOrSetFallsBackWhenRedisUnreachable(t *testing.T) {
	svc, mr := newRedisService(t)
	mr.Close()

	got, err := GetOrSet(context.Background(), svc, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}

func TestFetchJSONRecoversFromCorruptPayload(t *testing.T) {
	svc, mr := newRedisService(t)
	require.NoError(t, mr.Set("iers:k", "{not json"))

	var dest []string
	err := svc.FetchJSON(context.Background(), "k", time.Minute, &dest, func(ctx context.Context) (any, error) {
		return []string{"ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, dest)
	stored, _ := mr.Get("iers:k")
	assert.Equal(t, `["ok"]`, stored)
}

func TestNilServiceCallsLoader(t *testing.T) {
	var svc *Service
	got, err := GetOrSet(context.Background(), svc, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	svc, _ := newRedisService(t)
	ctx := context.Background()
	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	first, err := GetOrSet(ctx, svc, "counter", time.Hour, fetch)
	require.NoError(t, err)
	svc.Invalidate(ctx, "counter")
	second, err := GetOrSet(ctx, svc, "counter", time.Hour, fetch)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestInvalidatePatternRemovesOnlyMatchingKeys(t *testing.T) {
	svc, mr := newRedisService(t)
	for _, key := range []string{"iers:students:list:1", "iers:students:list:2", "iers:staff:list:1"} {
		require.NoError(t, mr.Set(key, "[]"))
	}

	svc.InvalidatePattern(context.Background(), "students:")

	assert.False(t, mr.Exists("iers:students:list:1"))
	assert.False(t, mr.Exists("iers:students:list:2"))
	assert.True(t, mr.Exists("iers:staff:list:1"))
}

func TestInvalidateSwallowsStoreErrors(t *testing.T) {
	svc := NewService(brokenStore{err: errors.New("down")}, discardLogger(), "")
	assert.NotPanics(t, func() {
		svc.Invalidate(context.Background(), "k")
		svc.InvalidatePattern(context.Background(), "k")
	})
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	svc, _ := newRedisService(t)
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrSet(context.Background(), svc, "hot", time.Minute, fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "v", v)
	}
	assert.LessOrEqual(t, calls.Load(), int32(len(results)))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
